package format

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"golang.org/x/term"

	"github.com/grantcarthew/bidictl/internal/driver/browsingcontext"
	bidilog "github.com/grantcarthew/bidictl/internal/driver/log"
	"github.com/grantcarthew/bidictl/internal/driver/network"
	"github.com/grantcarthew/bidictl/internal/driver/script"
	"github.com/grantcarthew/bidictl/internal/driver/session"
)

// Color helper functions that respect color.NoColor flag
func colorFprint(w io.Writer, c color.Attribute, s string) {
	color.New(c).Fprint(w, s)
}

func colorFprintf(w io.Writer, c color.Attribute, format string, args ...any) {
	color.New(c).Fprintf(w, format, args...)
}

// OutputOptions controls text formatting behavior.
type OutputOptions struct {
	UseColor bool // Enable ANSI color codes
}

// NewOutputOptions returns output options based on flags and environment.
// Priority: jsonOutput > noColorFlag > NO_COLOR env > TTY detection.
func NewOutputOptions(jsonOutput bool, noColorFlag bool) OutputOptions {
	if jsonOutput || noColorFlag {
		return OutputOptions{UseColor: false}
	}

	if os.Getenv("NO_COLOR") != "" {
		return OutputOptions{UseColor: false}
	}

	return OutputOptions{
		UseColor: term.IsTerminal(int(os.Stdout.Fd())),
	}
}

// ActionSuccess outputs "OK" for successful action commands.
func ActionSuccess(w io.Writer, opts OutputOptions) error {
	if opts.UseColor {
		colorFprint(w, color.FgGreen, "OK\n")
		return nil
	}
	_, err := fmt.Fprintln(w, "OK")
	return err
}

// ActionError outputs "Error: <message>" for failed action commands.
func ActionError(w io.Writer, msg string, opts OutputOptions) error {
	if opts.UseColor {
		colorFprint(w, color.FgRed, "Error:")
		fmt.Fprintf(w, " %s\n", msg)
	} else {
		fmt.Fprintf(w, "Error: %s\n", msg)
	}
	return nil
}

// Status outputs the remote end readiness.
func Status(w io.Writer, data session.StatusResult, opts OutputOptions) error {
	label := "Not ready"
	c := color.FgYellow
	if data.Ready {
		label = "Ready"
		c = color.FgGreen
	}

	if opts.UseColor {
		colorFprint(w, c, label)
	} else {
		fmt.Fprint(w, label)
	}
	if data.Message != "" {
		fmt.Fprintf(w, " (%s)", data.Message)
	}
	fmt.Fprintln(w)
	return nil
}

// Contexts outputs a browsing context tree, children indented below their
// parent.
func Contexts(w io.Writer, contexts []browsingcontext.Info, opts OutputOptions) error {
	var walk func(infos []browsingcontext.Info, depth int)
	walk = func(infos []browsingcontext.Info, depth int) {
		for _, info := range infos {
			fmt.Fprint(w, strings.Repeat("  ", depth))
			if opts.UseColor {
				colorFprint(w, color.FgCyan, info.Context)
			} else {
				fmt.Fprint(w, info.Context)
			}
			fmt.Fprintf(w, " %s\n", info.URL)
			walk(info.Children, depth+1)
		}
	}
	walk(contexts, 0)
	return nil
}

// Navigation outputs the URL a context navigated to.
func Navigation(w io.Writer, data browsingcontext.NavigateResult) error {
	_, err := fmt.Fprintln(w, data.URL)
	return err
}

// LogEntry outputs a log entry as "[HH:MM:SS] LEVEL text".
func LogEntry(w io.Writer, e bidilog.Entry, opts OutputOptions) error {
	timestamp := formatTimestamp(e.Timestamp)
	level := strings.ToUpper(e.Level)
	text := ""
	if e.Text != nil {
		text = *e.Text
	}

	if opts.UseColor {
		fmt.Fprint(w, "[")
		colorFprint(w, color.Faint, timestamp)
		fmt.Fprint(w, "] ")

		switch strings.ToLower(e.Level) {
		case "error":
			colorFprint(w, color.FgRed, level)
		case "warn":
			colorFprint(w, color.FgYellow, level)
		case "info":
			colorFprint(w, color.FgCyan, level)
		default:
			fmt.Fprint(w, level)
		}
		fmt.Fprintf(w, " %s\n", text)
	} else {
		fmt.Fprintf(w, "[%s] %s %s\n", timestamp, level, text)
	}
	return nil
}

// Response outputs a completed network response as
// "METHOD URL STATUS SIZE".
func Response(w io.Writer, p network.ResponseCompletedParameters, opts OutputOptions) error {
	method := p.Request.Method
	status := p.Response.Status

	if !opts.UseColor {
		_, err := fmt.Fprintf(w, "%s %s %d %dB\n", method, p.Request.URL, status, p.Response.BytesReceived)
		return err
	}

	switch method {
	case "GET":
		colorFprint(w, color.FgGreen, method)
	case "POST":
		colorFprint(w, color.FgBlue, method)
	case "PUT", "PATCH":
		colorFprint(w, color.FgYellow, method)
	case "DELETE":
		colorFprint(w, color.FgRed, method)
	default:
		fmt.Fprint(w, method)
	}

	fmt.Fprintf(w, " %s ", p.Request.URL)

	switch {
	case status >= 200 && status < 300:
		colorFprintf(w, color.FgGreen, "%d", status)
	case status >= 300 && status < 400:
		colorFprintf(w, color.FgCyan, "%d", status)
	case status >= 400 && status < 500:
		colorFprintf(w, color.FgYellow, "%d", status)
	case status >= 500:
		colorFprintf(w, color.FgRed, "%d", status)
	default:
		fmt.Fprintf(w, "%d", status)
	}

	fmt.Fprintf(w, " %dB\n", p.Response.BytesReceived)
	return nil
}

// Event outputs an event name followed by its compact JSON params.
func Event(w io.Writer, name string, params any, opts OutputOptions) error {
	data, err := json.Marshal(params)
	if err != nil {
		return err
	}
	if opts.UseColor {
		colorFprint(w, color.FgCyan, name)
		fmt.Fprintf(w, " %s\n", data)
		return nil
	}
	_, err = fmt.Fprintf(w, "%s %s\n", name, data)
	return err
}

// Value outputs a command result: strings raw, objects and arrays as
// compact JSON, anything else with %v.
func Value(w io.Writer, v any) error {
	switch v := v.(type) {
	case nil:
		_, err := fmt.Fprintln(w, "null")
		return err
	case string:
		_, err := fmt.Fprintln(w, v)
		return err
	case map[string]any, []any:
		data, err := json.Marshal(v)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(data))
		return err
	default:
		_, err := fmt.Fprintf(w, "%v\n", v)
		return err
	}
}

// RemoteValue outputs a script result the way Value does. Undefined prints
// "undefined".
func RemoteValue(w io.Writer, v *script.RemoteValue) error {
	if v == nil || v.Type == "undefined" {
		_, err := fmt.Fprintln(w, "undefined")
		return err
	}
	if v.Type == "null" {
		return Value(w, nil)
	}
	if v.Value == nil {
		_, err := fmt.Fprintf(w, "[%s]\n", v.Type)
		return err
	}
	return Value(w, v.Value)
}

func formatTimestamp(ms uint64) string {
	return time.UnixMilli(int64(ms)).Local().Format("15:04:05")
}
