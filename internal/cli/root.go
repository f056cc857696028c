package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/grantcarthew/bidictl/internal/cli/format"
	"github.com/grantcarthew/bidictl/internal/config"
)

// Version is set at build time.
var Version = "dev"

// Debug enables verbose debug output.
var Debug bool

// JSONOutput enables JSON output format (default is text).
var JSONOutput bool

// NoColor disables color output.
var NoColor bool

// ConfigPath is the YAML config file.
var ConfigPath string

// URL overrides the configured remote end URL.
var URL string

// Timeout overrides the configured command timeout.
var Timeout time.Duration

var rootCmd = &cobra.Command{
	Use:           "bidictl",
	Short:         "WebDriver BiDi client",
	Long:          "bidictl sends WebDriver BiDi commands to a browser and streams its events. With no URL configured it launches Firefox with the remote agent enabled.",
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&ConfigPath, "config", config.DefaultPath, "Config file")
	rootCmd.PersistentFlags().StringVar(&URL, "url", "", "Remote end WebSocket URL (ws://host:port/session)")
	rootCmd.PersistentFlags().DurationVar(&Timeout, "timeout", 0, "Command timeout (default from config)")
	rootCmd.PersistentFlags().BoolVar(&Debug, "debug", false, "Enable verbose debug output")
	rootCmd.PersistentFlags().BoolVar(&JSONOutput, "json", false, "Output in JSON format (default is text)")
	rootCmd.PersistentFlags().BoolVar(&NoColor, "no-color", false, "Disable color output")
	rootCmd.SetVersionTemplate(`bidictl version {{.Version}}
`)
	cobra.OnInitialize(func() {
		if NoColor {
			color.NoColor = true
		}
	})
}

// debugf logs a debug message if debug mode is enabled.
func debugf(format string, args ...any) {
	if Debug {
		fmt.Fprintf(os.Stderr, "[DEBUG] "+format+"\n", args...)
	}
}

// loadConfig reads the config file and .env, then applies flag overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(ConfigPath, ".env")
	if err != nil {
		return nil, err
	}
	if URL != "" {
		cfg.URL = URL
	}
	if Timeout > 0 {
		cfg.CommandTimeout = Timeout
	}
	if Debug {
		cfg.LogLevel = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	debugf("config: url=%q command_timeout=%s log_level=%s", cfg.URL, cfg.CommandTimeout, cfg.LogLevel)
	return cfg, nil
}

// newLogger returns a text logger on stderr at the configured level.
func newLogger(cfg *config.Config) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
}

// Execute runs the root command.
// Supports command abbreviation via unique prefix matching.
func Execute() error {
	args := os.Args[1:]
	if len(args) > 0 {
		if expanded := tryExpandCommand(args[0]); expanded != "" {
			args[0] = expanded
			rootCmd.SetArgs(args)
		}
	}
	return rootCmd.Execute()
}

// tryExpandCommand attempts to expand a command abbreviation.
// Returns the expanded command if exactly one match is found, empty string otherwise.
func tryExpandCommand(prefix string) string {
	var matches []string
	for _, cmd := range rootCmd.Commands() {
		name := cmd.Name()
		if name == prefix {
			return ""
		}
		if strings.HasPrefix(name, prefix) {
			matches = append(matches, name)
		}
	}

	if len(matches) == 1 {
		return matches[0]
	}
	return ""
}

// ExecuteArgs runs a command with the given arguments.
// Used by the REPL to execute commands parsed from user input.
// Returns true if the command was recognized (even if it failed), false if unknown.
func ExecuteArgs(args []string) (recognized bool, err error) {
	if len(args) == 0 {
		return false, nil
	}

	cmd, _, findErr := rootCmd.Find(args)
	if findErr != nil || cmd == rootCmd {
		return false, nil
	}

	rootCmd.SetArgs(args)
	err = rootCmd.Execute()

	// Flags keep their parsed values between Execute calls; reset them so
	// the next REPL line starts from defaults.
	resetFlags := func(flags *pflag.FlagSet) {
		flags.VisitAll(func(f *pflag.Flag) {
			// Set("[]") on a slice flag would add a literal "[]" element.
			defVal := f.DefValue
			if defVal == "[]" {
				defVal = ""
			}
			_ = f.Value.Set(defVal)
			f.Changed = false
		})
	}

	resetFlags(cmd.Flags())
	resetFlags(cmd.PersistentFlags())
	for parent := cmd.Parent(); parent != nil; parent = parent.Parent() {
		resetFlags(parent.PersistentFlags())
	}

	return true, err
}

// isStdoutTTY returns true if stdout is a terminal.
func isStdoutTTY() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// outputJSON writes a JSON response to the given writer.
// Pretty prints if stdout is a TTY, compact otherwise.
func outputJSON(w io.Writer, data any) error {
	enc := json.NewEncoder(w)
	if isStdoutTTY() {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(data)
}

// outputOptions returns the text formatting options for the current flags.
func outputOptions() format.OutputOptions {
	return format.NewOutputOptions(JSONOutput, NoColor)
}

// outputSuccess writes a successful response to stdout.
// In JSON mode data is wrapped as {"ok":true,"data":...}. In text mode a nil
// data prints "OK" and anything else is handed to text.
func outputSuccess(data any, text func(w io.Writer) error) error {
	if JSONOutput {
		resp := map[string]any{
			"ok": true,
		}
		if data != nil {
			resp["data"] = data
		}
		return outputJSON(os.Stdout, resp)
	}

	if text == nil {
		return format.ActionSuccess(os.Stdout, outputOptions())
	}
	return text(os.Stdout)
}

// printedError is an error already reported to the user.
type printedError struct {
	msg string
}

func (e *printedError) Error() string {
	return e.msg
}

// IsPrintedError reports whether err was already written to stderr.
func IsPrintedError(err error) bool {
	var p *printedError
	return errors.As(err, &p)
}

// outputError writes an error response to stderr and returns an error.
// Uses text format by default, JSON if --json flag is set.
func outputError(msg string) error {
	if JSONOutput {
		resp := map[string]any{
			"ok":    false,
			"error": msg,
		}
		_ = outputJSON(os.Stderr, resp)
	} else {
		_ = format.ActionError(os.Stderr, msg, format.OutputOptions{UseColor: shouldUseColor()})
	}
	return &printedError{msg: msg}
}

// shouldUseColor determines if color output should be used on stderr.
func shouldUseColor() bool {
	if JSONOutput || NoColor {
		return false
	}
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	return term.IsTerminal(int(os.Stderr.Fd()))
}
