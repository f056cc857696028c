package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/peterh/liner"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var replCmd = &cobra.Command{
	Use:   "repl",
	Short: "Interactive BiDi session",
	Long: `Opens one connection and reads commands interactively. A line is either a
bidictl command (status, navigate, listen...) run over the shared connection,
or a raw BiDi command written as "method {params}":

  bidictl> browsingContext.getTree
  bidictl> script.evaluate {"expression":"1+1","target":{"context":"abc"},"awaitPromise":false}`,
	Args: cobra.NoArgs,
	RunE: runRepl,
}

func init() {
	rootCmd.AddCommand(replCmd)
}

// errNestedREPL is returned when repl is run from inside a REPL.
var errNestedREPL = errors.New("already in a repl")

func runRepl(cmd *cobra.Command, args []string) error {
	if replClient != nil {
		return outputError(errNestedREPL.Error())
	}
	if !IsStdinTTY() {
		debugf("stdin is not a terminal")
	}

	return withClient(cmd.Context(), func(ctx context.Context, c *Client) error {
		replClient = c
		defer func() { replClient = nil }()

		r := NewREPL(c.ID(), ExecuteArgs, func(method string, params json.RawMessage) error {
			return sendRaw(ctx, c, method, params)
		})
		return r.Run()
	})
}

// RawSender sends a raw BiDi command.
type RawSender func(method string, params json.RawMessage) error

// REPL provides an interactive command interface over one connection.
type REPL struct {
	id      string
	cmdExec func(args []string) (bool, error)
	send    RawSender
	out     io.Writer
	liner   *liner.State
	history []string
}

// NewREPL creates a REPL. cmdExec runs bidictl commands; send runs raw
// BiDi commands.
func NewREPL(id string, cmdExec func(args []string) (bool, error), send RawSender) *REPL {
	return &REPL{
		id:      id,
		cmdExec: cmdExec,
		send:    send,
		out:     os.Stdout,
	}
}

// IsStdinTTY returns true if stdin is a terminal.
func IsStdinTTY() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}

// Run starts the REPL loop. Blocks until exit command or EOF.
func (r *REPL) Run() error {
	r.liner = liner.NewLiner()
	defer r.liner.Close()

	r.liner.SetCtrlCAborts(true)

	for {
		line, err := r.liner.Prompt(r.prompt())
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		r.liner.AppendHistory(line)

		if r.handleLine(line) {
			return nil
		}
	}
}

// prompt shows the first eight characters of the connection ID.
func (r *REPL) prompt() string {
	if r.id == "" {
		return "bidictl> "
	}
	id := r.id
	if len(id) > 8 {
		id = id[:8]
	}
	return fmt.Sprintf("bidictl [%s]> ", id)
}

// replCommands lists REPL-specific commands for abbreviation matching.
var replCommands = []string{"exit", "quit", "help", "history"}

// expandAbbreviation expands a command prefix to a full command name.
// Returns the expanded command and true if exactly one match found.
func expandAbbreviation(prefix string, commands []string) (string, bool) {
	prefix = strings.ToLower(prefix)
	var matches []string
	for _, cmd := range commands {
		if strings.HasPrefix(cmd, prefix) {
			matches = append(matches, cmd)
		}
	}
	if len(matches) == 1 {
		return matches[0], true
	}
	return "", false
}

// handleLine runs one line of input. Returns true when the REPL should exit.
func (r *REPL) handleLine(line string) bool {
	r.history = append(r.history, line)

	parts := strings.Fields(line)
	name := strings.ToLower(parts[0])
	if expanded, ok := expandAbbreviation(name, replCommands); ok && !strings.Contains(name, ".") {
		name = expanded
	}

	switch name {
	case "exit", "quit":
		return true
	case "help", "?":
		r.printHelp()
		return false
	case "history":
		r.printHistory()
		return false
	}

	// Raw BiDi methods are module.command; bidictl commands never contain a dot.
	if strings.Contains(parts[0], ".") {
		r.sendRaw(parts[0], strings.TrimSpace(strings.TrimPrefix(line, parts[0])))
		return false
	}

	if expanded := tryExpandCommand(parts[0]); expanded != "" {
		parts[0] = expanded
	}
	recognized, err := r.cmdExec(parts)
	if !recognized {
		_ = outputError(fmt.Sprintf("unknown command: %s", parts[0]))
		return false
	}
	// Command handlers print their own errors; cobra flag errors are not.
	if err != nil && !IsPrintedError(err) {
		_ = outputError(err.Error())
	}
	return false
}

func (r *REPL) sendRaw(method, rawParams string) {
	params, err := parseParams(rawParams)
	if err != nil {
		_ = outputError(err.Error())
		return
	}
	// sendRaw reports its own failures.
	_ = r.send(method, params)
}

func (r *REPL) printHelp() {
	fmt.Fprintln(r.out, `Commands:
  <module.command> [params-json]  Send a raw BiDi command
  status, contexts, navigate ...  Run a bidictl command on this connection
  history                         Show entered lines
  help                            Show this help
  exit, quit                      Leave the REPL`)
}

func (r *REPL) printHistory() {
	for i, line := range r.history {
		fmt.Fprintf(r.out, "%4d  %s\n", i+1, line)
	}
}
