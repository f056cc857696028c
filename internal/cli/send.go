package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/grantcarthew/bidictl/internal/cli/format"
	"github.com/grantcarthew/bidictl/internal/protocol"
)

var sendCmd = &cobra.Command{
	Use:   "send <method> [params-json]",
	Short: "Send a raw BiDi command",
	Long: `Sends any WebDriver BiDi command and prints its result.

Params must be a JSON object and default to {}. Remaining arguments are joined,
so shell quoting of the JSON is optional:

  bidictl send browsingContext.getTree
  bidictl send browsingContext.navigate '{"context":"abc","url":"https://example.com"}'`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSend,
}

func init() {
	rootCmd.AddCommand(sendCmd)
}

// parseParams returns the JSON object in raw, or nil for an empty string.
func parseParams(raw string) (json.RawMessage, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(raw), &obj); err != nil {
		return nil, fmt.Errorf("params must be a JSON object: %w", err)
	}
	return json.RawMessage(raw), nil
}

func runSend(cmd *cobra.Command, args []string) error {
	method := args[0]
	params, err := parseParams(strings.Join(args[1:], " "))
	if err != nil {
		return outputError(err.Error())
	}

	return withClient(cmd.Context(), func(ctx context.Context, c *Client) error {
		return sendRaw(ctx, c, method, params)
	})
}

// sendRaw executes method and prints the decoded result.
func sendRaw(ctx context.Context, c *Client, method string, params json.RawMessage) error {
	var p any
	if params != nil {
		p = params
	}
	debugf("send %s %s", method, params)

	result, err := c.Driver.ExecuteCommand(ctx, protocol.NewCommand(method, p), 0)
	if err != nil {
		return outputError(err.Error())
	}

	success, ok := result.(*protocol.SuccessResult)
	if !ok {
		return outputError(fmt.Sprintf("unexpected result %T", result))
	}
	return outputSuccess(success.Value, func(w io.Writer) error {
		return format.Value(w, success.Value)
	})
}
