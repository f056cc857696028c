package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/grantcarthew/bidictl/internal/cli/format"
	"github.com/grantcarthew/bidictl/internal/driver/browsingcontext"
)

var navigateCmd = &cobra.Command{
	Use:   "navigate [context] <url>",
	Short: "Navigate a browsing context to URL",
	Long:  "Navigates a browsing context to the specified URL. Without a context the first top-level context is used.",
	Args:  cobra.RangeArgs(1, 2),
	RunE:  runNavigate,
}

var contextsCmd = &cobra.Command{
	Use:   "contexts",
	Short: "List browsing contexts",
	Long:  "Lists the browsing context tree returned by browsingContext.getTree.",
	Args:  cobra.NoArgs,
	RunE:  runContexts,
}

func init() {
	navigateCmd.Flags().String("wait", string(browsingcontext.ReadinessComplete), "Readiness to wait for: none, interactive or complete")
	rootCmd.AddCommand(navigateCmd)
	rootCmd.AddCommand(contextsCmd)
}

// errNoContexts is returned when the remote end has no top-level context.
var errNoContexts = errors.New("no browsing contexts")

// normalizeURL adds protocol to URL if missing.
// Uses http:// for localhost/127.0.0.1/0.0.0.0, https:// otherwise.
func normalizeURL(url string) string {
	if strings.Contains(url, "://") || strings.HasPrefix(url, "about:") || strings.HasPrefix(url, "data:") {
		return url
	}

	lower := strings.ToLower(url)
	if strings.HasPrefix(lower, "localhost") ||
		strings.HasPrefix(lower, "127.0.0.1") ||
		strings.HasPrefix(lower, "0.0.0.0") {
		return "http://" + url
	}

	return "https://" + url
}

func parseReadiness(s string) (browsingcontext.ReadinessState, error) {
	switch r := browsingcontext.ReadinessState(s); r {
	case browsingcontext.ReadinessNone, browsingcontext.ReadinessInteractive, browsingcontext.ReadinessComplete:
		return r, nil
	}
	return "", fmt.Errorf("invalid --wait %q: must be none, interactive or complete", s)
}

// firstContext returns the first top-level browsing context.
func firstContext(ctx context.Context, bc *browsingcontext.Module) (string, error) {
	tree, err := bc.GetTree(ctx, browsingcontext.GetTreeParameters{})
	if err != nil {
		return "", err
	}
	if len(tree.Contexts) == 0 {
		return "", errNoContexts
	}
	return tree.Contexts[0].Context, nil
}

func runNavigate(cmd *cobra.Command, args []string) error {
	waitFlag, _ := cmd.Flags().GetString("wait")
	wait, err := parseReadiness(waitFlag)
	if err != nil {
		return outputError(err.Error())
	}

	contextID := ""
	url := args[0]
	if len(args) == 2 {
		contextID, url = args[0], args[1]
	}
	url = normalizeURL(url)

	return withClient(cmd.Context(), func(ctx context.Context, c *Client) error {
		bc, err := browsingcontext.New(c.Driver)
		if err != nil {
			return outputError(err.Error())
		}

		if contextID == "" {
			id, err := firstContext(ctx, bc)
			if err != nil {
				return outputError(err.Error())
			}
			contextID = id
		}
		debugf("navigate context=%s url=%s wait=%s", contextID, url, wait)

		result, err := bc.Navigate(ctx, browsingcontext.NavigateParameters{
			Context: contextID,
			URL:     url,
			Wait:    wait,
		})
		if err != nil {
			return outputError(err.Error())
		}

		return outputSuccess(result, func(w io.Writer) error {
			return format.Navigation(w, result)
		})
	})
}

func runContexts(cmd *cobra.Command, args []string) error {
	return withClient(cmd.Context(), func(ctx context.Context, c *Client) error {
		bc, err := browsingcontext.New(c.Driver)
		if err != nil {
			return outputError(err.Error())
		}
		tree, err := bc.GetTree(ctx, browsingcontext.GetTreeParameters{})
		if err != nil {
			return outputError(err.Error())
		}

		return outputSuccess(tree.Contexts, func(w io.Writer) error {
			return format.Contexts(w, tree.Contexts, outputOptions())
		})
	})
}
