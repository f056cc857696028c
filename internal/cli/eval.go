package cli

import (
	"context"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/grantcarthew/bidictl/internal/cli/format"
	"github.com/grantcarthew/bidictl/internal/driver/browsingcontext"
	"github.com/grantcarthew/bidictl/internal/driver/script"
)

var evalCmd = &cobra.Command{
	Use:   "eval <expression>",
	Short: "Evaluate JavaScript in a browsing context",
	Long:  "Evaluates a JavaScript expression with script.evaluate and prints the result. Without --context the first top-level context is used.",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runEval,
}

func init() {
	evalCmd.Flags().String("context", "", "Browsing context ID")
	evalCmd.Flags().Bool("await", true, "Await a returned promise")
	rootCmd.AddCommand(evalCmd)
}

func runEval(cmd *cobra.Command, args []string) error {
	contextID, _ := cmd.Flags().GetString("context")
	await, _ := cmd.Flags().GetBool("await")

	// Join all args to form the expression (allows shell-friendly use without quotes)
	expression := strings.Join(args, " ")

	return withClient(cmd.Context(), func(ctx context.Context, c *Client) error {
		if contextID == "" {
			bc, err := browsingcontext.New(c.Driver)
			if err != nil {
				return outputError(err.Error())
			}
			id, err := firstContext(ctx, bc)
			if err != nil {
				return outputError(err.Error())
			}
			contextID = id
		}

		result, err := script.New(c.Driver).Evaluate(ctx, script.EvaluateParameters{
			Expression:   expression,
			Target:       script.Target{Context: contextID},
			AwaitPromise: await,
		})
		if err != nil {
			return outputError(err.Error())
		}
		if err := result.Err(); err != nil {
			return outputError(err.Error())
		}

		return outputSuccess(result.Result, func(w io.Writer) error {
			return format.RemoteValue(w, result.Result)
		})
	})
}
