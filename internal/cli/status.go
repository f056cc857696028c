package cli

import (
	"context"
	"io"

	"github.com/spf13/cobra"

	"github.com/grantcarthew/bidictl/internal/cli/format"
	"github.com/grantcarthew/bidictl/internal/driver/session"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show remote end status",
	Long:  "Sends session.status and reports whether the remote end can create a new session.",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	return withClient(cmd.Context(), func(ctx context.Context, c *Client) error {
		status, err := session.New(c.Driver).Status(ctx)
		if err != nil {
			return outputError(err.Error())
		}

		return outputSuccess(status, func(w io.Writer) error {
			return format.Status(w, status, outputOptions())
		})
	})
}
