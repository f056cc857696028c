package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the bidictl version",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return outputSuccess(map[string]string{"version": Version}, func(w io.Writer) error {
			_, err := fmt.Fprintf(w, "bidictl version %s\n", Version)
			return err
		})
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration",
	Long:  "Prints the configuration after applying the config file, .env, environment variables and flags.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return outputError(err.Error())
		}
		return outputSuccess(cfg, func(w io.Writer) error {
			data, err := yaml.Marshal(cfg)
			if err != nil {
				return err
			}
			_, err = w.Write(data)
			return err
		})
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(configCmd)
}
