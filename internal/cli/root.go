package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd *cobra.Command

func init() {
	rootCmd = &cobra.Command{
		Use:   "settlement",
		Short: "Stark Bank webhook settlement service",
		Long: `settlement receives Stark Bank invoice webhooks, records payment state and forwards
the net amount of every credited invoice to the configured destination account.

Without a subcommand it runs the service (same as "settlement serve").`,
		RunE:          runServe,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
}

// Execute runs the root command
func Execute(version string) error {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(keygenCmd)
	rootCmd.AddCommand(webhookCmd)
	rootCmd.AddCommand(mockProviderCmd)
	rootCmd.AddCommand(tokenCmd)

	rootCmd.Version = version
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return err
	}
	return nil
}
