// Package commands implements the fixgate CLI.
package commands

import (
	"github.com/spf13/cobra"
)

// Version information injected at build time.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "fixgate",
	Short: "fixgate - FIX session engine",
	Long: `fixgate is a FIX session engine: it maintains a sequenced,
exactly-once session with a counterparty over TCP or TLS, journals
every outbound message for gap recovery, and monitors liveness with
heartbeats and test requests.

Use "fixgate [command] --help" for more information about a command.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the CLI.
func Execute() error {
	err := rootCmd.Execute()
	if err != nil {
		rootCmd.PrintErrf("Error: %v\n", err)
	}
	return err
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $XDG_CONFIG_HOME/fixgate/config.yaml)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(sessionsCmd)
	rootCmd.AddCommand(sequenceCmd)
}
