package root

import (
	"github.com/spf13/cobra"
)

// rootCmd is the base command of the tender engine CLI. Subcommands are attached in wire.go.
var rootCmd = &cobra.Command{
	Use:           "tenderctl",
	Short:         "Tender engine operations CLI",
	Long:          "Operational utilities for the tender engine: migrations, batch ingestion, forced re-parses and dev tokens.",
	SilenceErrors: true,
	SilenceUsage:  true,
}

// Execute runs the CLI.
func Execute() error {
	return rootCmd.Execute()
}

// Root returns the mutable root command for wiring from subpackages.
func Root() *cobra.Command {
	return rootCmd
}
