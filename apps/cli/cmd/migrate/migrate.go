package migrate

import (
	"github.com/spf13/cobra"

	"github.com/zenGate-Global/tender-engine/apps/cli/internal/clienv"
	"github.com/zenGate-Global/tender-engine/platform/go/persistence"
)

// Command manages the embedded goose migrations.
func Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or inspect database migrations",
	}
	cmd.AddCommand(upCommand(), statusCommand())
	return cmd
}

func upCommand() *cobra.Command {
	var databaseURL string
	cmd := &cobra.Command{
		Use:   "up",
		Short: "Apply every pending migration",
		RunE: func(cmd *cobra.Command, args []string) error {
			pool, err := clienv.OpenPool(cmd.Context(), databaseURL)
			if err != nil {
				return err
			}
			defer persistence.ClosePool(pool)
			return persistence.MigrateUp(cmd.Context(), pool)
		},
	}
	clienv.DatabaseFlag(cmd, &databaseURL)
	return cmd
}

func statusCommand() *cobra.Command {
	var databaseURL string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Print applied and pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			pool, err := clienv.OpenPool(cmd.Context(), databaseURL)
			if err != nil {
				return err
			}
			defer persistence.ClosePool(pool)
			return persistence.MigrationStatus(cmd.Context(), pool)
		},
	}
	clienv.DatabaseFlag(cmd, &databaseURL)
	return cmd
}
