package reparse

import (
	"context"
	"fmt"
	"io"

	"github.com/caarlos0/env/v11"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/zenGate-Global/tender-engine/apps/cli/internal/clienv"
	"github.com/zenGate-Global/tender-engine/apps/internal/engine"
	"github.com/zenGate-Global/tender-engine/domains/submissions/be/service"
	"github.com/zenGate-Global/tender-engine/platform/go/persistence"
)

// Enqueuer is the part of the submissions service the command needs.
type Enqueuer interface {
	EnqueueParse(ctx context.Context, id uuid.UUID, reason string) (service.ParseJob, error)
}

// Command forces a fresh parse of one submission's receipt. Queue and storage settings come from
// the same environment as the worker (QUEUE_BACKEND, REDIS_URL, STORAGE_*).
func Command() *cobra.Command {
	var (
		databaseURL  string
		tenantID     string
		submissionID string
	)

	cmd := &cobra.Command{
		Use:   "reparse",
		Short: "Queue a forced re-parse of a submission receipt",
		RunE: func(cmd *cobra.Command, args []string) error {
			var cfg engine.Config
			if err := env.Parse(&cfg); err != nil {
				return fmt.Errorf("load engine config: %w", err)
			}
			ctx, err := clienv.TenantContext(cmd.Context(), cfg.EnvKey, tenantID)
			if err != nil {
				return err
			}
			id, err := uuid.Parse(submissionID)
			if err != nil {
				return fmt.Errorf("--submission must be a submission id")
			}

			logger, err := clienv.Logger(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			pool, err := clienv.OpenPool(ctx, databaseURL)
			if err != nil {
				return err
			}
			defer persistence.ClosePool(pool)

			eng, err := engine.Open(ctx, cfg, pool, logger)
			if err != nil {
				return err
			}
			defer eng.Close()

			return run(ctx, eng.Submissions, id, cmd.OutOrStdout())
		},
	}

	clienv.DatabaseFlag(cmd, &databaseURL)
	cmd.Flags().StringVar(&tenantID, "tenant", "", "tenant id")
	cmd.Flags().StringVar(&submissionID, "submission", "", "submission id")
	_ = cmd.MarkFlagRequired("tenant")
	_ = cmd.MarkFlagRequired("submission")

	return cmd
}

func run(ctx context.Context, enqueuer Enqueuer, id uuid.UUID, out io.Writer) error {
	job, err := enqueuer.EnqueueParse(ctx, id, service.ReasonReparse)
	if err != nil {
		return err
	}
	if job.Deduplicated {
		fmt.Fprintf(out, "parse already pending as job %s\n", job.JobID)
		return nil
	}
	fmt.Fprintf(out, "queued parse job %s\n", job.JobID)
	return nil
}
