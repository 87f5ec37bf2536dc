package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/zenGate-Global/tender-engine/apps/cli/internal/clienv"
	ingestionrepo "github.com/zenGate-Global/tender-engine/domains/ingestion/be/repo"
	"github.com/zenGate-Global/tender-engine/domains/ingestion/be/service"
	"github.com/zenGate-Global/tender-engine/platform/go/persistence"
	"github.com/zenGate-Global/tender-engine/platform/go/requesttrace"
)

// Command ingests a file of crawler records synchronously.
func Command() *cobra.Command {
	var (
		databaseURL string
		envKey      string
		tenantID    string
		source      string
		file        string
	)

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Ingest a JSON array or JSON Lines file of tender records",
		Example: `  tenderctl ingest --tenant 5f0c6c1e-2a8b-4d7e-9a43-0c2f5b1d9e11 --source goszakup --file records.jsonl
  cat records.jsonl | tenderctl ingest --tenant ... --source ted --file -`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, err := clienv.TenantContext(cmd.Context(), envKey, tenantID)
			if err != nil {
				return err
			}

			in := cmd.InOrStdin()
			if file != "-" {
				f, err := os.Open(file)
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}

			pool, err := clienv.OpenPool(ctx, databaseURL)
			if err != nil {
				return err
			}
			defer persistence.ClosePool(pool)

			svc := service.New(ingestionrepo.NewPostgresRepository(
				persistence.NewTenderStore(pool),
				persistence.NewIngestionRunStore(pool),
			), nil)
			return run(ctx, svc, source, in, cmd.OutOrStdout())
		},
	}

	clienv.DatabaseFlag(cmd, &databaseURL)
	clienv.EnvKeyFlag(cmd, &envKey)
	cmd.Flags().StringVar(&tenantID, "tenant", "", "tenant id")
	cmd.Flags().StringVar(&source, "source", "", "default source for records that omit one")
	cmd.Flags().StringVar(&file, "file", "", "records file, or - for stdin")
	_ = cmd.MarkFlagRequired("tenant")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}

type summary struct {
	RunID     string                `json:"runId"`
	Status    string                `json:"status"`
	Received  int                   `json:"received"`
	Inserted  int                   `json:"inserted"`
	Updated   int                   `json:"updated"`
	Unchanged int                   `json:"unchanged"`
	Failed    int                   `json:"failed"`
	Errors    []service.RecordError `json:"errors,omitempty"`
}

func run(ctx context.Context, svc service.Service, source string, in io.Reader, out io.Writer) error {
	records, err := service.DecodeRecords(in)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return fmt.Errorf("no records found")
	}

	result, err := svc.IngestBatch(ctx, requesttrace.System("tenderctl"), service.BatchInput{
		Source:  source,
		Trigger: service.TriggerCLI,
		Records: records,
	})
	if err != nil {
		return err
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(summary{
		RunID:     result.RunID.String(),
		Status:    result.Status,
		Received:  result.Received,
		Inserted:  result.Inserted,
		Updated:   result.Updated,
		Unchanged: result.Unchanged,
		Failed:    result.Failed,
		Errors:    result.Errors,
	})
}
