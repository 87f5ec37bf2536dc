package jobs

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/zenGate-Global/tender-engine/domains/ingestion/be/service"
	"github.com/zenGate-Global/tender-engine/platform/go/requesttrace"
	"github.com/zenGate-Global/tender-engine/platform/go/tenant"
)

const (
	processedDir = "processed"
	failedDir    = "failed"
)

// BatchEnqueuer is the slice of the ingestion service the importer needs.
type BatchEnqueuer interface {
	EnqueueBatch(ctx context.Context, audit requesttrace.AuditInfo, input service.BatchInput) (service.EnqueueResult, error)
}

// Importer picks up scraper exports dropped under <root>/<tenantId>/ and queues them as
// ingestion batches. Files are named <source>_<anything>.json or .jsonl; once queued they move
// to processed/, undecodable files move to failed/.
type Importer struct {
	root     string
	enqueuer BatchEnqueuer
	envKey   string
	logger   *zap.Logger
}

func NewImporter(root string, enqueuer BatchEnqueuer, envKey string, logger *zap.Logger) *Importer {
	if strings.TrimSpace(root) == "" {
		panic("import root is required")
	}
	if enqueuer == nil {
		panic("ingestion service is required")
	}
	if logger == nil {
		panic("logger is required")
	}
	return &Importer{root: root, enqueuer: enqueuer, envKey: envKey, logger: logger}
}

// Scan queues every pending file and returns how many batches were enqueued.
func (i *Importer) Scan(ctx context.Context) (int, error) {
	tenants, err := os.ReadDir(i.root)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read import root: %w", err)
	}

	var (
		queued  int
		scanErr error
	)
	for _, entry := range tenants {
		if !entry.IsDir() {
			continue
		}
		tenantID, err := uuid.Parse(entry.Name())
		if err != nil {
			i.logger.Warn("skipping import directory without tenant id", zap.String("dir", entry.Name()))
			continue
		}
		n, err := i.scanTenant(ctx, tenantID, filepath.Join(i.root, entry.Name()))
		queued += n
		scanErr = multierr.Append(scanErr, err)
		if ctx.Err() != nil {
			break
		}
	}
	return queued, scanErr
}

func (i *Importer) scanTenant(ctx context.Context, tenantID uuid.UUID, dir string) (int, error) {
	files, err := pendingFiles(dir)
	if err != nil {
		return 0, err
	}

	ctx = tenant.WithSpace(ctx, tenant.NewSpace(i.envKey, tenantID))
	logger := i.logger.With(zap.String("tenant_id", tenantID.String()))

	var (
		queued  int
		scanErr error
	)
	for _, name := range files {
		if ctx.Err() != nil {
			break
		}
		path := filepath.Join(dir, name)
		records, err := readRecords(path)
		if err != nil {
			logger.Warn("import file rejected", zap.String("file", name), zap.Error(err))
			scanErr = multierr.Append(scanErr, moveTo(dir, failedDir, name))
			continue
		}
		if len(records) == 0 {
			scanErr = multierr.Append(scanErr, moveTo(dir, processedDir, name))
			continue
		}

		result, err := i.enqueuer.EnqueueBatch(ctx, requesttrace.System("import:"+name), service.BatchInput{
			Source:  sourceFromName(name),
			Trigger: service.TriggerSchedule,
			Records: records,
		})
		if err != nil {
			// Left in place for the next scan.
			scanErr = multierr.Append(scanErr, fmt.Errorf("enqueue %s: %w", name, err))
			continue
		}
		queued++
		logger.Info("import file queued",
			zap.String("file", name),
			zap.String("job_id", result.JobID),
			zap.String("run_id", result.RunID.String()),
			zap.Int("records", len(records)))
		scanErr = multierr.Append(scanErr, moveTo(dir, processedDir, name))
	}
	return queued, scanErr
}

func pendingFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read import dir: %w", err)
	}
	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(entry.Name())) {
		case ".json", ".jsonl":
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

func readRecords(path string) ([]service.SourceRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return service.DecodeRecords(f)
}

func moveTo(dir, sub, name string) error {
	target := filepath.Join(dir, sub)
	if err := os.MkdirAll(target, 0o755); err != nil {
		return fmt.Errorf("create %s dir: %w", sub, err)
	}
	if err := os.Rename(filepath.Join(dir, name), filepath.Join(target, name)); err != nil {
		return fmt.Errorf("move %s: %w", name, err)
	}
	return nil
}

// sourceFromName maps "goszakup_2024-11-05.jsonl" to "goszakup".
func sourceFromName(name string) string {
	base := strings.TrimSuffix(name, filepath.Ext(name))
	if idx := strings.IndexAny(base, "_."); idx > 0 {
		base = base[:idx]
	}
	return strings.ToLower(base)
}
