package engine

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	ingestionjobs "github.com/zenGate-Global/tender-engine/domains/ingestion/be/jobs"
	submissionsjobs "github.com/zenGate-Global/tender-engine/domains/submissions/be/jobs"
	"github.com/zenGate-Global/tender-engine/domains/submissions/be/parsing"
	"github.com/zenGate-Global/tender-engine/platform/go/ocr"
	"github.com/zenGate-Global/tender-engine/platform/go/queue"
	"github.com/zenGate-Global/tender-engine/platform/go/scheduler"
)

// WorkerConfig tunes the queue consumers and the cron tasks.
type WorkerConfig struct {
	ParseConcurrency     int           `env:"PARSE_CONCURRENCY" envDefault:"4"`
	IngestionConcurrency int           `env:"INGESTION_CONCURRENCY" envDefault:"1"`
	PollWait             time.Duration `env:"WORKER_POLL_WAIT" envDefault:"2s"`
	Retry                queue.RetryPolicy
	OCR                  ocr.Config

	PromoteSpec    string        `env:"CRON_PROMOTE" envDefault:"@every 5s"`
	SweepSpec      string        `env:"CRON_SWEEP" envDefault:"@every 5m"`
	SweepThreshold time.Duration `env:"SWEEP_THRESHOLD" envDefault:"15m"`
	SweepBatch     int           `env:"SWEEP_BATCH" envDefault:"100"`
	ImportSpec     string        `env:"CRON_IMPORT" envDefault:"@every 1m"`
	ImportDir      string        `env:"IMPORT_DIR"` // scraper exports, <dir>/<tenantId>/*.jsonl; empty disables
	TaskTimeout    time.Duration `env:"CRON_TASK_TIMEOUT" envDefault:"2m"`
}

// Validate checks the worker settings against the queue lease. A zero lease skips the lease check.
func (c WorkerConfig) Validate(lease time.Duration) error {
	if c.Retry.AttemptTimeout <= 0 {
		return fmt.Errorf("RETRY_ATTEMPT_TIMEOUT must be positive")
	}
	if lease > 0 && c.Retry.AttemptTimeout >= lease {
		return fmt.Errorf("RETRY_ATTEMPT_TIMEOUT (%s) must be below QUEUE_LEASE_TIMEOUT (%s)", c.Retry.AttemptTimeout, lease)
	}
	return nil
}

// RunWorkers consumes the parse and ingestion queues and runs the scheduled tasks until ctx is
// done or a pool fails.
func (e *Engine) RunWorkers(ctx context.Context, cfg WorkerConfig, logger *zap.Logger) error {
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = queue.DefaultRetryPolicy()
	}
	var lease time.Duration
	if rq, ok := e.Queue.(*queue.RedisQueue); ok {
		lease = rq.LeaseTimeout()
	}
	if err := cfg.Validate(lease); err != nil {
		return err
	}

	var recognizer parsing.Recognizer
	if cfg.OCR.Endpoint != "" {
		client, err := ocr.New(cfg.OCR)
		if err != nil {
			return err
		}
		recognizer = client
	} else {
		logger.Warn("OCR_ENDPOINT not set; scanned receipts will fail with ocr_failed")
	}

	parseProcessor := submissionsjobs.NewProcessor(submissionsjobs.ProcessorDeps{
		Store:       e.SubmissionRepo,
		Receipts:    e.Receipts,
		Bucket:      e.Bucket,
		Parser:      parsing.NewParser(recognizer),
		Publisher:   e.Publisher,
		EnvKey:      e.EnvKey,
		MaxAttempts: cfg.Retry.MaxAttempts,
	}, logger.Named("parse"))
	ingestionProcessor := ingestionjobs.NewProcessor(e.Ingestion, e.Publisher, e.EnvKey, logger.Named("ingestion"))

	parsePool := queue.NewPool(e.Queue, parseProcessor, queue.PoolConfig{
		Queue:       queue.ParseQueue,
		Concurrency: cfg.ParseConcurrency,
		PollWait:    cfg.PollWait,
		Policy:      cfg.Retry,
	}, logger)
	ingestionPool := queue.NewPool(e.Queue, ingestionProcessor, queue.PoolConfig{
		Queue:       queue.IngestionQueue,
		Concurrency: cfg.IngestionConcurrency,
		PollWait:    cfg.PollWait,
		Policy:      cfg.Retry,
	}, logger)

	sched, err := e.schedule(cfg, logger)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return parsePool.Run(gctx) })
	g.Go(func() error { return ingestionPool.Run(gctx) })
	g.Go(func() error { return sched.Run(gctx) })
	return g.Wait()
}

func (e *Engine) schedule(cfg WorkerConfig, logger *zap.Logger) (*scheduler.Scheduler, error) {
	sched := scheduler.New(logger.Named("cron"), cfg.TaskTimeout)

	err := sched.Add("promote-delayed-jobs", cfg.PromoteSpec, func(ctx context.Context) error {
		now := time.Now()
		for _, name := range []string{queue.ParseQueue, queue.IngestionQueue} {
			n, err := e.Queue.PromoteDue(ctx, name, now)
			if err != nil {
				return err
			}
			if n > 0 {
				logger.Debug("promoted delayed jobs", zap.String("queue", name), zap.Int("count", n))
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sweeper := submissionsjobs.NewSweeper(e.SubmissionRepo, e.Submissions, e.EnvKey, cfg.SweepThreshold, cfg.SweepBatch, logger.Named("sweeper"))
	if err := sched.Add("sweep-stale-parses", cfg.SweepSpec, func(ctx context.Context) error {
		_, err := sweeper.Sweep(ctx)
		return err
	}); err != nil {
		return nil, err
	}

	if cfg.ImportDir != "" {
		importer := ingestionjobs.NewImporter(cfg.ImportDir, e.Ingestion, e.EnvKey, logger.Named("importer"))
		if err := sched.Add("import-scraper-exports", cfg.ImportSpec, func(ctx context.Context) error {
			_, err := importer.Scan(ctx)
			return err
		}); err != nil {
			return nil, err
		}
	}

	return sched, nil
}
