package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/caarlos0/env/v11"
	"go.uber.org/zap"

	"github.com/zenGate-Global/tender-engine/apps/internal/engine"
	platformlogging "github.com/zenGate-Global/tender-engine/platform/go/logging"
	"github.com/zenGate-Global/tender-engine/platform/go/persistence"
)

type config struct {
	LogLevel       string `env:"LOG_LEVEL" envDefault:"info"`
	MigrateOnStart bool   `env:"MIGRATE_ON_START" envDefault:"false"`

	Database persistence.PoolConfig
	Engine   engine.Config
	Workers  engine.WorkerConfig
}

func main() {
	var cfg config
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, err := platformlogging.NewLogger(platformlogging.Config{
		Component: "worker",
		Level:     cfg.LogLevel,
	})
	if err != nil {
		log.Fatalf("init zap logger: %v", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	if cfg.Engine.QueueBackend != engine.QueueRedis {
		logger.Fatal("worker requires QUEUE_BACKEND=redis; the memory queue only works inside the api process")
	}
	if err := cfg.Workers.Validate(cfg.Engine.Queue.LeaseTimeout); err != nil {
		logger.Fatal("invalid worker config", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := persistence.NewPool(ctx, cfg.Database)
	if err != nil {
		logger.Fatal("init postgres pool", zap.Error(err))
	}
	defer persistence.ClosePool(pool)

	if cfg.MigrateOnStart {
		if err := persistence.MigrateUp(ctx, pool); err != nil {
			logger.Fatal("apply migrations", zap.Error(err))
		}
	}

	eng, err := engine.Open(ctx, cfg.Engine, pool, logger)
	if err != nil {
		logger.Fatal("init engine", zap.Error(err))
	}
	defer eng.Close()

	logger.Info("starting workers",
		zap.Int("parse_concurrency", cfg.Workers.ParseConcurrency),
		zap.Int("ingestion_concurrency", cfg.Workers.IngestionConcurrency),
		zap.Int("max_attempts", cfg.Workers.Retry.MaxAttempts))

	if err := eng.RunWorkers(ctx, cfg.Workers, logger); err != nil && ctx.Err() == nil {
		logger.Error("workers stopped with error", zap.Error(err))
		return
	}
	logger.Info("workers stopped")
}
