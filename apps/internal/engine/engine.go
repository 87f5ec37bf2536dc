// Package engine wires stores, services, queues and storage shared by the api, worker and cli
// binaries.
package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	assignmentsrepo "github.com/zenGate-Global/tender-engine/domains/assignments/be/repo"
	assignmentsservice "github.com/zenGate-Global/tender-engine/domains/assignments/be/service"
	ingestionrepo "github.com/zenGate-Global/tender-engine/domains/ingestion/be/repo"
	ingestionservice "github.com/zenGate-Global/tender-engine/domains/ingestion/be/service"
	submissionsrepo "github.com/zenGate-Global/tender-engine/domains/submissions/be/repo"
	submissionsservice "github.com/zenGate-Global/tender-engine/domains/submissions/be/service"
	tendersrepo "github.com/zenGate-Global/tender-engine/domains/tenders/be/repo"
	tendersservice "github.com/zenGate-Global/tender-engine/domains/tenders/be/service"
	"github.com/zenGate-Global/tender-engine/platform/go/broadcast"
	"github.com/zenGate-Global/tender-engine/platform/go/persistence"
	"github.com/zenGate-Global/tender-engine/platform/go/queue"
	"github.com/zenGate-Global/tender-engine/platform/go/storage"
)

const (
	QueueRedis  = "redis"
	QueueMemory = "memory"

	StorageGCS   = "gcs"
	StorageLocal = "local"
)

// Config is embedded in each binary's env config.
type Config struct {
	EnvKey string `env:"ENV_KEY,required"`

	QueueBackend string `env:"QUEUE_BACKEND" envDefault:"redis"` // redis | memory (single process only)
	RedisURL     string `env:"REDIS_URL" envDefault:"redis://localhost:6379/0"`
	RedisRetries uint64 `env:"REDIS_CONNECT_RETRIES" envDefault:"5"`
	Queue        queue.RedisConfig

	StorageBackend     string `env:"STORAGE_BACKEND" envDefault:"gcs"` // gcs | local
	StorageBucket      string `env:"STORAGE_BUCKET"`                   // required when STORAGE_BACKEND=gcs
	StorageLocalDir    string `env:"STORAGE_LOCAL_DIR" envDefault:"./.data/storage"`
	GCPCredentialsFile string `env:"GCP_CREDENTIALS_FILE"`

	HubBuffer int `env:"PROGRESS_BUFFER" envDefault:"64"`
}

// Engine holds the wired services. Close releases the clients it opened.
type Engine struct {
	EnvKey string

	Redis     *redis.Client
	Queue     queue.Queue
	Hub       *broadcast.Hub
	Publisher broadcast.Publisher
	Receipts  storage.ObjectStore
	Bucket    string

	Tenders        tendersservice.Service
	Assignments    assignmentsservice.Service
	Submissions    submissionsservice.Service
	SubmissionRepo submissionsservice.Repository
	Ingestion      ingestionservice.Service

	closers []func() error
}

// Open builds every service on top of pool.
func Open(ctx context.Context, cfg Config, pool *pgxpool.Pool, logger *zap.Logger) (*Engine, error) {
	if pool == nil {
		return nil, fmt.Errorf("postgres pool is required")
	}
	e := &Engine{EnvKey: cfg.EnvKey, Hub: broadcast.NewHub(cfg.HubBuffer)}

	switch cfg.QueueBackend {
	case QueueRedis:
		client, err := queue.NewRedisClient(ctx, cfg.RedisURL, cfg.RedisRetries)
		if err != nil {
			return nil, err
		}
		e.Redis = client
		e.closers = append(e.closers, client.Close)
		e.Queue = queue.NewRedisQueue(client, cfg.Queue)
		// The hub is fed by Relay so events reach every API replica exactly once.
		e.Publisher = broadcast.NewRedisPublisher(client)
	case QueueMemory:
		logger.Warn("using in-memory queue; jobs do not survive restarts and are not shared between processes")
		e.Queue = queue.NewMemoryQueue()
		e.Publisher = e.Hub
	default:
		return nil, fmt.Errorf("invalid QUEUE_BACKEND %q (use redis or memory)", cfg.QueueBackend)
	}

	if err := e.openStorage(ctx, cfg); err != nil {
		e.Close()
		return nil, err
	}

	tenderStore := persistence.NewTenderStore(pool)
	assignmentStore := persistence.NewAssignmentStore(pool)
	submissionStore := persistence.NewSubmissionStore(pool)
	runStore := persistence.NewIngestionRunStore(pool)

	e.Assignments = assignmentsservice.New(assignmentsrepo.NewPostgresRepository(assignmentStore))
	e.Tenders = tendersservice.New(tendersrepo.NewPostgresRepository(tenderStore), e.Assignments)
	e.SubmissionRepo = submissionsrepo.NewPostgresRepository(tenderStore, submissionStore)
	e.Submissions = submissionsservice.New(submissionsservice.Dependencies{
		Repo:       e.SubmissionRepo,
		Authorizer: e.Assignments,
		Queue:      e.Queue,
		Publisher:  e.Publisher,
		Receipts:   e.Receipts,
		Bucket:     e.Bucket,
	})
	e.Ingestion = ingestionservice.New(ingestionrepo.NewPostgresRepository(tenderStore, runStore), e.Queue)

	return e, nil
}

func (e *Engine) openStorage(ctx context.Context, cfg Config) error {
	switch cfg.StorageBackend {
	case StorageGCS:
		if strings.TrimSpace(cfg.StorageBucket) == "" {
			return fmt.Errorf("STORAGE_BUCKET is required when STORAGE_BACKEND=gcs")
		}
		var creds *string
		if cfg.GCPCredentialsFile != "" {
			creds = &cfg.GCPCredentialsFile
		}
		store, err := storage.NewGCSStore(ctx, creds)
		if err != nil {
			return err
		}
		e.closers = append(e.closers, store.Close)
		e.Receipts = store
		e.Bucket = cfg.StorageBucket
	case StorageLocal:
		if strings.TrimSpace(cfg.StorageLocalDir) == "" {
			return fmt.Errorf("STORAGE_LOCAL_DIR is required when STORAGE_BACKEND=local")
		}
		store, err := storage.NewLocalStore(cfg.StorageLocalDir)
		if err != nil {
			return err
		}
		e.Receipts = store
		e.Bucket = cfg.StorageBucket
		if e.Bucket == "" {
			e.Bucket = "receipts"
		}
	default:
		return fmt.Errorf("invalid STORAGE_BACKEND %q (use gcs or local)", cfg.StorageBackend)
	}
	return nil
}

// Relay feeds the local hub from Redis until ctx is done. Without Redis the hub is already the
// publisher and Relay just waits.
func (e *Engine) Relay(ctx context.Context, logger *zap.Logger) error {
	if e.Redis == nil {
		<-ctx.Done()
		return nil
	}
	return broadcast.Relay(ctx, e.Redis, e.Hub, logger, nil)
}

// Ping checks the backing services for readiness probes.
func (e *Engine) Ping(ctx context.Context, pool *pgxpool.Pool) error {
	err := pool.Ping(ctx)
	if e.Redis != nil {
		err = multierr.Append(err, e.Redis.Ping(ctx).Err())
	}
	if gcs, ok := e.Receipts.(*storage.GCSStore); ok {
		err = multierr.Append(err, gcs.CheckPrefix(ctx, e.Bucket, ""))
	}
	return err
}

func (e *Engine) Close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		_ = e.closers[i]()
	}
	e.closers = nil
}
