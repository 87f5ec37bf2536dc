package persistence

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sethvargo/go-retry"
)

// PoolConfig captures the knobs required to bootstrap the pgxpool shared by every store.
// Field tags let binaries embed it in their env config.
type PoolConfig struct {
	ConnString          string        `env:"DATABASE_URL,required"`
	MaxConns            int32         `env:"DATABASE_MAX_CONNS" envDefault:"10"`
	MinConns            int32         `env:"DATABASE_MIN_CONNS" envDefault:"0"`
	MaxConnLifetime     time.Duration `env:"DATABASE_MAX_CONN_LIFETIME" envDefault:"0s"`
	MaxConnIdleTime     time.Duration `env:"DATABASE_MAX_CONN_IDLE_TIME" envDefault:"0s"`
	HealthCheckInterval time.Duration `env:"DATABASE_HEALTH_CHECK_INTERVAL" envDefault:"0s"`
	// ConnectRetries is how many extra pings are attempted while the database comes up.
	ConnectRetries uint64 `env:"DATABASE_CONNECT_RETRIES" envDefault:"0"`
}

// NewPool builds a pgxpool.Pool using the shared configuration and eagerly verifies connectivity.
func NewPool(ctx context.Context, cfg PoolConfig) (*pgxpool.Pool, error) {
	if cfg.ConnString == "" {
		return nil, fmt.Errorf("conn string is required")
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.ConnString)
	if err != nil {
		return nil, fmt.Errorf("parse pgx pool config: %w", err)
	}

	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolConfig.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime
	}
	if cfg.HealthCheckInterval > 0 {
		poolConfig.HealthCheckPeriod = cfg.HealthCheckInterval
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create pgx pool: %w", err)
	}

	ping := func(ctx context.Context) error {
		if err := pool.Ping(ctx); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	}
	backoff := retry.WithMaxRetries(cfg.ConnectRetries, retry.NewExponential(500*time.Millisecond))
	if err := retry.Do(ctx, retry.WithCappedDuration(5*time.Second, backoff), ping); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return pool, nil
}

// ClosePool shuts down the pool gracefully; safe to call with nil.
func ClosePool(pool *pgxpool.Pool) {
	if pool != nil {
		pool.Close()
	}
}
