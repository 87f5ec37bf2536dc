// Package pgtest starts a throwaway Postgres with the embedded migrations applied.
package pgtest

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/zenGate-Global/tender-engine/platform/go/persistence"
)

// NewPool runs postgres:16-alpine, migrates it and returns a pool closed on test cleanup.
// Integration tests are skipped in -short mode.
func NewPool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping postgres integration test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("tenders"),
		postgres.WithUsername("postgres"),
		postgres.WithPassword("postgres"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(2*time.Minute),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = pgContainer.Terminate(context.Background())
	})

	connString, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := persistence.NewPool(ctx, persistence.PoolConfig{ConnString: connString, MaxConns: 16})
	require.NoError(t, err)
	t.Cleanup(func() { persistence.ClosePool(pool) })

	require.NoError(t, persistence.MigrateUp(ctx, pool))
	return pool
}

// SeedTender inserts a tender in the given state and returns it.
func SeedTender(t *testing.T, pool *pgxpool.Pool, tenantID uuid.UUID, state string) persistence.TenderRecord {
	t.Helper()
	ctx := context.Background()

	externalID := uuid.NewString()
	record, _, err := persistence.NewTenderStore(pool).UpsertTender(ctx, persistence.UpsertTenderParams{
		TenantID:        tenantID,
		InitialState:    "SCRAPED",
		Source:          "seed",
		ExternalID:      &externalID,
		Hash:            externalID,
		Title:           "Seeded tender " + externalID[:8],
		ContentChecksum: externalID,
	})
	require.NoError(t, err)

	if state != record.State {
		_, err = pool.Exec(ctx, `UPDATE tenders SET state = $1 WHERE id = $2`, state, record.ID)
		require.NoError(t, err)
		record.State = state
	}
	return record
}
