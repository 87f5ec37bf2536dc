package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// IngestionRunRecord mirrors a row of ingestion_runs: one batch of crawler records.
type IngestionRunRecord struct {
	ID          uuid.UUID
	TenantID    uuid.UUID
	Source      string
	Trigger     string
	Status      string
	Received    int
	Inserted    int
	Updated     int
	Unchanged   int
	Failed      int
	Errors      json.RawMessage
	StartedAt   time.Time
	CompletedAt *time.Time
}

type CreateIngestionRunParams struct {
	ID       uuid.UUID
	TenantID uuid.UUID
	Source   string
	Trigger  string
	Received int
}

type FinishIngestionRunParams struct {
	TenantID    uuid.UUID
	ID          uuid.UUID
	Status      string
	Inserted    int
	Updated     int
	Unchanged   int
	Failed      int
	Errors      json.RawMessage
	CompletedAt time.Time
}

const ingestionRunColumns = `id, tenant_id, source, trigger, status, received, inserted, updated, unchanged,
	failed, errors, started_at, completed_at`

type IngestionRunStore struct {
	pool *pgxpool.Pool
}

func NewIngestionRunStore(pool *pgxpool.Pool) *IngestionRunStore {
	if pool == nil {
		panic("ingestion run store requires pool")
	}
	return &IngestionRunStore{pool: pool}
}

func (s *IngestionRunStore) CreateRun(ctx context.Context, p CreateIngestionRunParams) (IngestionRunRecord, error) {
	record, err := scanIngestionRun(s.pool.QueryRow(ctx, `
		INSERT INTO ingestion_runs (id, tenant_id, source, trigger, status, received)
		VALUES ($1, $2, $3, $4, 'running', $5)
		RETURNING `+ingestionRunColumns, p.ID, p.TenantID, p.Source, p.Trigger, p.Received))
	if err != nil {
		return IngestionRunRecord{}, fmt.Errorf("create ingestion run: %w", err)
	}
	return record, nil
}

func (s *IngestionRunStore) FinishRun(ctx context.Context, p FinishIngestionRunParams) (IngestionRunRecord, error) {
	errs := p.Errors
	if len(errs) == 0 {
		errs = json.RawMessage(`[]`)
	}
	record, err := scanIngestionRun(s.pool.QueryRow(ctx, `
		UPDATE ingestion_runs SET status = $3, inserted = $4, updated = $5, unchanged = $6, failed = $7,
			errors = $8, completed_at = $9
		WHERE tenant_id = $1 AND id = $2
		RETURNING `+ingestionRunColumns,
		p.TenantID, p.ID, p.Status, p.Inserted, p.Updated, p.Unchanged, p.Failed, errs, p.CompletedAt))
	if errors.Is(err, pgx.ErrNoRows) {
		return IngestionRunRecord{}, ErrIngestionRunNotFound
	}
	if err != nil {
		return IngestionRunRecord{}, fmt.Errorf("finish ingestion run: %w", err)
	}
	return record, nil
}

func (s *IngestionRunStore) GetRun(ctx context.Context, tenantID, id uuid.UUID) (IngestionRunRecord, error) {
	record, err := scanIngestionRun(s.pool.QueryRow(ctx, `SELECT `+ingestionRunColumns+` FROM ingestion_runs
		WHERE tenant_id = $1 AND id = $2`, tenantID, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return IngestionRunRecord{}, ErrIngestionRunNotFound
	}
	if err != nil {
		return IngestionRunRecord{}, fmt.Errorf("get ingestion run: %w", err)
	}
	return record, nil
}

func scanIngestionRun(row pgx.Row) (IngestionRunRecord, error) {
	var (
		r    IngestionRunRecord
		errs []byte
	)
	err := row.Scan(&r.ID, &r.TenantID, &r.Source, &r.Trigger, &r.Status, &r.Received, &r.Inserted, &r.Updated,
		&r.Unchanged, &r.Failed, &errs, &r.StartedAt, &r.CompletedAt)
	r.Errors = json.RawMessage(errs)
	return r, err
}
