package repo

import (
	"context"

	"github.com/google/uuid"

	"github.com/zenGate-Global/tender-engine/domains/ingestion/be/service"
	"github.com/zenGate-Global/tender-engine/platform/go/persistence"
	"github.com/zenGate-Global/tender-engine/platform/go/tenant"
)

type postgresRepository struct {
	tenders *persistence.TenderStore
	runs    *persistence.IngestionRunStore
}

// NewPostgresRepository scopes the tender and ingestion run stores to the tenant on the context.
func NewPostgresRepository(tenders *persistence.TenderStore, runs *persistence.IngestionRunStore) service.Repository {
	if tenders == nil || runs == nil {
		panic("tender and ingestion run stores are required")
	}
	return &postgresRepository{tenders: tenders, runs: runs}
}

func (r *postgresRepository) Upsert(ctx context.Context, params persistence.UpsertTenderParams) (persistence.TenderRecord, persistence.UpsertOutcome, error) {
	space, err := tenant.Require(ctx)
	if err != nil {
		return persistence.TenderRecord{}, "", err
	}
	params.TenantID = space.TenantID
	return r.tenders.UpsertTender(ctx, params)
}

func (r *postgresRepository) CreateRun(ctx context.Context, params persistence.CreateIngestionRunParams) (persistence.IngestionRunRecord, error) {
	space, err := tenant.Require(ctx)
	if err != nil {
		return persistence.IngestionRunRecord{}, err
	}
	params.TenantID = space.TenantID
	return r.runs.CreateRun(ctx, params)
}

func (r *postgresRepository) FinishRun(ctx context.Context, params persistence.FinishIngestionRunParams) (persistence.IngestionRunRecord, error) {
	space, err := tenant.Require(ctx)
	if err != nil {
		return persistence.IngestionRunRecord{}, err
	}
	params.TenantID = space.TenantID
	return r.runs.FinishRun(ctx, params)
}

func (r *postgresRepository) GetRun(ctx context.Context, id uuid.UUID) (persistence.IngestionRunRecord, error) {
	space, err := tenant.Require(ctx)
	if err != nil {
		return persistence.IngestionRunRecord{}, err
	}
	return r.runs.GetRun(ctx, space.TenantID, id)
}
