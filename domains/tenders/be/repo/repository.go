package repo

import (
	"context"

	"github.com/google/uuid"

	"github.com/zenGate-Global/tender-engine/domains/tenders/be/service"
	"github.com/zenGate-Global/tender-engine/platform/go/persistence"
	"github.com/zenGate-Global/tender-engine/platform/go/tenant"
)

type postgresRepository struct {
	store *persistence.TenderStore
}

// NewPostgresRepository adapts the shared tender store to the tenders service, scoping every call
// to the tenant on the context.
func NewPostgresRepository(store *persistence.TenderStore) service.Repository {
	if store == nil {
		panic("tender store is required")
	}
	return &postgresRepository{store: store}
}

func (r *postgresRepository) Get(ctx context.Context, id uuid.UUID) (persistence.TenderRecord, error) {
	space, err := tenant.Require(ctx)
	if err != nil {
		return persistence.TenderRecord{}, err
	}
	return r.store.GetTender(ctx, space.TenantID, id)
}

func (r *postgresRepository) List(ctx context.Context, params persistence.ListTendersParams) ([]persistence.TenderRecord, int, error) {
	space, err := tenant.Require(ctx)
	if err != nil {
		return nil, 0, err
	}
	return r.store.ListTenders(ctx, space.TenantID, params)
}

func (r *postgresRepository) Transition(ctx context.Context, params service.TransitionParams) (persistence.TenderRecord, persistence.AuditRecord, error) {
	space, err := tenant.Require(ctx)
	if err != nil {
		return persistence.TenderRecord{}, persistence.AuditRecord{}, err
	}
	return r.store.TransitionTender(ctx, persistence.TransitionTenderParams{
		TenantID:  space.TenantID,
		TenderID:  params.TenderID,
		Target:    string(params.Target),
		ActorID:   params.ActorID,
		Note:      params.Note,
		RequestID: params.RequestID,
		Guard:     params.Guard,
	})
}

func (r *postgresRepository) ListAudit(ctx context.Context, id uuid.UUID) ([]persistence.AuditRecord, error) {
	space, err := tenant.Require(ctx)
	if err != nil {
		return nil, err
	}
	return r.store.ListAudit(ctx, space.TenantID, id)
}
