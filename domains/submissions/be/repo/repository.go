package repo

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/zenGate-Global/tender-engine/domains/submissions/be/service"
	"github.com/zenGate-Global/tender-engine/platform/go/persistence"
	"github.com/zenGate-Global/tender-engine/platform/go/tenant"
)

type postgresRepository struct {
	tenders     *persistence.TenderStore
	submissions *persistence.SubmissionStore
}

// NewPostgresRepository adapts the shared stores to the submissions service, scoping every call
// except ListStale to the tenant on the context.
func NewPostgresRepository(tenders *persistence.TenderStore, submissions *persistence.SubmissionStore) service.Repository {
	if tenders == nil {
		panic("tender store is required")
	}
	if submissions == nil {
		panic("submission store is required")
	}
	return &postgresRepository{tenders: tenders, submissions: submissions}
}

func (r *postgresRepository) TenderExists(ctx context.Context, tenderID uuid.UUID) error {
	space, err := tenant.Require(ctx)
	if err != nil {
		return err
	}
	_, err = r.tenders.GetTender(ctx, space.TenantID, tenderID)
	return err
}

func (r *postgresRepository) Create(ctx context.Context, params persistence.CreateSubmissionParams) (persistence.SubmissionRecord, error) {
	space, err := tenant.Require(ctx)
	if err != nil {
		return persistence.SubmissionRecord{}, err
	}
	params.TenantID = space.TenantID
	return r.submissions.CreateSubmission(ctx, params)
}

func (r *postgresRepository) Get(ctx context.Context, id uuid.UUID) (persistence.SubmissionRecord, error) {
	space, err := tenant.Require(ctx)
	if err != nil {
		return persistence.SubmissionRecord{}, err
	}
	return r.submissions.GetSubmission(ctx, space.TenantID, id)
}

func (r *postgresRepository) ListByTender(ctx context.Context, tenderID uuid.UUID) ([]persistence.SubmissionRecord, error) {
	space, err := tenant.Require(ctx)
	if err != nil {
		return nil, err
	}
	return r.submissions.ListSubmissions(ctx, space.TenantID, tenderID)
}

func (r *postgresRepository) Update(ctx context.Context, id uuid.UUID, params persistence.UpdateSubmissionParams) (persistence.SubmissionRecord, error) {
	space, err := tenant.Require(ctx)
	if err != nil {
		return persistence.SubmissionRecord{}, err
	}
	return r.submissions.UpdateSubmission(ctx, space.TenantID, id, params)
}

func (r *postgresRepository) MarkQueued(ctx context.Context, id uuid.UUID, at time.Time) error {
	space, err := tenant.Require(ctx)
	if err != nil {
		return err
	}
	return r.submissions.MarkParseQueued(ctx, space.TenantID, id, at)
}

func (r *postgresRepository) MarkProcessing(ctx context.Context, id uuid.UUID) error {
	space, err := tenant.Require(ctx)
	if err != nil {
		return err
	}
	return r.submissions.MarkParseProcessing(ctx, space.TenantID, id)
}

func (r *postgresRepository) SaveResult(ctx context.Context, params persistence.SaveParseResultParams) (persistence.SubmissionRecord, error) {
	space, err := tenant.Require(ctx)
	if err != nil {
		return persistence.SubmissionRecord{}, err
	}
	params.TenantID = space.TenantID
	return r.submissions.SaveParseResult(ctx, params)
}

func (r *postgresRepository) ListStale(ctx context.Context, queuedBefore time.Time, limit int) ([]persistence.SubmissionRef, error) {
	return r.submissions.ListStaleParses(ctx, queuedBefore, limit)
}
