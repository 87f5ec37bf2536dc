package repo

import (
	"context"

	"github.com/google/uuid"

	"github.com/zenGate-Global/tender-engine/domains/assignments/be/service"
	"github.com/zenGate-Global/tender-engine/platform/go/persistence"
	"github.com/zenGate-Global/tender-engine/platform/go/tenant"
)

type postgresRepository struct {
	store *persistence.AssignmentStore
}

// NewPostgresRepository constructs a repository backed by the shared persistence layer.
func NewPostgresRepository(store *persistence.AssignmentStore) service.Repository {
	if store == nil {
		panic("assignment store is required")
	}
	return &postgresRepository{store: store}
}

func (r *postgresRepository) TenderExists(ctx context.Context, tenderID uuid.UUID) (bool, error) {
	space, err := tenant.Require(ctx)
	if err != nil {
		return false, err
	}
	return r.store.TenderExists(ctx, space.TenantID, tenderID)
}

func (r *postgresRepository) GetRole(ctx context.Context, tenderID uuid.UUID, userID string) (string, error) {
	space, err := tenant.Require(ctx)
	if err != nil {
		return "", err
	}
	return r.store.GetRole(ctx, space.TenantID, tenderID, userID)
}

func (r *postgresRepository) Set(ctx context.Context, tenderID uuid.UUID, userID, role, assignedBy string) (persistence.AssignmentRecord, []string, error) {
	space, err := tenant.Require(ctx)
	if err != nil {
		return persistence.AssignmentRecord{}, nil, err
	}
	return r.store.SetAssignment(ctx, persistence.SetAssignmentParams{
		TenantID:   space.TenantID,
		TenderID:   tenderID,
		UserID:     userID,
		Role:       role,
		AssignedBy: assignedBy,
	})
}

func (r *postgresRepository) Delete(ctx context.Context, tenderID uuid.UUID, userID string) error {
	space, err := tenant.Require(ctx)
	if err != nil {
		return err
	}
	return r.store.DeleteAssignment(ctx, space.TenantID, tenderID, userID)
}

func (r *postgresRepository) List(ctx context.Context, tenderID uuid.UUID) ([]persistence.AssignmentRecord, error) {
	space, err := tenant.Require(ctx)
	if err != nil {
		return nil, err
	}
	return r.store.ListAssignments(ctx, space.TenantID, tenderID)
}
