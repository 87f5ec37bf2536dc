package repo

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zenGate-Global/tender-engine/platform/go/persistence"
	"github.com/zenGate-Global/tender-engine/platform/go/tenant"
)

type assignmentKey struct {
	tenantID uuid.UUID
	tenderID uuid.UUID
	userID   string
}

type tenderKey struct {
	tenantID uuid.UUID
	tenderID uuid.UUID
}

// MemoryRepository is an in-memory implementation suitable for tests and early development.
// Tenders must be registered with AddTender before assignments can be written.
type MemoryRepository struct {
	mu      sync.Mutex
	tenders map[tenderKey]struct{}
	rows    map[assignmentKey]persistence.AssignmentRecord
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		tenders: make(map[tenderKey]struct{}),
		rows:    make(map[assignmentKey]persistence.AssignmentRecord),
	}
}

func (r *MemoryRepository) AddTender(tenantID, tenderID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tenders[tenderKey{tenantID, tenderID}] = struct{}{}
}

func (r *MemoryRepository) TenderExists(ctx context.Context, tenderID uuid.UUID) (bool, error) {
	space, err := tenant.Require(ctx)
	if err != nil {
		return false, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.tenders[tenderKey{space.TenantID, tenderID}]
	return ok, nil
}

func (r *MemoryRepository) GetRole(ctx context.Context, tenderID uuid.UUID, userID string) (string, error) {
	space, err := tenant.Require(ctx)
	if err != nil {
		return "", err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rows[assignmentKey{space.TenantID, tenderID, userID}].Role, nil
}

func (r *MemoryRepository) Set(ctx context.Context, tenderID uuid.UUID, userID, role, assignedBy string) (persistence.AssignmentRecord, []string, error) {
	space, err := tenant.Require(ctx)
	if err != nil {
		return persistence.AssignmentRecord{}, nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.tenders[tenderKey{space.TenantID, tenderID}]; !ok {
		return persistence.AssignmentRecord{}, nil, persistence.ErrTenderNotFound
	}

	now := time.Now().UTC()
	key := assignmentKey{space.TenantID, tenderID, userID}
	record, exists := r.rows[key]
	if !exists {
		record = persistence.AssignmentRecord{TenantID: space.TenantID, TenderID: tenderID, UserID: userID, CreatedAt: now}
	}
	record.Role = role
	record.AssignedBy = assignedBy
	record.UpdatedAt = now
	r.rows[key] = record

	var demoted []string
	if role == persistence.RoleOwner {
		for k, other := range r.rows {
			if k.tenantID != space.TenantID || k.tenderID != tenderID || k.userID == userID || other.Role != persistence.RoleOwner {
				continue
			}
			other.Role = persistence.RoleContributor
			other.AssignedBy = assignedBy
			other.UpdatedAt = now
			r.rows[k] = other
			demoted = append(demoted, k.userID)
		}
		sort.Strings(demoted)
	}
	return record, demoted, nil
}

func (r *MemoryRepository) Delete(ctx context.Context, tenderID uuid.UUID, userID string) error {
	space, err := tenant.Require(ctx)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.tenders[tenderKey{space.TenantID, tenderID}]; !ok {
		return persistence.ErrTenderNotFound
	}
	key := assignmentKey{space.TenantID, tenderID, userID}
	if _, ok := r.rows[key]; !ok {
		return persistence.ErrAssignmentNotFound
	}
	delete(r.rows, key)
	return nil
}

func (r *MemoryRepository) List(ctx context.Context, tenderID uuid.UUID) ([]persistence.AssignmentRecord, error) {
	space, err := tenant.Require(ctx)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var items []persistence.AssignmentRecord
	for k, record := range r.rows {
		if k.tenantID == space.TenantID && k.tenderID == tenderID {
			items = append(items, record)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].UserID < items[j].UserID })
	return items, nil
}
