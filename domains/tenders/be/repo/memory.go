package repo

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zenGate-Global/tender-engine/domains/tenders/be/service"
	"github.com/zenGate-Global/tender-engine/platform/go/persistence"
	"github.com/zenGate-Global/tender-engine/platform/go/tenant"
)

// MemoryRepository is an in-memory implementation suitable for tests and early development.
type MemoryRepository struct {
	mu      sync.Mutex
	tenders map[uuid.UUID]persistence.TenderRecord
	audit   []persistence.AuditRecord
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{tenders: make(map[uuid.UUID]persistence.TenderRecord)}
}

// Put stores record as is, overwriting any tender with the same id.
func (r *MemoryRepository) Put(record persistence.TenderRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tenders[record.ID] = record
}

func (r *MemoryRepository) Get(ctx context.Context, id uuid.UUID) (persistence.TenderRecord, error) {
	space, err := tenant.Require(ctx)
	if err != nil {
		return persistence.TenderRecord{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	record, ok := r.tenders[id]
	if !ok || record.TenantID != space.TenantID {
		return persistence.TenderRecord{}, persistence.ErrTenderNotFound
	}
	return record, nil
}

func (r *MemoryRepository) List(ctx context.Context, params persistence.ListTendersParams) ([]persistence.TenderRecord, int, error) {
	space, err := tenant.Require(ctx)
	if err != nil {
		return nil, 0, err
	}

	r.mu.Lock()
	var matched []persistence.TenderRecord
	for _, record := range r.tenders {
		if record.TenantID != space.TenantID {
			continue
		}
		if params.State != nil && record.State != *params.State {
			continue
		}
		if params.Source != nil && !strings.EqualFold(record.Source, *params.Source) {
			continue
		}
		matched = append(matched, record)
	}
	r.mu.Unlock()

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].UpdatedAt.Equal(matched[j].UpdatedAt) {
			return matched[i].UpdatedAt.After(matched[j].UpdatedAt)
		}
		return matched[i].ID.String() < matched[j].ID.String()
	})

	total := len(matched)
	start := params.Offset
	if start > total {
		start = total
	}
	end := total
	if params.Limit > 0 && start+params.Limit < end {
		end = start + params.Limit
	}
	return matched[start:end], total, nil
}

func (r *MemoryRepository) Transition(ctx context.Context, params service.TransitionParams) (persistence.TenderRecord, persistence.AuditRecord, error) {
	space, err := tenant.Require(ctx)
	if err != nil {
		return persistence.TenderRecord{}, persistence.AuditRecord{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	record, ok := r.tenders[params.TenderID]
	if !ok || record.TenantID != space.TenantID {
		return persistence.TenderRecord{}, persistence.AuditRecord{}, persistence.ErrTenderNotFound
	}
	if params.Guard != nil {
		if err := params.Guard(record.State); err != nil {
			return persistence.TenderRecord{}, persistence.AuditRecord{}, err
		}
	}

	now := time.Now().UTC()
	entry := persistence.AuditRecord{
		ID:        uuid.New(),
		TenantID:  space.TenantID,
		TenderID:  record.ID,
		ActorID:   params.ActorID,
		FromState: record.State,
		ToState:   string(params.Target),
		Note:      params.Note,
		RequestID: params.RequestID,
		CreatedAt: now,
	}
	record.State = string(params.Target)
	record.UpdatedAt = now
	r.tenders[record.ID] = record
	r.audit = append(r.audit, entry)
	return record, entry, nil
}

func (r *MemoryRepository) ListAudit(ctx context.Context, id uuid.UUID) ([]persistence.AuditRecord, error) {
	space, err := tenant.Require(ctx)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	var entries []persistence.AuditRecord
	for _, entry := range r.audit {
		if entry.TenantID == space.TenantID && entry.TenderID == id {
			entries = append(entries, entry)
		}
	}
	return entries, nil
}
