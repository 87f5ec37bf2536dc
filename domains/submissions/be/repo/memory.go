package repo

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zenGate-Global/tender-engine/domains/submissions/be/service"
	"github.com/zenGate-Global/tender-engine/platform/go/persistence"
	"github.com/zenGate-Global/tender-engine/platform/go/tenant"
)

// MemoryRepository is an in-memory implementation suitable for tests and early development.
type MemoryRepository struct {
	mu          sync.Mutex
	tenders     map[uuid.UUID]uuid.UUID
	submissions map[uuid.UUID]persistence.SubmissionRecord
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		tenders:     make(map[uuid.UUID]uuid.UUID),
		submissions: make(map[uuid.UUID]persistence.SubmissionRecord),
	}
}

var _ service.Repository = (*MemoryRepository)(nil)

// AddTender registers a tender of tenantID that submissions may be attached to.
func (r *MemoryRepository) AddTender(tenantID, tenderID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tenders[tenderID] = tenantID
}

// Record returns the stored row regardless of tenant.
func (r *MemoryRepository) Record(id uuid.UUID) (persistence.SubmissionRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	record, ok := r.submissions[id]
	return record, ok
}

func (r *MemoryRepository) TenderExists(ctx context.Context, tenderID uuid.UUID) error {
	space, err := tenant.Require(ctx)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if owner, ok := r.tenders[tenderID]; !ok || owner != space.TenantID {
		return persistence.ErrTenderNotFound
	}
	return nil
}

func (r *MemoryRepository) Create(ctx context.Context, params persistence.CreateSubmissionParams) (persistence.SubmissionRecord, error) {
	space, err := tenant.Require(ctx)
	if err != nil {
		return persistence.SubmissionRecord{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if owner, ok := r.tenders[params.TenderID]; !ok || owner != space.TenantID {
		return persistence.SubmissionRecord{}, persistence.ErrTenderNotFound
	}

	now := time.Now().UTC()
	record := persistence.SubmissionRecord{
		ID:          params.ID,
		TenantID:    space.TenantID,
		TenderID:    params.TenderID,
		Method:      params.Method,
		SubmittedAt: params.SubmittedAt,
		SubmittedBy: params.SubmittedBy,
		ReceiptKey:  params.ReceiptKey,
		Notes:       params.Notes,
		ParseStatus: persistence.ParseStatusIdle,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	r.submissions[record.ID] = record
	return record, nil
}

func (r *MemoryRepository) Get(ctx context.Context, id uuid.UUID) (persistence.SubmissionRecord, error) {
	space, err := tenant.Require(ctx)
	if err != nil {
		return persistence.SubmissionRecord{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lookup(space.TenantID, id)
}

func (r *MemoryRepository) ListByTender(ctx context.Context, tenderID uuid.UUID) ([]persistence.SubmissionRecord, error) {
	space, err := tenant.Require(ctx)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	var records []persistence.SubmissionRecord
	for _, record := range r.submissions {
		if record.TenantID == space.TenantID && record.TenderID == tenderID {
			records = append(records, record)
		}
	}
	r.mu.Unlock()

	sort.Slice(records, func(i, j int) bool {
		if !records[i].SubmittedAt.Equal(records[j].SubmittedAt) {
			return records[i].SubmittedAt.After(records[j].SubmittedAt)
		}
		return records[i].ID.String() < records[j].ID.String()
	})
	return records, nil
}

func (r *MemoryRepository) Update(ctx context.Context, id uuid.UUID, params persistence.UpdateSubmissionParams) (persistence.SubmissionRecord, error) {
	space, err := tenant.Require(ctx)
	if err != nil {
		return persistence.SubmissionRecord{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	record, err := r.lookup(space.TenantID, id)
	if err != nil {
		return persistence.SubmissionRecord{}, err
	}
	if params.Method != nil {
		record.Method = *params.Method
	}
	if params.SubmittedAt != nil {
		record.SubmittedAt = *params.SubmittedAt
	}
	now := time.Now().UTC()
	if params.ReceiptKey != nil {
		var next *string
		if *params.ReceiptKey != "" {
			key := *params.ReceiptKey
			next = &key
		}
		if !sameKey(record.ReceiptKey, next) {
			record.ReceiptKey = next
			record.Parsed = nil
			record.ParsedAt = nil
			record.ParseVersion = nil
			record.ParseAttempts = 0
			record.ParseStatus = persistence.ParseStatusIdle
			record.QueuedAt = nil
			if next != nil {
				record.ParseStatus = persistence.ParseStatusQueued
				record.QueuedAt = &now
			}
		}
	}
	if params.Notes != nil {
		record.Notes = *params.Notes
	}
	record.UpdatedAt = now
	r.submissions[id] = record
	return record, nil
}

func (r *MemoryRepository) MarkQueued(ctx context.Context, id uuid.UUID, at time.Time) error {
	return r.mutate(ctx, id, func(record *persistence.SubmissionRecord) {
		record.ParseStatus = persistence.ParseStatusQueued
		record.QueuedAt = &at
	})
}

func (r *MemoryRepository) MarkProcessing(ctx context.Context, id uuid.UUID) error {
	return r.mutate(ctx, id, func(record *persistence.SubmissionRecord) {
		record.ParseStatus = persistence.ParseStatusProcessing
		record.ParseAttempts++
	})
}

func (r *MemoryRepository) SaveResult(ctx context.Context, params persistence.SaveParseResultParams) (persistence.SubmissionRecord, error) {
	var (
		saved   persistence.SubmissionRecord
		changed bool
	)
	err := r.mutate(ctx, params.ID, func(record *persistence.SubmissionRecord) {
		if !sameKey(record.ReceiptKey, params.ReceiptKey) {
			changed = true
			return
		}
		parsedAt := params.ParsedAt
		record.Parsed = append([]byte(nil), params.Parsed...)
		record.ParsedAt = &parsedAt
		record.ParseVersion = params.ParseVersion
		record.ParseStatus = params.Status
		record.QueuedAt = nil
		saved = *record
	})
	if err == nil && changed {
		return persistence.SubmissionRecord{}, persistence.ErrReceiptChanged
	}
	return saved, err
}

// ListStale mirrors the store query: a receipt, a queued or running parse, queued before the cutoff.
func (r *MemoryRepository) ListStale(_ context.Context, queuedBefore time.Time, limit int) ([]persistence.SubmissionRef, error) {
	r.mu.Lock()
	var stale []persistence.SubmissionRecord
	for _, record := range r.submissions {
		pending := record.ParseStatus == persistence.ParseStatusQueued || record.ParseStatus == persistence.ParseStatusProcessing
		if pending && record.ReceiptKey != nil && record.QueuedAt != nil && record.QueuedAt.Before(queuedBefore) {
			stale = append(stale, record)
		}
	}
	r.mu.Unlock()

	sort.Slice(stale, func(i, j int) bool { return stale[i].QueuedAt.Before(*stale[j].QueuedAt) })
	if limit > 0 && len(stale) > limit {
		stale = stale[:limit]
	}
	refs := make([]persistence.SubmissionRef, 0, len(stale))
	for _, record := range stale {
		refs = append(refs, persistence.SubmissionRef{TenantID: record.TenantID, ID: record.ID})
	}
	return refs, nil
}

func (r *MemoryRepository) mutate(ctx context.Context, id uuid.UUID, apply func(*persistence.SubmissionRecord)) error {
	space, err := tenant.Require(ctx)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	record, err := r.lookup(space.TenantID, id)
	if err != nil {
		return err
	}
	apply(&record)
	record.UpdatedAt = time.Now().UTC()
	r.submissions[id] = record
	return nil
}

func (r *MemoryRepository) lookup(tenantID, id uuid.UUID) (persistence.SubmissionRecord, error) {
	record, ok := r.submissions[id]
	if !ok || record.TenantID != tenantID {
		return persistence.SubmissionRecord{}, persistence.ErrSubmissionNotFound
	}
	return record, nil
}

func sameKey(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
