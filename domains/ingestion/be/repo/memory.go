package repo

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zenGate-Global/tender-engine/platform/go/persistence"
	"github.com/zenGate-Global/tender-engine/platform/go/tenant"
)

type dedupeKey struct {
	tenantID uuid.UUID
	source   string
	external bool
	key      string
}

// MemoryRepository is an in-memory implementation suitable for tests and early development.
// It applies the same dedupe rules as the tenders table.
type MemoryRepository struct {
	mu      sync.Mutex
	tenders map[dedupeKey]persistence.TenderRecord
	runs    map[uuid.UUID]persistence.IngestionRunRecord
	writes  int
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		tenders: make(map[dedupeKey]persistence.TenderRecord),
		runs:    make(map[uuid.UUID]persistence.IngestionRunRecord),
	}
}

// Tenders returns every stored tender of tenantID.
func (r *MemoryRepository) Tenders(tenantID uuid.UUID) []persistence.TenderRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []persistence.TenderRecord
	for _, record := range r.tenders {
		if record.TenantID == tenantID {
			out = append(out, record)
		}
	}
	return out
}

// Writes counts inserts and updates, not unchanged upserts.
func (r *MemoryRepository) Writes() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.writes
}

// SetState changes a stored tender's state, standing in for a lifecycle transition.
func (r *MemoryRepository) SetState(id uuid.UUID, state string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for k, record := range r.tenders {
		if record.ID == id {
			record.State = state
			r.tenders[k] = record
		}
	}
}

func (r *MemoryRepository) Upsert(ctx context.Context, p persistence.UpsertTenderParams) (persistence.TenderRecord, persistence.UpsertOutcome, error) {
	space, err := tenant.Require(ctx)
	if err != nil {
		return persistence.TenderRecord{}, "", err
	}

	source := strings.ToLower(p.Source)
	key := dedupeKey{tenantID: space.TenantID, source: source, key: p.Hash}
	if p.ExternalID != nil {
		key = dedupeKey{tenantID: space.TenantID, source: source, external: true, key: *p.ExternalID}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()
	existing, ok := r.tenders[key]
	if ok && existing.ContentChecksum == p.ContentChecksum {
		return existing, persistence.UpsertUnchanged, nil
	}

	record := existing
	outcome := persistence.UpsertUpdated
	if !ok {
		record = persistence.TenderRecord{
			ID:         uuid.New(),
			TenantID:   space.TenantID,
			State:      p.InitialState,
			Source:     p.Source,
			ExternalID: p.ExternalID,
			CreatedAt:  now,
		}
		outcome = persistence.UpsertInserted
	}
	record.Hash = p.Hash
	record.Title = p.Title
	record.Buyer = p.Buyer
	record.Deadline = p.Deadline
	record.BudgetAmount = p.BudgetAmount
	record.BudgetCurrency = p.BudgetCurrency
	record.ClassificationCode = p.ClassificationCode
	record.Country = p.Country
	record.SourceURL = p.SourceURL
	record.Description = p.Description
	record.Location = p.Location
	record.PublishedAt = p.PublishedAt
	record.ContentChecksum = p.ContentChecksum
	record.UpdatedAt = now

	r.tenders[key] = record
	r.writes++
	return record, outcome, nil
}

func (r *MemoryRepository) CreateRun(ctx context.Context, p persistence.CreateIngestionRunParams) (persistence.IngestionRunRecord, error) {
	space, err := tenant.Require(ctx)
	if err != nil {
		return persistence.IngestionRunRecord{}, err
	}
	record := persistence.IngestionRunRecord{
		ID:        p.ID,
		TenantID:  space.TenantID,
		Source:    p.Source,
		Trigger:   p.Trigger,
		Status:    "running",
		Received:  p.Received,
		Errors:    json.RawMessage(`[]`),
		StartedAt: time.Now().UTC(),
	}
	r.mu.Lock()
	r.runs[record.ID] = record
	r.mu.Unlock()
	return record, nil
}

func (r *MemoryRepository) FinishRun(ctx context.Context, p persistence.FinishIngestionRunParams) (persistence.IngestionRunRecord, error) {
	space, err := tenant.Require(ctx)
	if err != nil {
		return persistence.IngestionRunRecord{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	record, ok := r.runs[p.ID]
	if !ok || record.TenantID != space.TenantID {
		return persistence.IngestionRunRecord{}, persistence.ErrIngestionRunNotFound
	}
	completed := p.CompletedAt
	record.Status = p.Status
	record.Inserted = p.Inserted
	record.Updated = p.Updated
	record.Unchanged = p.Unchanged
	record.Failed = p.Failed
	record.Errors = p.Errors
	record.CompletedAt = &completed
	r.runs[p.ID] = record
	return record, nil
}

func (r *MemoryRepository) GetRun(ctx context.Context, id uuid.UUID) (persistence.IngestionRunRecord, error) {
	space, err := tenant.Require(ctx)
	if err != nil {
		return persistence.IngestionRunRecord{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	record, ok := r.runs[id]
	if !ok || record.TenantID != space.TenantID {
		return persistence.IngestionRunRecord{}, persistence.ErrIngestionRunNotFound
	}
	return record, nil
}
