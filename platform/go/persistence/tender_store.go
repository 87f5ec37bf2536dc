package persistence

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// TenderRecord mirrors a row of the tenders table.
type TenderRecord struct {
	ID                 uuid.UUID
	TenantID           uuid.UUID
	State              string
	Source             string
	ExternalID         *string
	Hash               string
	Title              string
	Buyer              string
	Deadline           *time.Time
	BudgetAmount       *float64
	BudgetCurrency     string
	ClassificationCode string
	Country            string
	SourceURL          string
	Description        string
	Location           string
	PublishedAt        *time.Time
	ContentChecksum    string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// AuditRecord mirrors a row of the tender_audit table.
type AuditRecord struct {
	ID        uuid.UUID
	TenantID  uuid.UUID
	TenderID  uuid.UUID
	ActorID   string
	FromState string
	ToState   string
	Note      *string
	RequestID string
	CreatedAt time.Time
}

// ListTendersParams filters a tenant's tenders.
type ListTendersParams struct {
	State  *string
	Source *string
	Limit  int
	Offset int
}

// TransitionTenderParams describes a guarded state change.
// Guard runs against the locked current state; a non-nil error aborts without writing.
type TransitionTenderParams struct {
	TenantID  uuid.UUID
	TenderID  uuid.UUID
	Target    string
	ActorID   string
	Note      *string
	RequestID string
	Guard     func(current string) error
}

// UpsertOutcome reports what an ingestion upsert did.
type UpsertOutcome string

const (
	UpsertInserted  UpsertOutcome = "inserted"
	UpsertUpdated   UpsertOutcome = "updated"
	UpsertUnchanged UpsertOutcome = "unchanged"
)

// UpsertTenderParams carries a normalised source record keyed by
// (tenant, source, external id) or, without an external id, (tenant, source, hash).
// Source keys compare case-insensitively; the stored source keeps the case first seen.
type UpsertTenderParams struct {
	TenantID           uuid.UUID
	InitialState       string
	Source             string
	ExternalID         *string
	Hash               string
	Title              string
	Buyer              string
	Deadline           *time.Time
	BudgetAmount       *float64
	BudgetCurrency     string
	ClassificationCode string
	Country            string
	SourceURL          string
	Description        string
	Location           string
	PublishedAt        *time.Time
	ContentChecksum    string
}

var errUpsertRace = errors.New("concurrent insert on dedupe key")

const tenderColumns = `id, tenant_id, state, source, external_id, hash, title, buyer, deadline,
	budget_amount::float8, budget_currency, classification_code, country, source_url, description,
	location, published_at, content_checksum, created_at, updated_at`

const auditColumns = `id, tenant_id, tender_id, actor_id, from_state, to_state, note, request_id, created_at`

// TenderStore is the pgx-backed store for tenders and their audit trail.
type TenderStore struct {
	pool *pgxpool.Pool
}

func NewTenderStore(pool *pgxpool.Pool) *TenderStore {
	if pool == nil {
		panic("tender store requires pool")
	}
	return &TenderStore{pool: pool}
}

func (s *TenderStore) GetTender(ctx context.Context, tenantID, id uuid.UUID) (TenderRecord, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+tenderColumns+` FROM tenders WHERE tenant_id = $1 AND id = $2`, tenantID, id)
	record, err := scanTender(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return TenderRecord{}, ErrTenderNotFound
	}
	if err != nil {
		return TenderRecord{}, fmt.Errorf("get tender: %w", err)
	}
	return record, nil
}

func (s *TenderStore) ListTenders(ctx context.Context, tenantID uuid.UUID, params ListTendersParams) ([]TenderRecord, int, error) {
	where := []string{"tenant_id = $1"}
	args := []any{tenantID}
	if params.State != nil {
		args = append(args, *params.State)
		where = append(where, fmt.Sprintf("state = $%d", len(args)))
	}
	if params.Source != nil {
		args = append(args, *params.Source)
		where = append(where, fmt.Sprintf("lower(source) = lower($%d)", len(args)))
	}
	clause := strings.Join(where, " AND ")

	var total int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM tenders WHERE `+clause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count tenders: %w", err)
	}

	limit := params.Limit
	if limit <= 0 {
		limit = 20
	}
	args = append(args, limit, params.Offset)
	query := fmt.Sprintf(`SELECT %s FROM tenders WHERE %s ORDER BY updated_at DESC, id LIMIT $%d OFFSET $%d`,
		tenderColumns, clause, len(args)-1, len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list tenders: %w", err)
	}
	defer rows.Close()

	var records []TenderRecord
	for rows.Next() {
		record, err := scanTender(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan tender: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate tenders: %w", err)
	}
	return records, total, nil
}

// TransitionTender locks the tender row, runs the guard on the locked state, then updates the
// state and appends one audit row in the same transaction.
func (s *TenderStore) TransitionTender(ctx context.Context, params TransitionTenderParams) (TenderRecord, AuditRecord, error) {
	var (
		tender TenderRecord
		audit  AuditRecord
	)

	err := WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		current, err := lockTenderState(ctx, tx, params.TenantID, params.TenderID)
		if err != nil {
			return err
		}

		if params.Guard != nil {
			if err := params.Guard(current); err != nil {
				return err
			}
		}

		tender, err = scanTender(tx.QueryRow(ctx, `
			UPDATE tenders SET state = $3, updated_at = NOW()
			WHERE tenant_id = $1 AND id = $2
			RETURNING `+tenderColumns,
			params.TenantID, params.TenderID, params.Target))
		if err != nil {
			return fmt.Errorf("update tender state: %w", err)
		}

		audit, err = scanAudit(tx.QueryRow(ctx, `
			INSERT INTO tender_audit (id, tenant_id, tender_id, actor_id, from_state, to_state, note, request_id)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			RETURNING `+auditColumns,
			uuid.New(), params.TenantID, params.TenderID, params.ActorID, current, params.Target, params.Note, params.RequestID))
		if err != nil {
			return fmt.Errorf("insert tender audit: %w", err)
		}
		return nil
	})
	if err != nil {
		return TenderRecord{}, AuditRecord{}, err
	}
	return tender, audit, nil
}

func (s *TenderStore) ListAudit(ctx context.Context, tenantID, tenderID uuid.UUID) ([]AuditRecord, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+auditColumns+` FROM tender_audit
		WHERE tenant_id = $1 AND tender_id = $2 ORDER BY created_at, id`, tenantID, tenderID)
	if err != nil {
		return nil, fmt.Errorf("list tender audit: %w", err)
	}
	defer rows.Close()

	var records []AuditRecord
	for rows.Next() {
		record, err := scanAudit(rows)
		if err != nil {
			return nil, fmt.Errorf("scan tender audit: %w", err)
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

// UpsertTender inserts or refreshes a tender on its dedupe key. State is only written on insert.
func (s *TenderStore) UpsertTender(ctx context.Context, params UpsertTenderParams) (TenderRecord, UpsertOutcome, error) {
	for attempt := 0; attempt < 2; attempt++ {
		record, outcome, err := s.upsertOnce(ctx, params)
		if errors.Is(err, errUpsertRace) {
			continue
		}
		return record, outcome, err
	}
	return TenderRecord{}, "", fmt.Errorf("upsert tender: %w", errUpsertRace)
}

func (s *TenderStore) upsertOnce(ctx context.Context, p UpsertTenderParams) (TenderRecord, UpsertOutcome, error) {
	var (
		record  TenderRecord
		outcome UpsertOutcome
	)

	err := WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		var row pgx.Row
		if p.ExternalID != nil {
			row = tx.QueryRow(ctx, `SELECT `+tenderColumns+` FROM tenders
				WHERE tenant_id = $1 AND lower(source) = lower($2) AND external_id = $3 FOR UPDATE`,
				p.TenantID, p.Source, *p.ExternalID)
		} else {
			row = tx.QueryRow(ctx, `SELECT `+tenderColumns+` FROM tenders
				WHERE tenant_id = $1 AND lower(source) = lower($2) AND external_id IS NULL AND hash = $3 FOR UPDATE`,
				p.TenantID, p.Source, p.Hash)
		}

		existing, err := scanTender(row)
		switch {
		case err == nil:
			if existing.ContentChecksum == p.ContentChecksum {
				record, outcome = existing, UpsertUnchanged
				return nil
			}
			record, err = scanTender(tx.QueryRow(ctx, `
				UPDATE tenders SET
					hash = $3, title = $4, buyer = $5, deadline = $6, budget_amount = $7, budget_currency = $8,
					classification_code = $9, country = $10, source_url = $11, description = $12, location = $13,
					published_at = $14, content_checksum = $15, updated_at = NOW()
				WHERE tenant_id = $1 AND id = $2
				RETURNING `+tenderColumns,
				p.TenantID, existing.ID, p.Hash, p.Title, p.Buyer, p.Deadline, p.BudgetAmount, p.BudgetCurrency,
				p.ClassificationCode, p.Country, p.SourceURL, p.Description, p.Location, p.PublishedAt, p.ContentChecksum))
			if err != nil {
				return fmt.Errorf("update tender: %w", err)
			}
			outcome = UpsertUpdated
			return nil
		case errors.Is(err, pgx.ErrNoRows):
		default:
			return fmt.Errorf("lookup tender by dedupe key: %w", err)
		}

		record, err = scanTender(tx.QueryRow(ctx, `
			INSERT INTO tenders (id, tenant_id, state, source, external_id, hash, title, buyer, deadline,
				budget_amount, budget_currency, classification_code, country, source_url, description, location,
				published_at, content_checksum)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
			ON CONFLICT DO NOTHING
			RETURNING `+tenderColumns,
			uuid.New(), p.TenantID, p.InitialState, p.Source, p.ExternalID, p.Hash, p.Title, p.Buyer, p.Deadline,
			p.BudgetAmount, p.BudgetCurrency, p.ClassificationCode, p.Country, p.SourceURL, p.Description, p.Location,
			p.PublishedAt, p.ContentChecksum))
		if errors.Is(err, pgx.ErrNoRows) {
			return errUpsertRace
		}
		if err != nil {
			return fmt.Errorf("insert tender: %w", err)
		}
		outcome = UpsertInserted
		return nil
	})
	if err != nil {
		return TenderRecord{}, "", err
	}
	return record, outcome, nil
}

// lockTenderState takes the row lock that linearizes transitions and assignment writes per tender.
func lockTenderState(ctx context.Context, tx pgx.Tx, tenantID, tenderID uuid.UUID) (string, error) {
	var state string
	err := tx.QueryRow(ctx, `SELECT state FROM tenders WHERE tenant_id = $1 AND id = $2 FOR UPDATE`,
		tenantID, tenderID).Scan(&state)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrTenderNotFound
	}
	if err != nil {
		return "", fmt.Errorf("lock tender: %w", err)
	}
	return state, nil
}

func scanTender(row pgx.Row) (TenderRecord, error) {
	var r TenderRecord
	err := row.Scan(
		&r.ID, &r.TenantID, &r.State, &r.Source, &r.ExternalID, &r.Hash, &r.Title, &r.Buyer, &r.Deadline,
		&r.BudgetAmount, &r.BudgetCurrency, &r.ClassificationCode, &r.Country, &r.SourceURL, &r.Description,
		&r.Location, &r.PublishedAt, &r.ContentChecksum, &r.CreatedAt, &r.UpdatedAt,
	)
	return r, err
}

func scanAudit(row pgx.Row) (AuditRecord, error) {
	var r AuditRecord
	err := row.Scan(&r.ID, &r.TenantID, &r.TenderID, &r.ActorID, &r.FromState, &r.ToState, &r.Note, &r.RequestID, &r.CreatedAt)
	return r, err
}
