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

// Parse status values of submissions.parse_status.
const (
	ParseStatusIdle       = "idle"
	ParseStatusQueued     = "queued"
	ParseStatusProcessing = "processing"
	ParseStatusSucceeded  = "succeeded"
	ParseStatusFailed     = "failed"
)

// SubmissionRecord mirrors a row of the submissions table.
type SubmissionRecord struct {
	ID            uuid.UUID
	TenantID      uuid.UUID
	TenderID      uuid.UUID
	Method        string
	SubmittedAt   time.Time
	SubmittedBy   string
	ReceiptKey    *string
	Notes         string
	Parsed        json.RawMessage
	ParsedAt      *time.Time
	ParseVersion  *string
	ParseStatus   string
	ParseAttempts int
	QueuedAt      *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type CreateSubmissionParams struct {
	ID          uuid.UUID
	TenantID    uuid.UUID
	TenderID    uuid.UUID
	Method      string
	SubmittedAt time.Time
	SubmittedBy string
	ReceiptKey  *string
	Notes       string
}

// UpdateSubmissionParams applies only the non-nil fields. An empty ReceiptKey clears the receipt.
// Replacing or clearing the receipt discards the stored parse.
type UpdateSubmissionParams struct {
	Method      *string
	SubmittedAt *time.Time
	ReceiptKey  *string
	Notes       *string
}

// SaveParseResultParams stores the outcome of one parse run. ReceiptKey is the receipt that was
// parsed; nil means the submission had none.
type SaveParseResultParams struct {
	TenantID     uuid.UUID
	ID           uuid.UUID
	ReceiptKey   *string
	Parsed       json.RawMessage
	ParsedAt     time.Time
	ParseVersion *string
	Status       string
}

// SubmissionRef identifies a submission across tenants for background sweeps.
type SubmissionRef struct {
	TenantID uuid.UUID
	ID       uuid.UUID
}

const submissionColumns = `id, tenant_id, tender_id, method, submitted_at, submitted_by, receipt_key, notes,
	parsed, parsed_at, parse_version, parse_status, parse_attempts, queued_at, created_at, updated_at`

// SubmissionStore is the pgx-backed store for tender submissions and their parse results.
type SubmissionStore struct {
	pool *pgxpool.Pool
}

func NewSubmissionStore(pool *pgxpool.Pool) *SubmissionStore {
	if pool == nil {
		panic("submission store requires pool")
	}
	return &SubmissionStore{pool: pool}
}

func (s *SubmissionStore) CreateSubmission(ctx context.Context, p CreateSubmissionParams) (SubmissionRecord, error) {
	// The tenant filter on the tender keeps a foreign tender id from being attached.
	record, err := scanSubmission(s.pool.QueryRow(ctx, `
		INSERT INTO submissions (id, tenant_id, tender_id, method, submitted_at, submitted_by, receipt_key, notes)
		SELECT $1, $2, t.id, $4, $5, $6, $7, $8 FROM tenders t WHERE t.tenant_id = $2 AND t.id = $3
		RETURNING `+submissionColumns,
		p.ID, p.TenantID, p.TenderID, p.Method, p.SubmittedAt, p.SubmittedBy, p.ReceiptKey, p.Notes))
	if errors.Is(err, pgx.ErrNoRows) || isForeignKeyViolation(err) {
		return SubmissionRecord{}, ErrTenderNotFound
	}
	if err != nil {
		return SubmissionRecord{}, fmt.Errorf("create submission: %w", err)
	}
	return record, nil
}

func (s *SubmissionStore) GetSubmission(ctx context.Context, tenantID, id uuid.UUID) (SubmissionRecord, error) {
	record, err := scanSubmission(s.pool.QueryRow(ctx, `SELECT `+submissionColumns+` FROM submissions
		WHERE tenant_id = $1 AND id = $2`, tenantID, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return SubmissionRecord{}, ErrSubmissionNotFound
	}
	if err != nil {
		return SubmissionRecord{}, fmt.Errorf("get submission: %w", err)
	}
	return record, nil
}

func (s *SubmissionStore) ListSubmissions(ctx context.Context, tenantID, tenderID uuid.UUID) ([]SubmissionRecord, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+submissionColumns+` FROM submissions
		WHERE tenant_id = $1 AND tender_id = $2 ORDER BY submitted_at DESC, id`, tenantID, tenderID)
	if err != nil {
		return nil, fmt.Errorf("list submissions: %w", err)
	}
	defer rows.Close()

	var records []SubmissionRecord
	for rows.Next() {
		record, err := scanSubmission(rows)
		if err != nil {
			return nil, fmt.Errorf("scan submission: %w", err)
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

func (s *SubmissionStore) UpdateSubmission(ctx context.Context, tenantID, id uuid.UUID, p UpdateSubmissionParams) (SubmissionRecord, error) {
	// A replaced receipt drops the previous parse and is queued in the same write, so the stale
	// sweeper finds it even when the enqueue that follows fails. A removed receipt goes idle.
	record, err := scanSubmission(s.pool.QueryRow(ctx, `
		WITH target AS (
			SELECT id AS target_id,
				CASE WHEN $5::text IS NULL THEN receipt_key ELSE NULLIF($5::text, '') END AS next_key,
				receipt_key AS prev_key
			FROM submissions WHERE tenant_id = $1 AND id = $2 FOR UPDATE
		), change AS (
			SELECT target_id, next_key, next_key IS DISTINCT FROM prev_key AS replaced FROM target
		)
		UPDATE submissions SET
			method = COALESCE($3, method),
			submitted_at = COALESCE($4, submitted_at),
			receipt_key = change.next_key,
			notes = COALESCE($6, notes),
			parsed = CASE WHEN change.replaced THEN NULL ELSE parsed END,
			parsed_at = CASE WHEN change.replaced THEN NULL ELSE parsed_at END,
			parse_version = CASE WHEN change.replaced THEN NULL ELSE parse_version END,
			parse_attempts = CASE WHEN change.replaced THEN 0 ELSE parse_attempts END,
			parse_status = CASE
				WHEN NOT change.replaced THEN parse_status
				WHEN change.next_key IS NULL THEN $7
				ELSE $8 END,
			queued_at = CASE
				WHEN NOT change.replaced THEN queued_at
				WHEN change.next_key IS NULL THEN NULL
				ELSE NOW() END,
			updated_at = NOW()
		FROM change
		WHERE tenant_id = $1 AND id = change.target_id
		RETURNING `+submissionColumns,
		tenantID, id, p.Method, p.SubmittedAt, p.ReceiptKey, p.Notes, ParseStatusIdle, ParseStatusQueued))
	if errors.Is(err, pgx.ErrNoRows) {
		return SubmissionRecord{}, ErrSubmissionNotFound
	}
	if err != nil {
		return SubmissionRecord{}, fmt.Errorf("update submission: %w", err)
	}
	return record, nil
}

// MarkParseQueued flags the submission as waiting for a parse job.
func (s *SubmissionStore) MarkParseQueued(ctx context.Context, tenantID, id uuid.UUID, at time.Time) error {
	return s.execOne(ctx, `UPDATE submissions SET parse_status = $3, queued_at = $4, updated_at = NOW()
		WHERE tenant_id = $1 AND id = $2`, tenantID, id, ParseStatusQueued, at)
}

// MarkParseProcessing records the start of a parse attempt.
func (s *SubmissionStore) MarkParseProcessing(ctx context.Context, tenantID, id uuid.UUID) error {
	return s.execOne(ctx, `UPDATE submissions SET parse_status = $3, parse_attempts = parse_attempts + 1, updated_at = NOW()
		WHERE tenant_id = $1 AND id = $2`, tenantID, id, ParseStatusProcessing)
}

// SaveParseResult stores a parse outcome only while the submission still points at the receipt
// that was parsed. Otherwise it returns ErrReceiptChanged and writes nothing.
func (s *SubmissionStore) SaveParseResult(ctx context.Context, p SaveParseResultParams) (SubmissionRecord, error) {
	record, err := scanSubmission(s.pool.QueryRow(ctx, `
		UPDATE submissions SET parsed = $3, parsed_at = $4, parse_version = $5, parse_status = $6,
			queued_at = NULL, updated_at = NOW()
		WHERE tenant_id = $1 AND id = $2 AND receipt_key IS NOT DISTINCT FROM $7
		RETURNING `+submissionColumns,
		p.TenantID, p.ID, p.Parsed, p.ParsedAt, p.ParseVersion, p.Status, p.ReceiptKey))
	if errors.Is(err, pgx.ErrNoRows) {
		if _, getErr := s.GetSubmission(ctx, p.TenantID, p.ID); getErr != nil {
			return SubmissionRecord{}, getErr
		}
		return SubmissionRecord{}, ErrReceiptChanged
	}
	if err != nil {
		return SubmissionRecord{}, fmt.Errorf("save parse result: %w", err)
	}
	return record, nil
}

// ListStaleParses returns submissions whose parse was queued before the cutoff and has not
// finished since, whether or not an older result is stored.
// This is the only cross-tenant read; callers re-enqueue each ref under its own tenant.
func (s *SubmissionStore) ListStaleParses(ctx context.Context, queuedBefore time.Time, limit int) ([]SubmissionRef, error) {
	rows, err := s.pool.Query(ctx, `SELECT tenant_id, id FROM submissions
		WHERE parse_status IN ($3, $4) AND receipt_key IS NOT NULL AND queued_at < $1
		ORDER BY queued_at LIMIT $2`, queuedBefore, limit, ParseStatusQueued, ParseStatusProcessing)
	if err != nil {
		return nil, fmt.Errorf("list stale parses: %w", err)
	}
	refs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (SubmissionRef, error) {
		var ref SubmissionRef
		err := row.Scan(&ref.TenantID, &ref.ID)
		return ref, err
	})
	if err != nil {
		return nil, fmt.Errorf("collect stale parses: %w", err)
	}
	return refs, nil
}

func (s *SubmissionStore) execOne(ctx context.Context, sql string, args ...any) error {
	tag, err := s.pool.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("update submission parse state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrSubmissionNotFound
	}
	return nil
}

func scanSubmission(row pgx.Row) (SubmissionRecord, error) {
	var (
		r      SubmissionRecord
		parsed []byte
	)
	err := row.Scan(&r.ID, &r.TenantID, &r.TenderID, &r.Method, &r.SubmittedAt, &r.SubmittedBy, &r.ReceiptKey,
		&r.Notes, &parsed, &r.ParsedAt, &r.ParseVersion, &r.ParseStatus, &r.ParseAttempts, &r.QueuedAt,
		&r.CreatedAt, &r.UpdatedAt)
	if len(parsed) > 0 {
		r.Parsed = json.RawMessage(parsed)
	}
	return r, err
}
