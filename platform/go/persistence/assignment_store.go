package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Assignment roles as stored in tender_assignments.role.
const (
	RoleViewer      = "viewer"
	RoleContributor = "contributor"
	RoleOwner       = "owner"
)

// AssignmentRecord mirrors a row of tender_assignments.
type AssignmentRecord struct {
	TenantID   uuid.UUID
	TenderID   uuid.UUID
	UserID     string
	Role       string
	AssignedBy string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// SetAssignmentParams upserts the (tender, user) row.
type SetAssignmentParams struct {
	TenantID   uuid.UUID
	TenderID   uuid.UUID
	UserID     string
	Role       string
	AssignedBy string
}

const assignmentColumns = `tenant_id, tender_id, user_id, role, assigned_by, created_at, updated_at`

// AssignmentStore is the pgx-backed store for per-tender role grants.
type AssignmentStore struct {
	pool *pgxpool.Pool
}

func NewAssignmentStore(pool *pgxpool.Pool) *AssignmentStore {
	if pool == nil {
		panic("assignment store requires pool")
	}
	return &AssignmentStore{pool: pool}
}

// TenderExists reports whether the tender is visible within the tenant.
func (s *AssignmentStore) TenderExists(ctx context.Context, tenantID, tenderID uuid.UUID) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM tenders WHERE tenant_id = $1 AND id = $2)`,
		tenantID, tenderID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check tender: %w", err)
	}
	return exists, nil
}

// GetRole returns the stored role, or an empty string when the user holds no assignment.
func (s *AssignmentStore) GetRole(ctx context.Context, tenantID, tenderID uuid.UUID, userID string) (string, error) {
	var role string
	err := s.pool.QueryRow(ctx, `SELECT role FROM tender_assignments
		WHERE tenant_id = $1 AND tender_id = $2 AND user_id = $3`, tenantID, tenderID, userID).Scan(&role)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get assignment role: %w", err)
	}
	return role, nil
}

// SetAssignment upserts the target row under the tender row lock. When the role is owner every
// other owner of the tender is demoted to contributor in the same transaction; their user ids
// are returned.
func (s *AssignmentStore) SetAssignment(ctx context.Context, params SetAssignmentParams) (AssignmentRecord, []string, error) {
	var (
		record  AssignmentRecord
		demoted []string
	)

	err := WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := lockTenderState(ctx, tx, params.TenantID, params.TenderID); err != nil {
			return err
		}

		var err error
		record, err = scanAssignment(tx.QueryRow(ctx, `
			INSERT INTO tender_assignments (tenant_id, tender_id, user_id, role, assigned_by)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (tenant_id, tender_id, user_id)
			DO UPDATE SET role = EXCLUDED.role, assigned_by = EXCLUDED.assigned_by, updated_at = NOW()
			RETURNING `+assignmentColumns,
			params.TenantID, params.TenderID, params.UserID, params.Role, params.AssignedBy))
		if err != nil {
			return fmt.Errorf("upsert assignment: %w", err)
		}

		if params.Role != RoleOwner {
			return nil
		}

		rows, err := tx.Query(ctx, `
			UPDATE tender_assignments SET role = $4, assigned_by = $5, updated_at = NOW()
			WHERE tenant_id = $1 AND tender_id = $2 AND user_id <> $3 AND role = 'owner'
			RETURNING user_id`,
			params.TenantID, params.TenderID, params.UserID, RoleContributor, params.AssignedBy)
		if err != nil {
			return fmt.Errorf("demote previous owners: %w", err)
		}
		demoted, err = pgx.CollectRows(rows, pgx.RowTo[string])
		if err != nil {
			return fmt.Errorf("collect demoted owners: %w", err)
		}
		return nil
	})
	if err != nil {
		return AssignmentRecord{}, nil, err
	}
	return record, demoted, nil
}

func (s *AssignmentStore) DeleteAssignment(ctx context.Context, tenantID, tenderID uuid.UUID, userID string) error {
	return WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := lockTenderState(ctx, tx, tenantID, tenderID); err != nil {
			return err
		}
		tag, err := tx.Exec(ctx, `DELETE FROM tender_assignments
			WHERE tenant_id = $1 AND tender_id = $2 AND user_id = $3`, tenantID, tenderID, userID)
		if err != nil {
			return fmt.Errorf("delete assignment: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrAssignmentNotFound
		}
		return nil
	})
}

func (s *AssignmentStore) ListAssignments(ctx context.Context, tenantID, tenderID uuid.UUID) ([]AssignmentRecord, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+assignmentColumns+` FROM tender_assignments
		WHERE tenant_id = $1 AND tender_id = $2
		ORDER BY CASE role WHEN 'owner' THEN 0 WHEN 'contributor' THEN 1 ELSE 2 END, user_id`, tenantID, tenderID)
	if err != nil {
		return nil, fmt.Errorf("list assignments: %w", err)
	}
	defer rows.Close()

	var records []AssignmentRecord
	for rows.Next() {
		record, err := scanAssignment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan assignment: %w", err)
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

func scanAssignment(row pgx.Row) (AssignmentRecord, error) {
	var r AssignmentRecord
	err := row.Scan(&r.TenantID, &r.TenderID, &r.UserID, &r.Role, &r.AssignedBy, &r.CreatedAt, &r.UpdatedAt)
	return r, err
}
