package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/zenGate-Global/tender-engine/platform/go/persistence"
	"github.com/zenGate-Global/tender-engine/platform/go/requesttrace"
)

// FieldErrors maps request fields to validation issues.
type FieldErrors map[string][]string

// ValidationError is returned when the input payload is invalid.
type ValidationError struct {
	Fields FieldErrors
}

func (v *ValidationError) Error() string {
	return "validation error"
}

// Domain sentinel errors.
var (
	ErrNotFound       = errors.New("assignment not found")
	ErrTenderNotFound = errors.New("tender not found")
	ErrForbidden      = errors.New("insufficient role on tender")
)

// Role is a per-tender grant. Roles are ordered owner > contributor > viewer > none.
type Role string

const (
	RoleNone        Role = "none"
	RoleViewer      Role = "viewer"
	RoleContributor Role = "contributor"
	RoleOwner       Role = "owner"
)

func (r Role) rank() int {
	switch r {
	case RoleOwner:
		return 3
	case RoleContributor:
		return 2
	case RoleViewer:
		return 1
	default:
		return 0
	}
}

// AtLeast reports whether r grants everything min grants.
func (r Role) AtLeast(min Role) bool {
	return r.rank() >= min.rank()
}

// ParseRole accepts the assignable roles; none is not assignable.
func ParseRole(value string) (Role, bool) {
	switch Role(strings.ToLower(strings.TrimSpace(value))) {
	case RoleViewer:
		return RoleViewer, true
	case RoleContributor:
		return RoleContributor, true
	case RoleOwner:
		return RoleOwner, true
	default:
		return "", false
	}
}

type Assignment struct {
	TenderID   uuid.UUID
	UserID     string
	Role       Role
	AssignedBy string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// SetResult carries the written assignment and the users demoted from owner by it.
type SetResult struct {
	Assignment Assignment
	Demoted    []string
}

// Authorizer is the slice of the service other domains use to gate per-tender actions.
type Authorizer interface {
	RequireMinRole(ctx context.Context, audit requesttrace.AuditInfo, tenderID uuid.UUID, min Role) error
}

// Service defines the business operations for per-tender assignments.
type Service interface {
	Authorizer
	ResolveRole(ctx context.Context, tenderID uuid.UUID, userID string) (Role, error)
	Set(ctx context.Context, audit requesttrace.AuditInfo, tenderID uuid.UUID, userID string, role string) (SetResult, error)
	Remove(ctx context.Context, audit requesttrace.AuditInfo, tenderID uuid.UUID, userID string) error
	List(ctx context.Context, tenderID uuid.UUID) ([]Assignment, error)
}

// Repository is implemented by the postgres and memory repositories in the repo package.
type Repository interface {
	TenderExists(ctx context.Context, tenderID uuid.UUID) (bool, error)
	GetRole(ctx context.Context, tenderID uuid.UUID, userID string) (string, error)
	Set(ctx context.Context, tenderID uuid.UUID, userID, role, assignedBy string) (persistence.AssignmentRecord, []string, error)
	Delete(ctx context.Context, tenderID uuid.UUID, userID string) error
	List(ctx context.Context, tenderID uuid.UUID) ([]persistence.AssignmentRecord, error)
}

type service struct {
	repo Repository
}

// New constructs an assignments Service backed by the provided repository.
func New(r Repository) Service {
	if r == nil {
		panic("assignments repository is required")
	}
	return &service{repo: r}
}

func (s *service) ResolveRole(ctx context.Context, tenderID uuid.UUID, userID string) (Role, error) {
	if tenderID == uuid.Nil || userID == "" {
		return RoleNone, nil
	}
	stored, err := s.repo.GetRole(ctx, tenderID, userID)
	if err != nil {
		return RoleNone, mapPersistenceError(err)
	}
	if role, ok := ParseRole(stored); ok {
		return role, nil
	}
	return RoleNone, nil
}

// RequireMinRole returns ErrForbidden unless the actor is privileged or holds at least min on the tender.
func (s *service) RequireMinRole(ctx context.Context, audit requesttrace.AuditInfo, tenderID uuid.UUID, min Role) error {
	if audit.Privileged() {
		return nil
	}
	if audit.UserID == nil || *audit.UserID == "" {
		return ErrForbidden
	}

	role, err := s.ResolveRole(ctx, tenderID, *audit.UserID)
	if err != nil {
		return err
	}
	if !role.AtLeast(min) {
		return ErrForbidden
	}
	return nil
}

func (s *service) Set(ctx context.Context, audit requesttrace.AuditInfo, tenderID uuid.UUID, userID string, role string) (SetResult, error) {
	fieldErrors := FieldErrors{}

	userID = strings.TrimSpace(userID)
	if userID == "" {
		fieldErrors.add("userId", "userId is required")
	}
	parsed, ok := ParseRole(role)
	if !ok {
		fieldErrors.add("role", "role must be one of viewer, contributor, owner")
	}
	if len(fieldErrors) > 0 {
		return SetResult{}, &ValidationError{Fields: fieldErrors}
	}
	if err := s.requireTender(ctx, tenderID); err != nil {
		return SetResult{}, err
	}
	if err := s.RequireMinRole(ctx, audit, tenderID, RoleOwner); err != nil {
		return SetResult{}, err
	}

	record, demoted, err := s.repo.Set(ctx, tenderID, userID, string(parsed), audit.ActorID())
	if err != nil {
		return SetResult{}, mapPersistenceError(err)
	}

	return SetResult{Assignment: mapAssignment(record), Demoted: demoted}, nil
}

func (s *service) Remove(ctx context.Context, audit requesttrace.AuditInfo, tenderID uuid.UUID, userID string) error {
	if tenderID == uuid.Nil || strings.TrimSpace(userID) == "" {
		return ErrNotFound
	}
	if err := s.requireTender(ctx, tenderID); err != nil {
		return err
	}
	if err := s.RequireMinRole(ctx, audit, tenderID, RoleOwner); err != nil {
		return err
	}

	if err := s.repo.Delete(ctx, tenderID, strings.TrimSpace(userID)); err != nil {
		return mapPersistenceError(err)
	}
	return nil
}

func (s *service) List(ctx context.Context, tenderID uuid.UUID) ([]Assignment, error) {
	if tenderID == uuid.Nil {
		return nil, ErrTenderNotFound
	}

	records, err := s.repo.List(ctx, tenderID)
	if err != nil {
		return nil, mapPersistenceError(err)
	}

	items := make([]Assignment, 0, len(records))
	for _, record := range records {
		items = append(items, mapAssignment(record))
	}
	return items, nil
}

// requireTender reports a missing tender ahead of any role check.
func (s *service) requireTender(ctx context.Context, tenderID uuid.UUID) error {
	if tenderID == uuid.Nil {
		return ErrTenderNotFound
	}
	exists, err := s.repo.TenderExists(ctx, tenderID)
	if err != nil {
		return mapPersistenceError(err)
	}
	if !exists {
		return ErrTenderNotFound
	}
	return nil
}

func mapAssignment(record persistence.AssignmentRecord) Assignment {
	role, ok := ParseRole(record.Role)
	if !ok {
		role = RoleNone
	}
	return Assignment{
		TenderID:   record.TenderID,
		UserID:     record.UserID,
		Role:       role,
		AssignedBy: record.AssignedBy,
		CreatedAt:  record.CreatedAt,
		UpdatedAt:  record.UpdatedAt,
	}
}

func mapPersistenceError(err error) error {
	switch {
	case errors.Is(err, persistence.ErrAssignmentNotFound):
		return ErrNotFound
	case errors.Is(err, persistence.ErrTenderNotFound):
		return ErrTenderNotFound
	default:
		return err
	}
}

func (f FieldErrors) add(field, message string) {
	if f == nil {
		return
	}
	f[field] = append(f[field], message)
}
