package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	assignments "github.com/zenGate-Global/tender-engine/domains/assignments/be/service"
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

// InvalidTransitionError reports a target state that is not reachable from the current one.
type InvalidTransitionError struct {
	From State
	To   State
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition from %s to %s", e.From, e.To)
}

// Domain sentinel errors.
var (
	ErrNotFound  = errors.New("tender not found")
	ErrForbidden = errors.New("tender owner or tenant admin required")
)

type Tender struct {
	ID                 uuid.UUID
	State              State
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
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// AllowedTransitions lists the states the tender may move to next.
func (t Tender) AllowedTransitions() []State {
	return AllowedTargets(t.State)
}

// AuditEntry is one recorded state change.
type AuditEntry struct {
	ID        uuid.UUID
	TenderID  uuid.UUID
	ActorID   string
	From      State
	To        State
	Note      *string
	RequestID string
	CreatedAt time.Time
}

// ListOptions captures filters and pagination.
type ListOptions struct {
	Page     int
	PageSize int
	State    *string
	Source   *string
}

// ListResult wraps paginated tenders.
type ListResult struct {
	Tenders    []Tender
	Page       int
	PageSize   int
	TotalItems int
	TotalPages int
}

// TransitionInput is the requested state change.
type TransitionInput struct {
	TargetState string
	Note        *string
}

// Service defines the lifecycle operations on tenders.
type Service interface {
	Get(ctx context.Context, id uuid.UUID) (Tender, error)
	List(ctx context.Context, opts ListOptions) (ListResult, error)
	Transition(ctx context.Context, audit requesttrace.AuditInfo, id uuid.UUID, input TransitionInput) (Tender, error)
	ListAudit(ctx context.Context, id uuid.UUID) ([]AuditEntry, error)
}

// TransitionParams is what the repository needs to apply a state change atomically.
// Guard runs against the row-locked state before anything is written.
type TransitionParams struct {
	TenderID  uuid.UUID
	Target    State
	ActorID   string
	Note      *string
	RequestID string
	Guard     func(current string) error
}

// Repository is implemented by the postgres and memory repositories in the repo package.
type Repository interface {
	Get(ctx context.Context, id uuid.UUID) (persistence.TenderRecord, error)
	List(ctx context.Context, params persistence.ListTendersParams) ([]persistence.TenderRecord, int, error)
	Transition(ctx context.Context, params TransitionParams) (persistence.TenderRecord, persistence.AuditRecord, error)
	ListAudit(ctx context.Context, id uuid.UUID) ([]persistence.AuditRecord, error)
}

type service struct {
	repo  Repository
	authz assignments.Authorizer
}

// New constructs a tenders Service. Transitions are authorised through authz.
func New(r Repository, authz assignments.Authorizer) Service {
	if r == nil {
		panic("tenders repository is required")
	}
	if authz == nil {
		panic("assignments authorizer is required")
	}
	return &service{repo: r, authz: authz}
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (Tender, error) {
	if id == uuid.Nil {
		return Tender{}, ErrNotFound
	}
	record, err := s.repo.Get(ctx, id)
	if err != nil {
		return Tender{}, translateError(err)
	}
	return mapTender(record), nil
}

func (s *service) List(ctx context.Context, opts ListOptions) (ListResult, error) {
	fieldErrors := FieldErrors{}

	page := opts.Page
	if page < 1 {
		page = 1
	}
	pageSize := opts.PageSize
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}

	params := persistence.ListTendersParams{Limit: pageSize, Offset: (page - 1) * pageSize}
	if opts.State != nil && *opts.State != "" {
		state, ok := ParseState(*opts.State)
		if !ok {
			fieldErrors.add("state", "unknown tender state")
		} else {
			value := string(state)
			params.State = &value
		}
	}
	if opts.Source != nil && strings.TrimSpace(*opts.Source) != "" {
		value := strings.TrimSpace(*opts.Source)
		params.Source = &value
	}
	if len(fieldErrors) > 0 {
		return ListResult{}, &ValidationError{Fields: fieldErrors}
	}

	records, total, err := s.repo.List(ctx, params)
	if err != nil {
		return ListResult{}, translateError(err)
	}

	items := make([]Tender, 0, len(records))
	for _, record := range records {
		items = append(items, mapTender(record))
	}

	return ListResult{
		Tenders:    items,
		Page:       page,
		PageSize:   pageSize,
		TotalItems: total,
		TotalPages: int(math.Ceil(float64(total) / float64(pageSize))),
	}, nil
}

// Transition moves a tender to input.TargetState. Checks run in order: target validity,
// existence, lifecycle edge, then the caller's role. The edge is checked again under the
// row lock so a concurrent transition cannot slip past it.
func (s *service) Transition(ctx context.Context, audit requesttrace.AuditInfo, id uuid.UUID, input TransitionInput) (Tender, error) {
	target, ok := ParseState(input.TargetState)
	if !ok {
		return Tender{}, &ValidationError{Fields: FieldErrors{
			"targetState": {"targetState must be one of SCRAPED, VALIDATED, QUALIFIED, IN_BID, SUBMITTED, WON, LOST"},
		}}
	}
	if id == uuid.Nil {
		return Tender{}, ErrNotFound
	}

	current, err := s.repo.Get(ctx, id)
	if err != nil {
		return Tender{}, translateError(err)
	}
	if from := State(current.State); !CanTransition(from, target) {
		return Tender{}, &InvalidTransitionError{From: from, To: target}
	}

	if err := s.authz.RequireMinRole(ctx, audit, id, assignments.RoleOwner); err != nil {
		return Tender{}, translateError(err)
	}

	note := input.Note
	if note != nil {
		trimmed := strings.TrimSpace(*note)
		if trimmed == "" {
			note = nil
		} else {
			note = &trimmed
		}
	}

	record, _, err := s.repo.Transition(ctx, TransitionParams{
		TenderID:  id,
		Target:    target,
		ActorID:   audit.ActorID(),
		Note:      note,
		RequestID: audit.RequestID,
		Guard: func(locked string) error {
			if from := State(locked); !CanTransition(from, target) {
				return &InvalidTransitionError{From: from, To: target}
			}
			// role may have changed since the first check
			return s.authz.RequireMinRole(ctx, audit, id, assignments.RoleOwner)
		},
	})
	if err != nil {
		return Tender{}, translateError(err)
	}
	return mapTender(record), nil
}

func (s *service) ListAudit(ctx context.Context, id uuid.UUID) ([]AuditEntry, error) {
	if id == uuid.Nil {
		return nil, ErrNotFound
	}
	if _, err := s.repo.Get(ctx, id); err != nil {
		return nil, translateError(err)
	}

	records, err := s.repo.ListAudit(ctx, id)
	if err != nil {
		return nil, translateError(err)
	}
	entries := make([]AuditEntry, 0, len(records))
	for _, record := range records {
		entries = append(entries, AuditEntry{
			ID:        record.ID,
			TenderID:  record.TenderID,
			ActorID:   record.ActorID,
			From:      State(record.FromState),
			To:        State(record.ToState),
			Note:      record.Note,
			RequestID: record.RequestID,
			CreatedAt: record.CreatedAt,
		})
	}
	return entries, nil
}

func mapTender(record persistence.TenderRecord) Tender {
	return Tender{
		ID:                 record.ID,
		State:              State(record.State),
		Source:             record.Source,
		ExternalID:         record.ExternalID,
		Hash:               record.Hash,
		Title:              record.Title,
		Buyer:              record.Buyer,
		Deadline:           record.Deadline,
		BudgetAmount:       record.BudgetAmount,
		BudgetCurrency:     record.BudgetCurrency,
		ClassificationCode: record.ClassificationCode,
		Country:            record.Country,
		SourceURL:          record.SourceURL,
		Description:        record.Description,
		Location:           record.Location,
		PublishedAt:        record.PublishedAt,
		CreatedAt:          record.CreatedAt,
		UpdatedAt:          record.UpdatedAt,
	}
}

func translateError(err error) error {
	switch {
	case errors.Is(err, persistence.ErrTenderNotFound), errors.Is(err, assignments.ErrTenderNotFound):
		return ErrNotFound
	case errors.Is(err, assignments.ErrForbidden):
		return ErrForbidden
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
