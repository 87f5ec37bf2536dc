package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	assignmentsrepo "github.com/zenGate-Global/tender-engine/domains/assignments/be/repo"
	assignments "github.com/zenGate-Global/tender-engine/domains/assignments/be/service"
	"github.com/zenGate-Global/tender-engine/domains/tenders/be/repo"
	"github.com/zenGate-Global/tender-engine/domains/tenders/be/service"
	"github.com/zenGate-Global/tender-engine/platform/go/persistence"
	"github.com/zenGate-Global/tender-engine/platform/go/requesttrace"
	"github.com/zenGate-Global/tender-engine/platform/go/tenant"
)

type fixture struct {
	ctx         context.Context
	tenantID    uuid.UUID
	tenders     *repo.MemoryRepository
	grants      *assignmentsrepo.MemoryRepository
	assignments assignments.Service
	svc         service.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		tenantID: uuid.New(),
		tenders:  repo.NewMemoryRepository(),
		grants:   assignmentsrepo.NewMemoryRepository(),
	}
	f.ctx = tenant.WithSpace(context.Background(), tenant.Space{TenantID: f.tenantID, BasePrefix: "test/tenant/"})
	f.assignments = assignments.New(f.grants)
	f.svc = service.New(f.tenders, f.assignments)
	return f
}

func (f *fixture) seed(t *testing.T, state service.State) uuid.UUID {
	t.Helper()
	now := time.Now().UTC()
	record := persistence.TenderRecord{
		ID:        uuid.New(),
		TenantID:  f.tenantID,
		State:     string(state),
		Source:    "goszakup",
		Hash:      "h-" + uuid.NewString(),
		Title:     "Road works",
		CreatedAt: now,
		UpdatedAt: now,
	}
	f.tenders.Put(record)
	f.grants.AddTender(f.tenantID, record.ID)
	return record.ID
}

func (f *fixture) grant(t *testing.T, tenderID uuid.UUID, userID string, role string) {
	t.Helper()
	_, err := f.assignments.Set(f.ctx, requesttrace.System("seed"), tenderID, userID, role)
	require.NoError(t, err)
}

func TestTransitionByOwnerWritesAudit(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	id := f.seed(t, service.StateScraped)
	f.grant(t, id, "owner-1", "owner")

	note := "  checked docs  "
	actor := requesttrace.User("owner-1", false)
	actor.RequestID = "req-1"
	tender, err := f.svc.Transition(f.ctx, actor, id, service.TransitionInput{TargetState: "validated", Note: &note})
	require.NoError(t, err)
	require.Equal(t, service.StateValidated, tender.State)
	require.Equal(t, []service.State{service.StateQualified, service.StateScraped}, tender.AllowedTransitions())

	entries, err := f.svc.ListAudit(f.ctx, id)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, service.StateScraped, entries[0].From)
	require.Equal(t, service.StateValidated, entries[0].To)
	require.Equal(t, "owner-1", entries[0].ActorID)
	require.Equal(t, "req-1", entries[0].RequestID)
	require.NotNil(t, entries[0].Note)
	require.Equal(t, "checked docs", *entries[0].Note)
}

func TestTransitionFromSubmittedToValidatedIsRejected(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	id := f.seed(t, service.StateSubmitted)
	f.grant(t, id, "owner-1", "owner")

	_, err := f.svc.Transition(f.ctx, requesttrace.User("owner-1", false), id, service.TransitionInput{TargetState: "VALIDATED"})
	var transitionErr *service.InvalidTransitionError
	require.True(t, errors.As(err, &transitionErr))
	require.Equal(t, service.StateSubmitted, transitionErr.From)
	require.Equal(t, service.StateValidated, transitionErr.To)
	require.Contains(t, err.Error(), "SUBMITTED")
	require.Contains(t, err.Error(), "VALIDATED")

	tender, err := f.svc.Get(f.ctx, id)
	require.NoError(t, err)
	require.Equal(t, service.StateSubmitted, tender.State)

	entries, err := f.svc.ListAudit(f.ctx, id)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestTransitionTerminalStates(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	admin := requesttrace.User("admin", true)
	for _, state := range []service.State{service.StateWon, service.StateLost} {
		id := f.seed(t, state)
		for _, target := range service.States {
			_, err := f.svc.Transition(f.ctx, admin, id, service.TransitionInput{TargetState: string(target)})
			var transitionErr *service.InvalidTransitionError
			require.True(t, errors.As(err, &transitionErr), "%s -> %s", state, target)
		}
	}
}

func TestTransitionCheckOrder(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	id := f.seed(t, service.StateScraped)
	f.grant(t, id, "viewer-1", "viewer")
	viewer := requesttrace.User("viewer-1", false)

	// unknown target wins over everything else
	_, err := f.svc.Transition(f.ctx, viewer, uuid.New(), service.TransitionInput{TargetState: "ARCHIVED"})
	var validationErr *service.ValidationError
	require.True(t, errors.As(err, &validationErr))
	require.Contains(t, validationErr.Fields, "targetState")

	_, err = f.svc.Transition(f.ctx, viewer, uuid.New(), service.TransitionInput{TargetState: "VALIDATED"})
	require.ErrorIs(t, err, service.ErrNotFound)

	// invalid edge is reported before the role check
	_, err = f.svc.Transition(f.ctx, viewer, id, service.TransitionInput{TargetState: "WON"})
	var transitionErr *service.InvalidTransitionError
	require.True(t, errors.As(err, &transitionErr))

	_, err = f.svc.Transition(f.ctx, viewer, id, service.TransitionInput{TargetState: "VALIDATED"})
	require.ErrorIs(t, err, service.ErrForbidden)

	entries, err := f.svc.ListAudit(f.ctx, id)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestTransitionByAdminWithoutAssignment(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	id := f.seed(t, service.StateInBid)

	tender, err := f.svc.Transition(f.ctx, requesttrace.User("admin", true), id, service.TransitionInput{TargetState: "SUBMITTED"})
	require.NoError(t, err)
	require.Equal(t, service.StateSubmitted, tender.State)
}

func TestTenantIsolation(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	id := f.seed(t, service.StateScraped)

	other := tenant.WithSpace(context.Background(), tenant.Space{TenantID: uuid.New(), BasePrefix: "test/other/"})
	_, err := f.svc.Get(other, id)
	require.ErrorIs(t, err, service.ErrNotFound)

	_, err = f.svc.Transition(other, requesttrace.User("admin", true), id, service.TransitionInput{TargetState: "VALIDATED"})
	require.ErrorIs(t, err, service.ErrNotFound)
}

func TestListPagination(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	for i := 0; i < 5; i++ {
		f.seed(t, service.StateScraped)
	}
	f.seed(t, service.StateWon)

	state := "scraped"
	result, err := f.svc.List(f.ctx, service.ListOptions{Page: 2, PageSize: 2, State: &state})
	require.NoError(t, err)
	require.Len(t, result.Tenders, 2)
	require.Equal(t, 5, result.TotalItems)
	require.Equal(t, 3, result.TotalPages)

	result, err = f.svc.List(f.ctx, service.ListOptions{})
	require.NoError(t, err)
	require.Equal(t, 1, result.Page)
	require.Equal(t, 20, result.PageSize)
	require.Len(t, result.Tenders, 6)

	bad := "ARCHIVED"
	_, err = f.svc.List(f.ctx, service.ListOptions{State: &bad})
	var validationErr *service.ValidationError
	require.True(t, errors.As(err, &validationErr))
}

type lockedStateRepository struct {
	*repo.MemoryRepository
	locked service.State
}

func (r lockedStateRepository) Transition(ctx context.Context, params service.TransitionParams) (persistence.TenderRecord, persistence.AuditRecord, error) {
	if err := params.Guard(string(r.locked)); err != nil {
		return persistence.TenderRecord{}, persistence.AuditRecord{}, err
	}
	return r.MemoryRepository.Transition(ctx, params)
}

type stubAuthorizer struct {
	requireMinRole func(call int) error
	calls          int
}

func (a *stubAuthorizer) RequireMinRole(context.Context, requesttrace.AuditInfo, uuid.UUID, assignments.Role) error {
	a.calls++
	return a.requireMinRole(a.calls)
}

func TestTransitionRechecksOwnerUnderLock(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	id := f.seed(t, service.StateScraped)

	// owner demoted between the first check and the lock
	authz := &stubAuthorizer{requireMinRole: func(call int) error {
		if call == 1 {
			return nil
		}
		return assignments.ErrForbidden
	}}
	svc := service.New(f.tenders, authz)
	_, err := svc.Transition(f.ctx, requesttrace.User("owner-1", false), id, service.TransitionInput{TargetState: "VALIDATED"})
	require.ErrorIs(t, err, service.ErrForbidden)
	require.Equal(t, 2, authz.calls)

	tender, err := f.svc.Get(f.ctx, id)
	require.NoError(t, err)
	require.Equal(t, service.StateScraped, tender.State)

	entries, err := f.svc.ListAudit(f.ctx, id)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestTransitionRecheckedUnderLock(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	id := f.seed(t, service.StateScraped)

	// another writer moved the tender on between the read and the lock
	svc := service.New(lockedStateRepository{MemoryRepository: f.tenders, locked: service.StateValidated}, f.assignments)
	_, err := svc.Transition(f.ctx, requesttrace.User("admin", true), id, service.TransitionInput{TargetState: "VALIDATED"})
	var transitionErr *service.InvalidTransitionError
	require.True(t, errors.As(err, &transitionErr))
	require.Equal(t, service.StateValidated, transitionErr.From)

	entries, err := f.svc.ListAudit(f.ctx, id)
	require.NoError(t, err)
	require.Empty(t, entries)
}
