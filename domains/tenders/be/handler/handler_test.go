package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/zenGate-Global/tender-engine/domains/tenders/be/service"
	"github.com/zenGate-Global/tender-engine/platform/go/problem"
	"github.com/zenGate-Global/tender-engine/platform/go/requesttrace"
)

type mockService struct {
	getFn        func(ctx context.Context, id uuid.UUID) (service.Tender, error)
	listFn       func(ctx context.Context, opts service.ListOptions) (service.ListResult, error)
	transitionFn func(ctx context.Context, audit requesttrace.AuditInfo, id uuid.UUID, input service.TransitionInput) (service.Tender, error)
	listAuditFn  func(ctx context.Context, id uuid.UUID) ([]service.AuditEntry, error)
}

func (m *mockService) Get(ctx context.Context, id uuid.UUID) (service.Tender, error) {
	if m.getFn == nil {
		panic("getFn not configured")
	}
	return m.getFn(ctx, id)
}

func (m *mockService) List(ctx context.Context, opts service.ListOptions) (service.ListResult, error) {
	if m.listFn == nil {
		panic("listFn not configured")
	}
	return m.listFn(ctx, opts)
}

func (m *mockService) Transition(ctx context.Context, audit requesttrace.AuditInfo, id uuid.UUID, input service.TransitionInput) (service.Tender, error) {
	if m.transitionFn == nil {
		panic("transitionFn not configured")
	}
	return m.transitionFn(ctx, audit, id, input)
}

func (m *mockService) ListAudit(ctx context.Context, id uuid.UUID) ([]service.AuditEntry, error) {
	if m.listAuditFn == nil {
		panic("listAuditFn not configured")
	}
	return m.listAuditFn(ctx, id)
}

func serve(t *testing.T, svc service.Service, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	router := chi.NewRouter()
	New(svc, zaptest.NewLogger(t)).Routes(router)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestTransitionReturnsEntity(t *testing.T) {
	t.Parallel()

	id := uuid.New()
	amount := 1234.5
	svc := &mockService{
		transitionFn: func(ctx context.Context, audit requesttrace.AuditInfo, got uuid.UUID, input service.TransitionInput) (service.Tender, error) {
			require.Equal(t, id, got)
			require.Equal(t, "QUALIFIED", input.TargetState)
			require.NotNil(t, input.Note)
			require.Equal(t, "owner-1", audit.ActorID())
			return service.Tender{ID: got, State: service.StateQualified, Title: "Bridge", BudgetAmount: &amount,
				BudgetCurrency: "KZT", UpdatedAt: time.Now().UTC()}, nil
		},
	}

	req := httptest.NewRequest(http.MethodPost, "/tenders/"+id.String()+"/transitions",
		strings.NewReader(`{"targetState":"QUALIFIED","note":"go"}`))
	req = req.WithContext(requesttrace.IntoContext(req.Context(), requesttrace.User("owner-1", false)))
	rec := serve(t, svc, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body tenderResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "QUALIFIED", body.State)
	require.Equal(t, []string{"IN_BID", "SCRAPED"}, body.AllowedTransitions)
	require.NotNil(t, body.Budget)
	require.Equal(t, "KZT", body.Budget.Currency)
}

func TestTransitionErrorMapping(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		err    error
		status int
		kind   string
	}{
		{name: "invalid transition", err: &service.InvalidTransitionError{From: service.StateSubmitted, To: service.StateValidated},
			status: http.StatusUnprocessableEntity, kind: problem.TypeInvalidTransition},
		{name: "forbidden", err: service.ErrForbidden, status: http.StatusForbidden, kind: problem.TypeForbidden},
		{name: "not found", err: service.ErrNotFound, status: http.StatusNotFound, kind: problem.TypeNotFound},
		{name: "validation", err: &service.ValidationError{Fields: service.FieldErrors{"targetState": {"bad"}}},
			status: http.StatusBadRequest, kind: problem.TypeValidation},
		{name: "unexpected", err: context.Canceled, status: http.StatusInternalServerError, kind: problem.TypeInternal},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			svc := &mockService{
				transitionFn: func(context.Context, requesttrace.AuditInfo, uuid.UUID, service.TransitionInput) (service.Tender, error) {
					return service.Tender{}, tc.err
				},
			}
			req := httptest.NewRequest(http.MethodPost, "/tenders/"+uuid.NewString()+"/transitions",
				strings.NewReader(`{"targetState":"VALIDATED"}`))
			rec := serve(t, svc, req)

			require.Equal(t, tc.status, rec.Code)
			var details problem.Details
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &details))
			require.Equal(t, tc.kind, details.Type)
		})
	}
}

func TestInvalidTransitionDetailNamesStates(t *testing.T) {
	t.Parallel()

	svc := &mockService{
		transitionFn: func(context.Context, requesttrace.AuditInfo, uuid.UUID, service.TransitionInput) (service.Tender, error) {
			return service.Tender{}, &service.InvalidTransitionError{From: service.StateSubmitted, To: service.StateValidated}
		},
	}
	req := httptest.NewRequest(http.MethodPost, "/tenders/"+uuid.NewString()+"/transitions",
		strings.NewReader(`{"targetState":"VALIDATED"}`))
	rec := serve(t, svc, req)

	var details problem.Details
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &details))
	require.Contains(t, details.Detail, "SUBMITTED")
	require.Contains(t, details.Detail, "VALIDATED")
}

func TestListParsesQuery(t *testing.T) {
	t.Parallel()

	svc := &mockService{
		listFn: func(ctx context.Context, opts service.ListOptions) (service.ListResult, error) {
			require.Equal(t, 3, opts.Page)
			require.Equal(t, 10, opts.PageSize)
			require.NotNil(t, opts.State)
			require.Equal(t, "IN_BID", *opts.State)
			require.Nil(t, opts.Source)
			return service.ListResult{
				Tenders:    []service.Tender{{ID: uuid.New(), State: service.StateInBid}},
				Page:       3,
				PageSize:   10,
				TotalItems: 21,
				TotalPages: 3,
			}, nil
		},
	}

	rec := serve(t, svc, httptest.NewRequest(http.MethodGet, "/tenders?page=3&pageSize=10&state=IN_BID", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body listResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Items, 1)
	require.Equal(t, 21, body.TotalItems)
	require.Equal(t, []string{"SUBMITTED", "QUALIFIED"}, body.Items[0].AllowedTransitions)
}

func TestAuditAndBadID(t *testing.T) {
	t.Parallel()

	id := uuid.New()
	svc := &mockService{
		listAuditFn: func(ctx context.Context, got uuid.UUID) ([]service.AuditEntry, error) {
			return []service.AuditEntry{{ID: uuid.New(), TenderID: got, ActorID: "u1", From: service.StateScraped, To: service.StateValidated}}, nil
		},
	}

	rec := serve(t, svc, httptest.NewRequest(http.MethodGet, "/tenders/"+id.String()+"/audit", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var body auditListResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Items, 1)
	require.Equal(t, "VALIDATED", body.Items[0].To)

	rec = serve(t, svc, httptest.NewRequest(http.MethodGet, "/tenders/nope", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}
