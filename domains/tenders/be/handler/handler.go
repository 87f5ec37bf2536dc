package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/zenGate-Global/tender-engine/domains/tenders/be/service"
	platformlogging "github.com/zenGate-Global/tender-engine/platform/go/logging"
	"github.com/zenGate-Global/tender-engine/platform/go/problem"
	"github.com/zenGate-Global/tender-engine/platform/go/requesttrace"
)

type operation string

const (
	listOperation       operation = "tendersList"
	getOperation        operation = "tendersGet"
	transitionOperation operation = "tendersTransition"
	auditOperation      operation = "tendersAudit"
)

// Handler exposes the tender lifecycle over HTTP.
type Handler struct {
	svc    service.Service
	logger *zap.Logger
}

// New constructs a Handler instance.
func New(svc service.Service, logger *zap.Logger) *Handler {
	if svc == nil {
		panic("tenders service is required")
	}
	if logger == nil {
		panic("logger is required")
	}

	return &Handler{svc: svc, logger: logger}
}

// Routes registers the tender endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/tenders", h.List)
	r.Get("/tenders/{tenderId}", h.Get)
	r.Post("/tenders/{tenderId}/transitions", h.Transition)
	r.Get("/tenders/{tenderId}/audit", h.Audit)
}

type budgetResponse struct {
	Amount   float64 `json:"amount"`
	Currency string  `json:"currency,omitempty"`
}

type tenderResponse struct {
	ID                 uuid.UUID       `json:"id"`
	State              string          `json:"state"`
	AllowedTransitions []string        `json:"allowedTransitions"`
	Source             string          `json:"source"`
	ExternalID         *string         `json:"externalId,omitempty"`
	Hash               string          `json:"hash"`
	Title              string          `json:"title"`
	Buyer              string          `json:"buyer,omitempty"`
	Deadline           *time.Time      `json:"deadline,omitempty"`
	Budget             *budgetResponse `json:"budget,omitempty"`
	ClassificationCode string          `json:"classificationCode,omitempty"`
	Country            string          `json:"country,omitempty"`
	SourceURL          string          `json:"sourceUrl,omitempty"`
	Description        string          `json:"description,omitempty"`
	Location           string          `json:"location,omitempty"`
	PublishedAt        *time.Time      `json:"publishedAt,omitempty"`
	CreatedAt          time.Time       `json:"createdAt"`
	UpdatedAt          time.Time       `json:"updatedAt"`
}

type listResponse struct {
	Items      []tenderResponse `json:"items"`
	Page       int              `json:"page"`
	PageSize   int              `json:"pageSize"`
	TotalItems int              `json:"totalItems"`
	TotalPages int              `json:"totalPages"`
}

type auditResponse struct {
	ID        uuid.UUID `json:"id"`
	ActorID   string    `json:"actorId"`
	From      string    `json:"fromState"`
	To        string    `json:"toState"`
	Note      *string   `json:"note,omitempty"`
	RequestID string    `json:"requestId,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

type auditListResponse struct {
	Items []auditResponse `json:"items"`
}

type transitionRequest struct {
	TargetState string  `json:"targetState"`
	Note        *string `json:"note"`
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	opts := service.ListOptions{
		Page:     atoiOr(query.Get("page"), 1),
		PageSize: atoiOr(query.Get("pageSize"), 20),
	}
	if value := query.Get("state"); value != "" {
		opts.State = &value
	}
	if value := query.Get("source"); value != "" {
		opts.Source = &value
	}

	result, err := h.svc.List(r.Context(), opts)
	if err != nil {
		h.writeError(w, r, err, listOperation)
		return
	}

	resp := listResponse{
		Items:      make([]tenderResponse, 0, len(result.Tenders)),
		Page:       result.Page,
		PageSize:   result.PageSize,
		TotalItems: result.TotalItems,
		TotalPages: result.TotalPages,
	}
	for _, t := range result.Tenders {
		resp.Items = append(resp.Items, toAPITender(t))
	}
	problem.WriteJSON(w, http.StatusOK, resp)
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := parseTenderID(w, r)
	if !ok {
		return
	}

	t, err := h.svc.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err, getOperation)
		return
	}
	problem.WriteJSON(w, http.StatusOK, toAPITender(t))
}

func (h *Handler) Transition(w http.ResponseWriter, r *http.Request) {
	id, ok := parseTenderID(w, r)
	if !ok {
		return
	}

	var body transitionRequest
	if err := problem.DecodeJSON(r, &body); err != nil {
		problem.BadRequest(w, err.Error())
		return
	}

	audit := requesttrace.FromContextOrAnonymous(r.Context())
	t, err := h.svc.Transition(r.Context(), audit, id, service.TransitionInput{TargetState: body.TargetState, Note: body.Note})
	if err != nil {
		h.writeError(w, r, err, transitionOperation)
		return
	}

	h.loggerFrom(r.Context()).Info("tender transitioned",
		zap.String("tender_id", id.String()),
		zap.String("state", string(t.State)),
		zap.String("actor_id", audit.ActorID()))
	problem.WriteJSON(w, http.StatusOK, toAPITender(t))
}

func (h *Handler) Audit(w http.ResponseWriter, r *http.Request) {
	id, ok := parseTenderID(w, r)
	if !ok {
		return
	}

	entries, err := h.svc.ListAudit(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err, auditOperation)
		return
	}

	resp := auditListResponse{Items: make([]auditResponse, 0, len(entries))}
	for _, e := range entries {
		resp.Items = append(resp.Items, auditResponse{
			ID:        e.ID,
			ActorID:   e.ActorID,
			From:      string(e.From),
			To:        string(e.To),
			Note:      e.Note,
			RequestID: e.RequestID,
			CreatedAt: e.CreatedAt,
		})
	}
	problem.WriteJSON(w, http.StatusOK, resp)
}

func parseTenderID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "tenderId"))
	if err != nil {
		problem.BadRequest(w, "tenderId must be a UUID")
		return uuid.Nil, false
	}
	return id, true
}

func atoiOr(value string, fallback int) int {
	if value == "" {
		return fallback
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return n
}

func toAPITender(t service.Tender) tenderResponse {
	allowed := t.AllowedTransitions()
	resp := tenderResponse{
		ID:                 t.ID,
		State:              string(t.State),
		AllowedTransitions: make([]string, 0, len(allowed)),
		Source:             t.Source,
		ExternalID:         t.ExternalID,
		Hash:               t.Hash,
		Title:              t.Title,
		Buyer:              t.Buyer,
		Deadline:           t.Deadline,
		ClassificationCode: t.ClassificationCode,
		Country:            t.Country,
		SourceURL:          t.SourceURL,
		Description:        t.Description,
		Location:           t.Location,
		PublishedAt:        t.PublishedAt,
		CreatedAt:          t.CreatedAt,
		UpdatedAt:          t.UpdatedAt,
	}
	for _, s := range allowed {
		resp.AllowedTransitions = append(resp.AllowedTransitions, string(s))
	}
	if t.BudgetAmount != nil {
		resp.Budget = &budgetResponse{Amount: *t.BudgetAmount, Currency: t.BudgetCurrency}
	}
	return resp
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error, op operation) {
	details := classifyError(err)

	logger := h.loggerFrom(r.Context())
	fields := []zap.Field{
		zap.String("operation", string(op)),
		zap.Int("status", details.Status),
		zap.Error(err),
	}
	switch {
	case details.Status >= http.StatusInternalServerError:
		logger.Error("tenders operation failed", fields...)
	case details.Status == http.StatusNotFound:
		logger.Info("tender not found", fields...)
	default:
		logger.Warn("tenders request rejected", fields...)
	}

	problem.Write(w, details)
}

func classifyError(err error) problem.Details {
	var (
		validationErr *service.ValidationError
		transitionErr *service.InvalidTransitionError
	)
	switch {
	case errors.As(err, &validationErr):
		return problem.Details{Type: problem.TypeValidation, Title: "Validation failed", Status: http.StatusBadRequest,
			Detail: "one or more fields are invalid", Errors: validationErr.Fields}
	case errors.As(err, &transitionErr):
		return problem.Details{Type: problem.TypeInvalidTransition, Title: "Invalid state transition",
			Status: http.StatusUnprocessableEntity, Detail: transitionErr.Error()}
	case errors.Is(err, service.ErrForbidden):
		return problem.Details{Type: problem.TypeForbidden, Title: "Forbidden", Status: http.StatusForbidden,
			Detail: "tender owner or tenant admin role required"}
	case errors.Is(err, service.ErrNotFound):
		return problem.Details{Type: problem.TypeNotFound, Title: "Resource not found", Status: http.StatusNotFound,
			Detail: "tender not found"}
	default:
		return problem.Details{Type: problem.TypeInternal, Title: "Internal server error", Status: http.StatusInternalServerError,
			Detail: "an unexpected error occurred"}
	}
}

func (h *Handler) loggerFrom(ctx context.Context) *zap.Logger {
	if logger, ok := platformlogging.FromContext(ctx); ok {
		return logger
	}
	return h.logger
}
