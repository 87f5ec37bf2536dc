package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/zenGate-Global/tender-engine/domains/assignments/be/service"
	platformlogging "github.com/zenGate-Global/tender-engine/platform/go/logging"
	"github.com/zenGate-Global/tender-engine/platform/go/problem"
	"github.com/zenGate-Global/tender-engine/platform/go/requesttrace"
)

type operation string

const (
	listOperation   operation = "assignmentsList"
	setOperation    operation = "assignmentsSet"
	removeOperation operation = "assignmentsRemove"
)

// Handler exposes per-tender assignments over HTTP.
type Handler struct {
	svc    service.Service
	logger *zap.Logger
}

// New constructs a Handler instance.
func New(svc service.Service, logger *zap.Logger) *Handler {
	if svc == nil {
		panic("assignments service is required")
	}
	if logger == nil {
		panic("logger is required")
	}

	return &Handler{svc: svc, logger: logger}
}

// Routes registers the assignment endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/tenders/{tenderId}/assignments", h.List)
	r.Put("/tenders/{tenderId}/assignments/{userId}", h.Set)
	r.Delete("/tenders/{tenderId}/assignments/{userId}", h.Remove)
}

type assignmentResponse struct {
	TenderID       uuid.UUID `json:"tenderId"`
	UserID         string    `json:"userId"`
	Role           string    `json:"role"`
	AssignedBy     string    `json:"assignedBy"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
	DemotedUserIDs []string  `json:"demotedUserIds,omitempty"`
}

type listResponse struct {
	Items []assignmentResponse `json:"items"`
}

type setRequest struct {
	Role string `json:"role"`
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	tenderID, ok := parseTenderID(w, r)
	if !ok {
		return
	}

	items, err := h.svc.List(r.Context(), tenderID)
	if err != nil {
		h.writeError(w, r, err, listOperation)
		return
	}

	resp := listResponse{Items: make([]assignmentResponse, 0, len(items))}
	for _, item := range items {
		resp.Items = append(resp.Items, toAPIAssignment(item))
	}
	problem.WriteJSON(w, http.StatusOK, resp)
}

func (h *Handler) Set(w http.ResponseWriter, r *http.Request) {
	tenderID, ok := parseTenderID(w, r)
	if !ok {
		return
	}

	var body setRequest
	if err := problem.DecodeJSON(r, &body); err != nil {
		problem.BadRequest(w, err.Error())
		return
	}

	audit := requesttrace.FromContextOrAnonymous(r.Context())
	result, err := h.svc.Set(r.Context(), audit, tenderID, chi.URLParam(r, "userId"), body.Role)
	if err != nil {
		h.writeError(w, r, err, setOperation)
		return
	}

	if len(result.Demoted) > 0 {
		h.loggerFrom(r.Context()).Info("tender ownership transferred",
			zap.String("tender_id", tenderID.String()),
			zap.String("owner", result.Assignment.UserID),
			zap.Strings("demoted", result.Demoted))
	}

	resp := toAPIAssignment(result.Assignment)
	resp.DemotedUserIDs = result.Demoted
	problem.WriteJSON(w, http.StatusOK, resp)
}

func (h *Handler) Remove(w http.ResponseWriter, r *http.Request) {
	tenderID, ok := parseTenderID(w, r)
	if !ok {
		return
	}

	audit := requesttrace.FromContextOrAnonymous(r.Context())
	if err := h.svc.Remove(r.Context(), audit, tenderID, chi.URLParam(r, "userId")); err != nil {
		h.writeError(w, r, err, removeOperation)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func parseTenderID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "tenderId"))
	if err != nil {
		problem.BadRequest(w, "tenderId must be a UUID")
		return uuid.Nil, false
	}
	return id, true
}

func toAPIAssignment(a service.Assignment) assignmentResponse {
	return assignmentResponse{
		TenderID:   a.TenderID,
		UserID:     a.UserID,
		Role:       string(a.Role),
		AssignedBy: a.AssignedBy,
		CreatedAt:  a.CreatedAt,
		UpdatedAt:  a.UpdatedAt,
	}
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
		logger.Error("assignments operation failed", fields...)
	case details.Status == http.StatusNotFound:
		logger.Info("assignments resource not found", fields...)
	default:
		logger.Warn("assignments request rejected", fields...)
	}

	problem.Write(w, details)
}

func classifyError(err error) problem.Details {
	var validationErr *service.ValidationError
	switch {
	case errors.As(err, &validationErr):
		return problem.Details{Type: problem.TypeValidation, Title: "Validation failed", Status: http.StatusBadRequest,
			Detail: "one or more fields are invalid", Errors: validationErr.Fields}
	case errors.Is(err, service.ErrForbidden):
		return problem.Details{Type: problem.TypeForbidden, Title: "Forbidden", Status: http.StatusForbidden,
			Detail: "tender owner or tenant admin role required"}
	case errors.Is(err, service.ErrTenderNotFound):
		return problem.Details{Type: problem.TypeNotFound, Title: "Resource not found", Status: http.StatusNotFound,
			Detail: "tender not found"}
	case errors.Is(err, service.ErrNotFound):
		return problem.Details{Type: problem.TypeNotFound, Title: "Resource not found", Status: http.StatusNotFound,
			Detail: "assignment not found"}
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
