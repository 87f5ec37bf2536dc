package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/zenGate-Global/tender-engine/domains/submissions/be/service"
	platformlogging "github.com/zenGate-Global/tender-engine/platform/go/logging"
	"github.com/zenGate-Global/tender-engine/platform/go/problem"
	"github.com/zenGate-Global/tender-engine/platform/go/requesttrace"
)

type operation string

const (
	listOperation    operation = "submissionsList"
	createOperation  operation = "submissionsCreate"
	getOperation     operation = "submissionsGet"
	updateOperation  operation = "submissionsUpdate"
	reparseOperation operation = "submissionsReparse"
	uploadOperation  operation = "receiptUploadsCreate"
)

// Handler exposes submissions and receipt uploads over HTTP.
type Handler struct {
	svc    service.Service
	logger *zap.Logger
}

func New(svc service.Service, logger *zap.Logger) *Handler {
	if svc == nil {
		panic("submissions service is required")
	}
	if logger == nil {
		panic("logger is required")
	}
	return &Handler{svc: svc, logger: logger}
}

func (h *Handler) Routes(r chi.Router) {
	r.Get("/tenders/{tenderId}/submissions", h.List)
	r.Post("/tenders/{tenderId}/submissions", h.Create)
	r.Post("/tenders/{tenderId}/receipt-uploads", h.CreateUpload)
	r.Get("/submissions/{submissionId}", h.Get)
	r.Patch("/submissions/{submissionId}", h.Update)
	r.Post("/submissions/{submissionId}/reparse", h.Reparse)
}

type parseJobResponse struct {
	JobID        string `json:"jobId"`
	Deduplicated bool   `json:"deduplicated"`
}

type submissionResponse struct {
	ID            uuid.UUID         `json:"id"`
	TenderID      uuid.UUID         `json:"tenderId"`
	Method        string            `json:"method"`
	SubmittedAt   time.Time         `json:"submittedAt"`
	SubmittedBy   string            `json:"submittedBy"`
	ReceiptKey    *string           `json:"receiptKey,omitempty"`
	Notes         string            `json:"notes,omitempty"`
	Parsed        json.RawMessage   `json:"parsed,omitempty"`
	ParsedAt      *time.Time        `json:"parsedAt,omitempty"`
	ParseVersion  *string           `json:"parseVersion,omitempty"`
	ParseStatus   string            `json:"parseStatus"`
	ParseAttempts int               `json:"parseAttempts"`
	ParseJob      *parseJobResponse `json:"parseJob,omitempty"`
	CreatedAt     time.Time         `json:"createdAt"`
	UpdatedAt     time.Time         `json:"updatedAt"`
}

type listResponse struct {
	Items []submissionResponse `json:"items"`
}

type createRequest struct {
	Method      string     `json:"method"`
	SubmittedAt *time.Time `json:"submittedAt"`
	ReceiptKey  *string    `json:"receiptKey"`
	Notes       string     `json:"notes"`
}

type updateRequest struct {
	Method      *string    `json:"method"`
	SubmittedAt *time.Time `json:"submittedAt"`
	ReceiptKey  *string    `json:"receiptKey"`
	Notes       *string    `json:"notes"`
}

type uploadRequest struct {
	ContentType string `json:"contentType"`
}

type uploadResponse struct {
	ReceiptKey  string    `json:"receiptKey"`
	UploadURL   string    `json:"uploadUrl"`
	Method      string    `json:"method"`
	ContentType string    `json:"contentType"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	tenderID, ok := parseID(w, r, "tenderId")
	if !ok {
		return
	}
	items, err := h.svc.ListByTender(r.Context(), tenderID)
	if err != nil {
		h.writeError(w, r, err, listOperation)
		return
	}
	resp := listResponse{Items: make([]submissionResponse, 0, len(items))}
	for _, item := range items {
		resp.Items = append(resp.Items, toAPISubmission(item, nil))
	}
	problem.WriteJSON(w, http.StatusOK, resp)
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	tenderID, ok := parseID(w, r, "tenderId")
	if !ok {
		return
	}
	var body createRequest
	if err := problem.DecodeJSON(r, &body); err != nil {
		problem.BadRequest(w, err.Error())
		return
	}

	audit := requesttrace.FromContextOrAnonymous(r.Context())
	result, err := h.svc.Create(r.Context(), audit, tenderID, service.CreateInput{
		Method:      body.Method,
		SubmittedAt: body.SubmittedAt,
		ReceiptKey:  body.ReceiptKey,
		Notes:       body.Notes,
	})
	if err != nil {
		h.writeError(w, r, err, createOperation)
		return
	}

	h.loggerFrom(r.Context()).Info("submission created",
		zap.String("submission_id", result.Submission.ID.String()),
		zap.String("tender_id", tenderID.String()),
		zap.Bool("parse_queued", result.ParseJob != nil))
	problem.WriteJSON(w, http.StatusCreated, toAPISubmission(result.Submission, result.ParseJob))
}

func (h *Handler) CreateUpload(w http.ResponseWriter, r *http.Request) {
	tenderID, ok := parseID(w, r, "tenderId")
	if !ok {
		return
	}
	var body uploadRequest
	if err := problem.DecodeJSON(r, &body); err != nil {
		problem.BadRequest(w, err.Error())
		return
	}

	audit := requesttrace.FromContextOrAnonymous(r.Context())
	upload, err := h.svc.ReceiptUploadURL(r.Context(), audit, tenderID, service.UploadInput{ContentType: body.ContentType})
	if err != nil {
		h.writeError(w, r, err, uploadOperation)
		return
	}
	problem.WriteJSON(w, http.StatusCreated, uploadResponse{
		ReceiptKey:  upload.ReceiptKey,
		UploadURL:   upload.URL,
		Method:      upload.Method,
		ContentType: upload.ContentType,
		ExpiresAt:   upload.ExpiresAt,
	})
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "submissionId")
	if !ok {
		return
	}
	sub, err := h.svc.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err, getOperation)
		return
	}
	problem.WriteJSON(w, http.StatusOK, toAPISubmission(sub, nil))
}

func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "submissionId")
	if !ok {
		return
	}
	var body updateRequest
	if err := problem.DecodeJSON(r, &body); err != nil {
		problem.BadRequest(w, err.Error())
		return
	}

	audit := requesttrace.FromContextOrAnonymous(r.Context())
	result, err := h.svc.Update(r.Context(), audit, id, service.UpdateInput{
		Method:      body.Method,
		SubmittedAt: body.SubmittedAt,
		ReceiptKey:  body.ReceiptKey,
		Notes:       body.Notes,
	})
	if err != nil {
		h.writeError(w, r, err, updateOperation)
		return
	}
	problem.WriteJSON(w, http.StatusOK, toAPISubmission(result.Submission, result.ParseJob))
}

func (h *Handler) Reparse(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "submissionId")
	if !ok {
		return
	}

	audit := requesttrace.FromContextOrAnonymous(r.Context())
	job, err := h.svc.Reparse(r.Context(), audit, id)
	if err != nil {
		h.writeError(w, r, err, reparseOperation)
		return
	}

	h.loggerFrom(r.Context()).Info("submission reparse requested",
		zap.String("submission_id", id.String()),
		zap.String("job_id", job.JobID),
		zap.Bool("deduplicated", job.Deduplicated),
		zap.String("actor_id", audit.ActorID()))
	problem.WriteJSON(w, http.StatusAccepted, parseJobResponse{JobID: job.JobID, Deduplicated: job.Deduplicated})
}

func parseID(w http.ResponseWriter, r *http.Request, param string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, param))
	if err != nil {
		problem.BadRequest(w, param+" must be a UUID")
		return uuid.Nil, false
	}
	return id, true
}

func toAPISubmission(s service.Submission, job *service.ParseJob) submissionResponse {
	resp := submissionResponse{
		ID:            s.ID,
		TenderID:      s.TenderID,
		Method:        s.Method,
		SubmittedAt:   s.SubmittedAt,
		SubmittedBy:   s.SubmittedBy,
		ReceiptKey:    s.ReceiptKey,
		Notes:         s.Notes,
		Parsed:        s.Parsed,
		ParsedAt:      s.ParsedAt,
		ParseVersion:  s.ParseVersion,
		ParseStatus:   s.ParseStatus,
		ParseAttempts: s.ParseAttempts,
		CreatedAt:     s.CreatedAt,
		UpdatedAt:     s.UpdatedAt,
	}
	if job != nil {
		resp.ParseJob = &parseJobResponse{JobID: job.JobID, Deduplicated: job.Deduplicated}
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
		logger.Error("submissions operation failed", fields...)
	case details.Status == http.StatusNotFound:
		logger.Info("submission resource not found", fields...)
	default:
		logger.Warn("submissions request rejected", fields...)
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
			Detail: "insufficient role on tender"}
	case errors.Is(err, service.ErrNotFound):
		return problem.Details{Type: problem.TypeNotFound, Title: "Resource not found", Status: http.StatusNotFound,
			Detail: "submission not found"}
	case errors.Is(err, service.ErrTenderNotFound):
		return problem.Details{Type: problem.TypeNotFound, Title: "Resource not found", Status: http.StatusNotFound,
			Detail: "tender not found"}
	case errors.Is(err, service.ErrUploadsOff):
		return problem.Details{Type: problem.TypeConflict, Title: "Uploads unavailable", Status: http.StatusConflict,
			Detail: "receipt uploads are not configured for this deployment"}
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
