package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/zenGate-Global/tender-engine/domains/ingestion/be/service"
	platformlogging "github.com/zenGate-Global/tender-engine/platform/go/logging"
	"github.com/zenGate-Global/tender-engine/platform/go/problem"
	"github.com/zenGate-Global/tender-engine/platform/go/requesttrace"
)

// MaxBatchSize bounds the records accepted by one request.
const MaxBatchSize = 5000

type operation string

const (
	ingestOperation  operation = "ingestionIngest"
	enqueueOperation operation = "ingestionEnqueue"
	runOperation     operation = "ingestionGetRun"
)

// Handler exposes ingestion to tenant administrators.
type Handler struct {
	svc    service.Service
	logger *zap.Logger
}

// New constructs a Handler instance.
func New(svc service.Service, logger *zap.Logger) *Handler {
	if svc == nil {
		panic("ingestion service is required")
	}
	if logger == nil {
		panic("logger is required")
	}
	return &Handler{svc: svc, logger: logger}
}

// Routes registers the ingestion endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/ingestion/records", h.IngestRecords)
	r.Post("/ingestion/jobs", h.EnqueueRecords)
	r.Get("/ingestion/runs/{runId}", h.GetRun)
}

type batchRequest struct {
	Source  string                 `json:"source"`
	Records []service.SourceRecord `json:"records"`
}

type batchResponse struct {
	RunID     uuid.UUID             `json:"runId"`
	Status    string                `json:"status"`
	Received  int                   `json:"received"`
	Inserted  int                   `json:"inserted"`
	Updated   int                   `json:"updated"`
	Unchanged int                   `json:"unchanged"`
	Failed    int                   `json:"failed"`
	Errors    []service.RecordError `json:"errors"`
}

type enqueueResponse struct {
	JobID        string    `json:"jobId"`
	RunID        uuid.UUID `json:"runId"`
	Deduplicated bool      `json:"deduplicated"`
}

type runResponse struct {
	batchResponse
	Source      string     `json:"source"`
	Trigger     string     `json:"trigger"`
	StartedAt   time.Time  `json:"startedAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

func (h *Handler) IngestRecords(w http.ResponseWriter, r *http.Request) {
	body, ok := decodeBatch(w, r)
	if !ok {
		return
	}

	audit := requesttrace.FromContextOrAnonymous(r.Context())
	result, err := h.svc.IngestBatch(r.Context(), audit, service.BatchInput{
		Source:  body.Source,
		Trigger: service.TriggerAPI,
		Records: body.Records,
	})
	if err != nil {
		h.writeError(w, r, err, ingestOperation)
		return
	}

	errs := result.Errors
	if errs == nil {
		errs = []service.RecordError{}
	}
	problem.WriteJSON(w, http.StatusOK, batchResponse{
		RunID:     result.RunID,
		Status:    result.Status,
		Received:  result.Received,
		Inserted:  result.Inserted,
		Updated:   result.Updated,
		Unchanged: result.Unchanged,
		Failed:    result.Failed,
		Errors:    errs,
	})
}

func (h *Handler) EnqueueRecords(w http.ResponseWriter, r *http.Request) {
	body, ok := decodeBatch(w, r)
	if !ok {
		return
	}

	audit := requesttrace.FromContextOrAnonymous(r.Context())
	result, err := h.svc.EnqueueBatch(r.Context(), audit, service.BatchInput{
		Source:  body.Source,
		Trigger: service.TriggerJob,
		Records: body.Records,
	})
	if err != nil {
		h.writeError(w, r, err, enqueueOperation)
		return
	}

	h.loggerFrom(r.Context()).Info("ingestion batch enqueued",
		zap.String("job_id", result.JobID),
		zap.String("run_id", result.RunID.String()),
		zap.Int("records", len(body.Records)))
	problem.WriteJSON(w, http.StatusAccepted, enqueueResponse{JobID: result.JobID, RunID: result.RunID, Deduplicated: result.Deduplicated})
}

func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "runId"))
	if err != nil {
		problem.BadRequest(w, "runId must be a UUID")
		return
	}

	run, err := h.svc.GetRun(r.Context(), requesttrace.FromContextOrAnonymous(r.Context()), id)
	if err != nil {
		h.writeError(w, r, err, runOperation)
		return
	}

	errs := run.Errors
	if errs == nil {
		errs = []service.RecordError{}
	}
	problem.WriteJSON(w, http.StatusOK, runResponse{
		batchResponse: batchResponse{
			RunID:     run.ID,
			Status:    run.Status,
			Received:  run.Received,
			Inserted:  run.Inserted,
			Updated:   run.Updated,
			Unchanged: run.Unchanged,
			Failed:    run.Failed,
			Errors:    errs,
		},
		Source:      run.Source,
		Trigger:     string(run.Trigger),
		StartedAt:   run.StartedAt,
		CompletedAt: run.CompletedAt,
	})
}

func decodeBatch(w http.ResponseWriter, r *http.Request) (batchRequest, bool) {
	var body batchRequest
	if err := problem.DecodeJSON(r, &body); err != nil {
		problem.BadRequest(w, err.Error())
		return batchRequest{}, false
	}
	if len(body.Records) == 0 {
		problem.BadRequest(w, "records must not be empty")
		return batchRequest{}, false
	}
	if len(body.Records) > MaxBatchSize {
		problem.BadRequest(w, "too many records in one batch")
		return batchRequest{}, false
	}
	return body, true
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
		logger.Error("ingestion operation failed", fields...)
	case details.Status == http.StatusNotFound:
		logger.Info("ingestion run not found", fields...)
	default:
		logger.Warn("ingestion request rejected", fields...)
	}

	problem.Write(w, details)
}

func classifyError(err error) problem.Details {
	var recordErr *service.RecordError
	switch {
	case errors.As(err, &recordErr):
		return problem.Details{Type: problem.TypeValidation, Title: "Validation failed", Status: http.StatusBadRequest,
			Detail: recordErr.Error()}
	case errors.Is(err, service.ErrEmptyBatch):
		return problem.Details{Type: problem.TypeValidation, Title: "Validation failed", Status: http.StatusBadRequest,
			Detail: err.Error()}
	case errors.Is(err, service.ErrForbidden):
		return problem.Details{Type: problem.TypeForbidden, Title: "Forbidden", Status: http.StatusForbidden,
			Detail: "tenant admin role required"}
	case errors.Is(err, service.ErrRunNotFound):
		return problem.Details{Type: problem.TypeNotFound, Title: "Resource not found", Status: http.StatusNotFound,
			Detail: "ingestion run not found"}
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
