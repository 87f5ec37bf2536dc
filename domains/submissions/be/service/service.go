package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	assignments "github.com/zenGate-Global/tender-engine/domains/assignments/be/service"
	"github.com/zenGate-Global/tender-engine/platform/go/broadcast"
	"github.com/zenGate-Global/tender-engine/platform/go/logging"
	"github.com/zenGate-Global/tender-engine/platform/go/persistence"
	"github.com/zenGate-Global/tender-engine/platform/go/queue"
	"github.com/zenGate-Global/tender-engine/platform/go/requesttrace"
	"github.com/zenGate-Global/tender-engine/platform/go/storage"
	"github.com/zenGate-Global/tender-engine/platform/go/tenant"
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
	ErrNotFound       = errors.New("submission not found")
	ErrTenderNotFound = errors.New("tender not found")
	ErrForbidden      = errors.New("insufficient role on tender")
	ErrUploadsOff     = errors.New("receipt uploads are not configured")
)

// Submission methods.
const (
	MethodPortal   = "portal"
	MethodEmail    = "email"
	MethodCourier  = "courier"
	MethodInPerson = "in_person"
)

// Parse reasons carried on parse jobs.
const (
	ReasonCreated = "created"
	ReasonUpdated = "updated"
	ReasonReparse = "reparse"
	ReasonSweep   = "sweep"
)

// ParseDedupeKey prefixes the submission id in the dedupe key of parse jobs.
const ParseDedupeKey = "parse:"

// ReceiptUploadTTL is how long a presigned receipt upload URL stays valid.
const ReceiptUploadTTL = 15 * time.Minute

var receiptContentTypes = map[string]string{
	"application/pdf":  ".pdf",
	"image/png":        ".png",
	"image/jpeg":       ".jpg",
	"image/tiff":       ".tiff",
	"text/plain":       ".txt",
	"application/json": ".json",
}

type Submission struct {
	ID            uuid.UUID
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
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// ParseJob identifies the queued parse of a submission.
type ParseJob struct {
	JobID        string
	Deduplicated bool
}

// Result is a stored submission and, when a receipt triggered one, its parse job.
type Result struct {
	Submission Submission
	ParseJob   *ParseJob
}

type CreateInput struct {
	Method      string
	SubmittedAt *time.Time
	ReceiptKey  *string
	Notes       string
}

// UpdateInput applies only the non-nil fields. An empty ReceiptKey clears the receipt.
type UpdateInput struct {
	Method      *string
	SubmittedAt *time.Time
	ReceiptKey  *string
	Notes       *string
}

type UploadInput struct {
	ContentType string
}

// UploadURL tells the client where to PUT a receipt and which key to store on the submission.
type UploadURL struct {
	ReceiptKey  string
	URL         string
	Method      string
	ContentType string
	ExpiresAt   time.Time
}

// ParsePayload is the body of a parse job.
type ParsePayload struct {
	SubmissionID uuid.UUID `json:"submissionId"`
	Reason       string    `json:"reason"`
}

// Service defines the submission operations.
type Service interface {
	Create(ctx context.Context, audit requesttrace.AuditInfo, tenderID uuid.UUID, input CreateInput) (Result, error)
	Update(ctx context.Context, audit requesttrace.AuditInfo, id uuid.UUID, input UpdateInput) (Result, error)
	Get(ctx context.Context, id uuid.UUID) (Submission, error)
	ListByTender(ctx context.Context, tenderID uuid.UUID) ([]Submission, error)
	Reparse(ctx context.Context, audit requesttrace.AuditInfo, id uuid.UUID) (ParseJob, error)
	ReceiptUploadURL(ctx context.Context, audit requesttrace.AuditInfo, tenderID uuid.UUID, input UploadInput) (UploadURL, error)
	// EnqueueParse queues a parse of the submission's receipt under the tenant on ctx.
	EnqueueParse(ctx context.Context, id uuid.UUID, reason string) (ParseJob, error)
}

// Repository is implemented by the postgres and memory repositories in the repo package.
// All methods except ListStale are scoped to the tenant on the context.
type Repository interface {
	TenderExists(ctx context.Context, tenderID uuid.UUID) error
	Create(ctx context.Context, params persistence.CreateSubmissionParams) (persistence.SubmissionRecord, error)
	Get(ctx context.Context, id uuid.UUID) (persistence.SubmissionRecord, error)
	ListByTender(ctx context.Context, tenderID uuid.UUID) ([]persistence.SubmissionRecord, error)
	Update(ctx context.Context, id uuid.UUID, params persistence.UpdateSubmissionParams) (persistence.SubmissionRecord, error)
	MarkQueued(ctx context.Context, id uuid.UUID, at time.Time) error
	MarkProcessing(ctx context.Context, id uuid.UUID) error
	SaveResult(ctx context.Context, params persistence.SaveParseResultParams) (persistence.SubmissionRecord, error)
	ListStale(ctx context.Context, queuedBefore time.Time, limit int) ([]persistence.SubmissionRef, error)
}

// Dependencies wires the service. Queue, Publisher and Receipts are optional: without a queue
// receipts are stored but never parsed, without Receipts upload URLs are unavailable.
type Dependencies struct {
	Repo       Repository
	Authorizer assignments.Authorizer
	Queue      queue.Queue
	Publisher  broadcast.Publisher
	Receipts   storage.ObjectStore
	Bucket     string
}

type service struct {
	repo      Repository
	authz     assignments.Authorizer
	queue     queue.Queue
	publisher broadcast.Publisher
	receipts  storage.ObjectStore
	bucket    string
	now       func() time.Time
}

func New(deps Dependencies) Service {
	if deps.Repo == nil {
		panic("submissions repository is required")
	}
	if deps.Authorizer == nil {
		panic("assignments authorizer is required")
	}
	publisher := deps.Publisher
	if publisher == nil {
		publisher = broadcast.Discard
	}
	return &service{
		repo:      deps.Repo,
		authz:     deps.Authorizer,
		queue:     deps.Queue,
		publisher: publisher,
		receipts:  deps.Receipts,
		bucket:    deps.Bucket,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (s *service) Create(ctx context.Context, audit requesttrace.AuditInfo, tenderID uuid.UUID, input CreateInput) (Result, error) {
	fieldErrors := FieldErrors{}

	method := strings.ToLower(strings.TrimSpace(input.Method))
	if !validMethod(method) {
		fieldErrors.add("method", "method must be one of portal, email, courier, in_person")
	}
	submittedAt := s.now()
	if input.SubmittedAt != nil {
		if input.SubmittedAt.After(s.now().Add(time.Minute)) {
			fieldErrors.add("submittedAt", "submittedAt must not be in the future")
		}
		submittedAt = input.SubmittedAt.UTC()
	}
	receiptKey := normalizeReceiptKey(input.ReceiptKey)
	if receiptKey != nil {
		checkReceiptKey(fieldErrors, tenderID, *receiptKey)
	}
	notes := strings.TrimSpace(input.Notes)
	if len(notes) > 4000 {
		fieldErrors.add("notes", "notes must be at most 4000 characters")
	}
	if len(fieldErrors) > 0 {
		return Result{}, &ValidationError{Fields: fieldErrors}
	}
	if tenderID == uuid.Nil {
		return Result{}, ErrTenderNotFound
	}

	if err := s.repo.TenderExists(ctx, tenderID); err != nil {
		return Result{}, translateError(err)
	}
	if err := s.authz.RequireMinRole(ctx, audit, tenderID, assignments.RoleContributor); err != nil {
		return Result{}, translateError(err)
	}

	record, err := s.repo.Create(ctx, persistence.CreateSubmissionParams{
		ID:          uuid.New(),
		TenderID:    tenderID,
		Method:      method,
		SubmittedAt: submittedAt,
		SubmittedBy: audit.ActorID(),
		ReceiptKey:  receiptKey,
		Notes:       notes,
	})
	if err != nil {
		return Result{}, translateError(err)
	}

	result := Result{Submission: mapSubmission(record)}
	if receiptKey != nil {
		result.ParseJob = s.enqueueAfterWrite(ctx, &result.Submission, ReasonCreated)
	}
	return result, nil
}

func (s *service) Update(ctx context.Context, audit requesttrace.AuditInfo, id uuid.UUID, input UpdateInput) (Result, error) {
	fieldErrors := FieldErrors{}
	params := persistence.UpdateSubmissionParams{}

	if input.Method != nil {
		method := strings.ToLower(strings.TrimSpace(*input.Method))
		if !validMethod(method) {
			fieldErrors.add("method", "method must be one of portal, email, courier, in_person")
		}
		params.Method = &method
	}
	if input.SubmittedAt != nil {
		if input.SubmittedAt.After(s.now().Add(time.Minute)) {
			fieldErrors.add("submittedAt", "submittedAt must not be in the future")
		}
		at := input.SubmittedAt.UTC()
		params.SubmittedAt = &at
	}
	if input.Notes != nil {
		notes := strings.TrimSpace(*input.Notes)
		if len(notes) > 4000 {
			fieldErrors.add("notes", "notes must be at most 4000 characters")
		}
		params.Notes = &notes
	}
	if len(fieldErrors) > 0 {
		return Result{}, &ValidationError{Fields: fieldErrors}
	}
	if id == uuid.Nil {
		return Result{}, ErrNotFound
	}

	current, err := s.repo.Get(ctx, id)
	if err != nil {
		return Result{}, translateError(err)
	}

	receiptChanged := false
	if input.ReceiptKey != nil {
		key := strings.TrimSpace(*input.ReceiptKey)
		if key != "" {
			checkReceiptKey(fieldErrors, current.TenderID, key)
			if len(fieldErrors) > 0 {
				return Result{}, &ValidationError{Fields: fieldErrors}
			}
		}
		params.ReceiptKey = &key
		receiptChanged = key != "" && (current.ReceiptKey == nil || *current.ReceiptKey != key)
	}

	if err := s.authz.RequireMinRole(ctx, audit, current.TenderID, assignments.RoleContributor); err != nil {
		return Result{}, translateError(err)
	}

	record, err := s.repo.Update(ctx, id, params)
	if err != nil {
		return Result{}, translateError(err)
	}

	result := Result{Submission: mapSubmission(record)}
	if receiptChanged {
		result.ParseJob = s.enqueueAfterWrite(ctx, &result.Submission, ReasonUpdated)
	}
	return result, nil
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (Submission, error) {
	if id == uuid.Nil {
		return Submission{}, ErrNotFound
	}
	record, err := s.repo.Get(ctx, id)
	if err != nil {
		return Submission{}, translateError(err)
	}
	return mapSubmission(record), nil
}

func (s *service) ListByTender(ctx context.Context, tenderID uuid.UUID) ([]Submission, error) {
	if tenderID == uuid.Nil {
		return nil, ErrTenderNotFound
	}
	if err := s.repo.TenderExists(ctx, tenderID); err != nil {
		return nil, translateError(err)
	}
	records, err := s.repo.ListByTender(ctx, tenderID)
	if err != nil {
		return nil, translateError(err)
	}
	items := make([]Submission, 0, len(records))
	for _, record := range records {
		items = append(items, mapSubmission(record))
	}
	return items, nil
}

// Reparse queues a fresh parse even when a result is already stored.
func (s *service) Reparse(ctx context.Context, audit requesttrace.AuditInfo, id uuid.UUID) (ParseJob, error) {
	if id == uuid.Nil {
		return ParseJob{}, ErrNotFound
	}
	current, err := s.repo.Get(ctx, id)
	if err != nil {
		return ParseJob{}, translateError(err)
	}
	if err := s.authz.RequireMinRole(ctx, audit, current.TenderID, assignments.RoleOwner); err != nil {
		return ParseJob{}, translateError(err)
	}
	if current.ReceiptKey == nil || *current.ReceiptKey == "" {
		return ParseJob{}, &ValidationError{Fields: FieldErrors{
			"receiptKey": {"submission has no receipt to parse"},
		}}
	}
	return s.enqueue(ctx, current, ReasonReparse)
}

func (s *service) ReceiptUploadURL(ctx context.Context, audit requesttrace.AuditInfo, tenderID uuid.UUID, input UploadInput) (UploadURL, error) {
	contentType := strings.ToLower(strings.TrimSpace(input.ContentType))
	if i := strings.Index(contentType, ";"); i >= 0 {
		contentType = strings.TrimSpace(contentType[:i])
	}
	ext, ok := receiptContentTypes[contentType]
	if !ok {
		return UploadURL{}, &ValidationError{Fields: FieldErrors{
			"contentType": {"contentType must be a PDF, PNG, JPEG, TIFF, plain text or JSON document"},
		}}
	}
	if tenderID == uuid.Nil {
		return UploadURL{}, ErrTenderNotFound
	}
	if s.receipts == nil || s.bucket == "" {
		return UploadURL{}, ErrUploadsOff
	}

	if err := s.repo.TenderExists(ctx, tenderID); err != nil {
		return UploadURL{}, translateError(err)
	}
	if err := s.authz.RequireMinRole(ctx, audit, tenderID, assignments.RoleContributor); err != nil {
		return UploadURL{}, translateError(err)
	}

	space, err := tenant.Require(ctx)
	if err != nil {
		return UploadURL{}, err
	}
	key := ReceiptPrefix(tenderID) + uuid.NewString() + ext
	loc, err := storage.ResolveObjectLocation(space, s.bucket, key)
	if err != nil {
		return UploadURL{}, fmt.Errorf("resolve receipt location: %w", err)
	}
	url, err := s.receipts.PresignPut(ctx, loc, contentType, ReceiptUploadTTL)
	if err != nil {
		return UploadURL{}, fmt.Errorf("presign receipt upload: %w", err)
	}
	return UploadURL{
		ReceiptKey:  key,
		URL:         url,
		Method:      "PUT",
		ContentType: contentType,
		ExpiresAt:   s.now().Add(ReceiptUploadTTL),
	}, nil
}

func (s *service) EnqueueParse(ctx context.Context, id uuid.UUID, reason string) (ParseJob, error) {
	if id == uuid.Nil {
		return ParseJob{}, ErrNotFound
	}
	current, err := s.repo.Get(ctx, id)
	if err != nil {
		return ParseJob{}, translateError(err)
	}
	if current.ReceiptKey == nil || *current.ReceiptKey == "" {
		return ParseJob{}, &ValidationError{Fields: FieldErrors{
			"receiptKey": {"submission has no receipt to parse"},
		}}
	}
	return s.enqueue(ctx, current, reason)
}

// enqueueAfterWrite queues the parse of a freshly written submission. The write has already
// succeeded, so a queue failure is logged and left to the stale sweeper.
func (s *service) enqueueAfterWrite(ctx context.Context, sub *Submission, reason string) *ParseJob {
	record := persistence.SubmissionRecord{ID: sub.ID, TenderID: sub.TenderID, ReceiptKey: sub.ReceiptKey}
	job, err := s.enqueue(ctx, record, reason)
	if err != nil {
		logger := logging.FromContextOr(ctx, zap.NewNop())
		logger.Warn("parse job not queued", zap.String("submission_id", sub.ID.String()), zap.Error(err))
		return nil
	}
	sub.ParseStatus = persistence.ParseStatusQueued
	return &job
}

// enqueue marks the submission queued before handing it to the queue so a lost enqueue is
// still picked up by the stale sweeper.
func (s *service) enqueue(ctx context.Context, record persistence.SubmissionRecord, reason string) (ParseJob, error) {
	if s.queue == nil {
		return ParseJob{}, errors.New("parse queue is not configured")
	}
	space, err := tenant.Require(ctx)
	if err != nil {
		return ParseJob{}, err
	}

	if err := s.repo.MarkQueued(ctx, record.ID, s.now()); err != nil {
		return ParseJob{}, translateError(err)
	}

	job, err := queue.NewJob(queue.ParseQueue, space.TenantID, ParseDedupeKey+record.ID.String(), ParsePayload{
		SubmissionID: record.ID,
		Reason:       reason,
	})
	if err != nil {
		return ParseJob{}, err
	}
	enqueued, err := s.queue.Enqueue(ctx, job)
	if err != nil {
		return ParseJob{}, fmt.Errorf("enqueue parse job: %w", err)
	}

	if !enqueued.Deduplicated {
		evt, err := broadcast.NewEvent(broadcast.EventParseQueued, space.TenantID, enqueued.JobID, map[string]string{
			"submissionId": record.ID.String(),
			"tenderId":     record.TenderID.String(),
			"reason":       reason,
		})
		if err == nil {
			err = broadcast.Emit(ctx, s.publisher, evt)
		}
		if err != nil {
			logger := logging.FromContextOr(ctx, zap.NewNop())
			logger.Warn("parse queued event not published", zap.Error(err))
		}
	}
	return ParseJob{JobID: enqueued.JobID, Deduplicated: enqueued.Deduplicated}, nil
}

// ReceiptPrefix is the tenant-relative key prefix receipts of a tender are uploaded under.
func ReceiptPrefix(tenderID uuid.UUID) string {
	return "receipts/" + tenderID.String() + "/"
}

func normalizeReceiptKey(key *string) *string {
	if key == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*key)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func checkReceiptKey(fieldErrors FieldErrors, tenderID uuid.UUID, key string) {
	switch {
	case len(key) > 512:
		fieldErrors.add("receiptKey", "receiptKey must be at most 512 characters")
	case !strings.HasPrefix(key, ReceiptPrefix(tenderID)):
		fieldErrors.add("receiptKey", "receiptKey must be a receipt uploaded for this tender")
	case path.Clean(key) != key:
		fieldErrors.add("receiptKey", "receiptKey must be a clean relative key")
	}
}

func validMethod(method string) bool {
	switch method {
	case MethodPortal, MethodEmail, MethodCourier, MethodInPerson:
		return true
	default:
		return false
	}
}

func mapSubmission(record persistence.SubmissionRecord) Submission {
	return Submission{
		ID:            record.ID,
		TenderID:      record.TenderID,
		Method:        record.Method,
		SubmittedAt:   record.SubmittedAt,
		SubmittedBy:   record.SubmittedBy,
		ReceiptKey:    record.ReceiptKey,
		Notes:         record.Notes,
		Parsed:        record.Parsed,
		ParsedAt:      record.ParsedAt,
		ParseVersion:  record.ParseVersion,
		ParseStatus:   record.ParseStatus,
		ParseAttempts: record.ParseAttempts,
		CreatedAt:     record.CreatedAt,
		UpdatedAt:     record.UpdatedAt,
	}
}

func translateError(err error) error {
	switch {
	case errors.Is(err, persistence.ErrSubmissionNotFound):
		return ErrNotFound
	case errors.Is(err, persistence.ErrTenderNotFound), errors.Is(err, assignments.ErrTenderNotFound):
		return ErrTenderNotFound
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
