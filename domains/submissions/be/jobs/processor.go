// Package jobs runs receipt parses pulled from the parse queue.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/zenGate-Global/tender-engine/domains/submissions/be/parsing"
	"github.com/zenGate-Global/tender-engine/domains/submissions/be/service"
	"github.com/zenGate-Global/tender-engine/platform/go/broadcast"
	"github.com/zenGate-Global/tender-engine/platform/go/logging"
	"github.com/zenGate-Global/tender-engine/platform/go/persistence"
	"github.com/zenGate-Global/tender-engine/platform/go/queue"
	"github.com/zenGate-Global/tender-engine/platform/go/storage"
	"github.com/zenGate-Global/tender-engine/platform/go/tenant"
)

// Store is the part of the submissions repository the processor writes through.
type Store interface {
	Get(ctx context.Context, id uuid.UUID) (persistence.SubmissionRecord, error)
	MarkProcessing(ctx context.Context, id uuid.UUID) error
	SaveResult(ctx context.Context, params persistence.SaveParseResultParams) (persistence.SubmissionRecord, error)
}

// ReceiptParser is implemented by *parsing.Parser.
type ReceiptParser interface {
	Parse(ctx context.Context, data []byte) (parsing.Receipt, error)
	Version() string
}

type ProcessorDeps struct {
	Store     Store
	Receipts  storage.ObjectStore
	Bucket    string
	Parser    ReceiptParser
	Publisher broadcast.Publisher
	EnvKey    string
	// MaxAttempts must match the pool's retry policy; it decides when a retrying event is sent.
	MaxAttempts int
}

// Processor is the queue.Handler of the parse queue. It also records dead-lettered parses.
type Processor struct {
	store       Store
	receipts    storage.ObjectStore
	bucket      string
	parser      ReceiptParser
	publisher   broadcast.Publisher
	envKey      string
	maxAttempts int
	logger      *zap.Logger
	now         func() time.Time
}

var (
	_ queue.Handler           = (*Processor)(nil)
	_ queue.DeadLetterHandler = (*Processor)(nil)
)

func NewProcessor(deps ProcessorDeps, logger *zap.Logger) *Processor {
	if deps.Store == nil {
		panic("submission store is required")
	}
	if deps.Receipts == nil {
		panic("receipt object store is required")
	}
	if deps.Parser == nil {
		panic("receipt parser is required")
	}
	if logger == nil {
		panic("logger is required")
	}
	publisher := deps.Publisher
	if publisher == nil {
		publisher = broadcast.Discard
	}
	maxAttempts := deps.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = queue.DefaultRetryPolicy().MaxAttempts
	}
	return &Processor{
		store:       deps.Store,
		receipts:    deps.Receipts,
		bucket:      deps.Bucket,
		parser:      deps.Parser,
		publisher:   publisher,
		envKey:      deps.EnvKey,
		maxAttempts: maxAttempts,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

type eventData struct {
	SubmissionID string `json:"submissionId"`
	TenderID     string `json:"tenderId,omitempty"`
	Attempt      int    `json:"attempt,omitempty"`
	Portal       string `json:"portal,omitempty"`
	Code         string `json:"code,omitempty"`
	Message      string `json:"message,omitempty"`
}

func (p *Processor) Handle(ctx context.Context, job queue.Job) error {
	var payload service.ParsePayload
	if err := job.Decode(&payload); err != nil {
		return err
	}
	ctx = tenant.WithSpace(ctx, tenant.NewSpace(p.envKey, job.TenantID))
	logger := logging.FromContextOr(ctx, p.logger).With(zap.String("submission_id", payload.SubmissionID.String()))

	err := p.parse(ctx, logger, job, payload)
	if err != nil && !queue.IsPermanent(err) && job.Attempt < p.maxAttempts {
		p.emit(context.WithoutCancel(ctx), logger, job, broadcast.EventParseRetrying, eventData{
			SubmissionID: payload.SubmissionID.String(),
			Attempt:      job.Attempt,
			Message:      err.Error(),
		})
	}
	return err
}

// maxReceiptReloads bounds how often one attempt starts over because the receipt was replaced
// while it was being parsed. Beyond that the job is retried.
const maxReceiptReloads = 3

func (p *Processor) parse(ctx context.Context, logger *zap.Logger, job queue.Job, payload service.ParsePayload) error {
	for reload := 0; ; reload++ {
		err := p.parseCurrent(ctx, logger, job, payload)
		if !errors.Is(err, persistence.ErrReceiptChanged) {
			return err
		}
		if reload >= maxReceiptReloads {
			return queue.Recoverable(err)
		}
		logger.Info("receipt replaced during parse; parsing the new receipt")
	}
}

// parseCurrent parses the receipt the submission points at now. It returns ErrReceiptChanged
// when the receipt was replaced before the result could be saved.
func (p *Processor) parseCurrent(ctx context.Context, logger *zap.Logger, job queue.Job, payload service.ParsePayload) error {
	record, err := p.store.Get(ctx, payload.SubmissionID)
	if errors.Is(err, persistence.ErrSubmissionNotFound) {
		return queue.Permanent(err)
	}
	if err != nil {
		return queue.Recoverable(fmt.Errorf("load submission: %w", err))
	}

	if err := p.store.MarkProcessing(ctx, record.ID); err != nil {
		return queue.Recoverable(fmt.Errorf("mark submission processing: %w", err))
	}
	p.emit(ctx, logger, job, broadcast.EventParseStarted, eventData{
		SubmissionID: record.ID.String(),
		TenderID:     record.TenderID.String(),
		Attempt:      job.Attempt,
	})

	data, err := p.download(ctx, record)
	if err != nil {
		return err
	}

	receipt, err := p.parser.Parse(ctx, data)
	if parsing.IsNoMatch(err) {
		logger.Info("receipt matched no extractor")
		return p.saveFailure(ctx, logger, job, record, err)
	}
	var failure *parsing.Failure
	if errors.As(err, &failure) {
		return queue.Permanent(err)
	}
	if err != nil {
		return queue.Recoverable(err)
	}

	parsed, err := json.Marshal(receipt)
	if err != nil {
		return queue.Permanent(fmt.Errorf("encode parsed receipt: %w", err))
	}
	version := p.parser.Version()
	_, err = p.store.SaveResult(ctx, persistence.SaveParseResultParams{
		ID:           record.ID,
		ReceiptKey:   record.ReceiptKey,
		Parsed:       parsed,
		ParsedAt:     p.now(),
		ParseVersion: &version,
		Status:       persistence.ParseStatusSucceeded,
	})
	if errors.Is(err, persistence.ErrReceiptChanged) {
		return err
	}
	if err != nil {
		return queue.Recoverable(fmt.Errorf("save parsed receipt: %w", err))
	}

	logger.Info("receipt parsed", zap.String("portal", receipt.Portal), zap.String("parse_version", version))
	p.emit(ctx, logger, job, broadcast.EventParseSucceeded, eventData{
		SubmissionID: record.ID.String(),
		TenderID:     record.TenderID.String(),
		Attempt:      job.Attempt,
		Portal:       receipt.Portal,
	})
	return nil
}

func (p *Processor) download(ctx context.Context, record persistence.SubmissionRecord) ([]byte, error) {
	if record.ReceiptKey == nil || *record.ReceiptKey == "" {
		return nil, queue.Permanent(&parsing.Failure{Code: parsing.CodeReceiptMissing, Message: "submission has no receipt"})
	}
	space, err := tenant.Require(ctx)
	if err != nil {
		return nil, queue.Permanent(err)
	}
	loc, err := storage.ResolveObjectLocation(space, p.bucket, *record.ReceiptKey)
	if err != nil {
		return nil, queue.Permanent(&parsing.Failure{Code: parsing.CodeReceiptMissing, Message: "receipt key cannot be resolved", Err: err})
	}
	data, err := p.receipts.Get(ctx, loc)
	if errors.Is(err, storage.ErrObjectNotFound) {
		return nil, queue.Permanent(&parsing.Failure{Code: parsing.CodeReceiptMissing, Message: "receipt object does not exist", Err: err})
	}
	if err != nil {
		return nil, queue.Recoverable(fmt.Errorf("download receipt: %w", err))
	}
	return data, nil
}

// OnDeadLetter stores the terminal failure on the submission so parsed_at is never left empty.
func (p *Processor) OnDeadLetter(ctx context.Context, job queue.Job, cause error) {
	logger := logging.FromContextOr(ctx, p.logger)

	var payload service.ParsePayload
	if err := job.Decode(&payload); err != nil {
		logger.Error("dead-lettered parse job has no readable payload", zap.Error(err))
		return
	}
	if errors.Is(cause, persistence.ErrSubmissionNotFound) {
		logger.Info("dead-lettered parse job for a missing submission", zap.String("submission_id", payload.SubmissionID.String()))
		return
	}
	ctx = tenant.WithSpace(ctx, tenant.NewSpace(p.envKey, job.TenantID))
	logger = logger.With(zap.String("submission_id", payload.SubmissionID.String()))

	record, err := p.store.Get(ctx, payload.SubmissionID)
	if err != nil {
		logger.Error("parse failure not recorded", zap.Error(err))
		return
	}
	// A parse requested after this job's last attempt started supersedes the failure; the row
	// stays queued for the stale sweeper.
	if record.ParseStatus == persistence.ParseStatusQueued {
		logger.Info("dead-lettered parse superseded by a newer request")
		return
	}
	err = p.saveFailure(ctx, logger, job, record, cause)
	if errors.Is(err, persistence.ErrReceiptChanged) {
		logger.Info("dead-lettered parse superseded by a new receipt")
		return
	}
	if err != nil {
		logger.Error("parse failure not recorded", zap.Error(err))
	}
}

func (p *Processor) saveFailure(ctx context.Context, logger *zap.Logger, job queue.Job, current persistence.SubmissionRecord, cause error) error {
	detail := parsing.ErrorDetail{Code: parsing.FailureCode(cause), Message: failureMessage(cause), Attempts: job.Attempt}
	parsed, err := json.Marshal(parsing.ErrorDocument{Error: detail})
	if err != nil {
		return queue.Permanent(fmt.Errorf("encode parse failure: %w", err))
	}
	version := p.parser.Version()
	record, err := p.store.SaveResult(ctx, persistence.SaveParseResultParams{
		ID:           current.ID,
		ReceiptKey:   current.ReceiptKey,
		Parsed:       parsed,
		ParsedAt:     p.now(),
		ParseVersion: &version,
		Status:       persistence.ParseStatusFailed,
	})
	if errors.Is(err, persistence.ErrReceiptChanged) {
		return err
	}
	if errors.Is(err, persistence.ErrSubmissionNotFound) {
		return queue.Permanent(err)
	}
	if err != nil {
		return queue.Recoverable(fmt.Errorf("save parse failure: %w", err))
	}

	logger.Warn("receipt parse failed", zap.String("code", detail.Code), zap.Int("attempts", detail.Attempts))
	p.emit(ctx, logger, job, broadcast.EventParseFailed, eventData{
		SubmissionID: current.ID.String(),
		TenderID:     record.TenderID.String(),
		Attempt:      job.Attempt,
		Code:         detail.Code,
		Message:      detail.Message,
	})
	return nil
}

func failureMessage(err error) string {
	var failure *parsing.Failure
	if errors.As(err, &failure) {
		return failure.Message
	}
	return truncateRunes(err.Error(), maxFailureMessage)
}

const maxFailureMessage = 300

// truncateRunes cuts s to at most limit bytes without splitting a UTF-8 sequence.
func truncateRunes(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

func (p *Processor) emit(ctx context.Context, logger *zap.Logger, job queue.Job, eventType string, data eventData) {
	evt, err := broadcast.NewEvent(eventType, job.TenantID, job.ID, data)
	if err != nil {
		logger.Warn("progress event not encoded", zap.Error(err))
		return
	}
	if err := broadcast.Emit(ctx, p.publisher, evt); err != nil {
		logger.Warn("progress event not published", zap.String("event", eventType), zap.Error(err))
	}
}
