// Package service implements idempotent ingestion of crawler records into tenders.
package service

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/zenGate-Global/tender-engine/platform/go/persistence"
	"github.com/zenGate-Global/tender-engine/platform/go/queue"
	"github.com/zenGate-Global/tender-engine/platform/go/requesttrace"
	"github.com/zenGate-Global/tender-engine/platform/go/tenant"
	"github.com/zenGate-Global/tender-engine/platform/go/validation"
)

//go:embed schemas/source_record.json
var sourceRecordSchema []byte

const sourceRecordSchemaName = "ingestion-source-record"

// initialState is the lifecycle state of a freshly ingested tender.
const initialState = "SCRAPED"

// Domain sentinel errors.
var (
	ErrForbidden   = errors.New("tenant admin required")
	ErrRunNotFound = errors.New("ingestion run not found")
	ErrEmptyBatch  = errors.New("batch contains no records")
)

// Outcome of ingesting one record.
type Outcome string

const (
	OutcomeInserted  Outcome = "inserted"
	OutcomeUpdated   Outcome = "updated"
	OutcomeUnchanged Outcome = "unchanged"
)

// Trigger records what started a batch.
type Trigger string

const (
	TriggerAPI      Trigger = "api"
	TriggerJob      Trigger = "job"
	TriggerCLI      Trigger = "cli"
	TriggerSchedule Trigger = "schedule"
)

// Run statuses.
const (
	RunRunning   = "running"
	RunCompleted = "completed"
	RunCancelled = "cancelled"
	RunFailed    = "failed"
)

// SourceRecord is one tender as a crawler reported it.
type SourceRecord struct {
	Source             string     `json:"source"`
	ExternalID         string     `json:"externalId,omitempty"`
	Hash               string     `json:"hash,omitempty"`
	Title              string     `json:"title"`
	Buyer              string     `json:"buyer,omitempty"`
	Deadline           *time.Time `json:"deadline,omitempty"`
	BudgetAmount       *float64   `json:"budgetAmount,omitempty"`
	BudgetCurrency     string     `json:"budgetCurrency,omitempty"`
	BudgetText         string     `json:"budgetText,omitempty"`
	ClassificationCode string     `json:"classificationCode,omitempty"`
	Country            string     `json:"country,omitempty"`
	SourceURL          string     `json:"sourceUrl,omitempty"`
	Description        string     `json:"description,omitempty"`
	Location           string     `json:"location,omitempty"`
	PublishedAt        *time.Time `json:"publishedAt,omitempty"`
}

// RecordError describes one rejected record of a batch.
type RecordError struct {
	Index      int    `json:"index"`
	ExternalID string `json:"externalId,omitempty"`
	Reason     string `json:"reason"`
}

func (e *RecordError) Error() string {
	if e.ExternalID != "" {
		return fmt.Sprintf("record %d (%s): %s", e.Index, e.ExternalID, e.Reason)
	}
	return fmt.Sprintf("record %d: %s", e.Index, e.Reason)
}

// Result is the outcome of ingesting a single record.
type Result struct {
	TenderID uuid.UUID
	State    string
	Outcome  Outcome
}

// Progress is reported after each record of a batch.
type Progress struct {
	RunID     uuid.UUID
	Processed int
	Total     int
	Inserted  int
	Updated   int
	Unchanged int
	Failed    int
}

// BatchInput describes a batch to ingest. Source applies to records that leave it empty.
// When RunID is set the run must already exist.
type BatchInput struct {
	RunID      uuid.UUID
	Source     string
	Trigger    Trigger
	Records    []SourceRecord
	OnProgress func(Progress)
}

type BatchResult struct {
	RunID     uuid.UUID
	Status    string
	Received  int
	Inserted  int
	Updated   int
	Unchanged int
	Failed    int
	Errors    []RecordError
}

// Run is a persisted batch with its counters.
type Run struct {
	ID          uuid.UUID
	Source      string
	Trigger     Trigger
	Status      string
	Received    int
	Inserted    int
	Updated     int
	Unchanged   int
	Failed      int
	Errors      []RecordError
	StartedAt   time.Time
	CompletedAt *time.Time
}

// JobPayload is the body of an ingestion queue job.
type JobPayload struct {
	RunID   uuid.UUID      `json:"runId"`
	Source  string         `json:"source,omitempty"`
	Trigger Trigger        `json:"trigger"`
	Records []SourceRecord `json:"records"`
}

// EnqueueResult identifies the queued batch.
type EnqueueResult struct {
	JobID        string
	RunID        uuid.UUID
	Deduplicated bool
}

// Service defines the ingestion operations. Every operation requires a tenant admin or a
// system actor.
type Service interface {
	Ingest(ctx context.Context, audit requesttrace.AuditInfo, record SourceRecord) (Result, error)
	IngestBatch(ctx context.Context, audit requesttrace.AuditInfo, input BatchInput) (BatchResult, error)
	EnqueueBatch(ctx context.Context, audit requesttrace.AuditInfo, input BatchInput) (EnqueueResult, error)
	GetRun(ctx context.Context, audit requesttrace.AuditInfo, id uuid.UUID) (Run, error)
}

// Repository is implemented by the postgres and memory repositories in the repo package.
type Repository interface {
	Upsert(ctx context.Context, params persistence.UpsertTenderParams) (persistence.TenderRecord, persistence.UpsertOutcome, error)
	CreateRun(ctx context.Context, params persistence.CreateIngestionRunParams) (persistence.IngestionRunRecord, error)
	FinishRun(ctx context.Context, params persistence.FinishIngestionRunParams) (persistence.IngestionRunRecord, error)
	GetRun(ctx context.Context, id uuid.UUID) (persistence.IngestionRunRecord, error)
}

type service struct {
	repo      Repository
	queue     queue.Queue
	validator *validation.SchemaValidator
	now       func() time.Time
}

// New constructs an ingestion Service. q may be nil when batches are only ingested inline.
func New(r Repository, q queue.Queue) Service {
	if r == nil {
		panic("ingestion repository is required")
	}
	return &service{
		repo:      r,
		queue:     q,
		validator: validation.NewSchemaValidator().MustRegister(sourceRecordSchemaName, sourceRecordSchema),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (s *service) Ingest(ctx context.Context, audit requesttrace.AuditInfo, record SourceRecord) (Result, error) {
	if !audit.Privileged() {
		return Result{}, ErrForbidden
	}
	if _, err := tenant.Require(ctx); err != nil {
		return Result{}, err
	}

	normalised, reason := s.prepare(ctx, record, "")
	if reason != "" {
		return Result{}, &RecordError{Index: 0, ExternalID: strings.TrimSpace(record.ExternalID), Reason: reason}
	}
	return s.upsert(ctx, normalised)
}

func (s *service) IngestBatch(ctx context.Context, audit requesttrace.AuditInfo, input BatchInput) (BatchResult, error) {
	if !audit.Privileged() {
		return BatchResult{}, ErrForbidden
	}
	space, err := tenant.Require(ctx)
	if err != nil {
		return BatchResult{}, err
	}
	if len(input.Records) == 0 {
		return BatchResult{}, ErrEmptyBatch
	}
	trigger := input.Trigger
	if trigger == "" {
		trigger = TriggerAPI
	}

	result := BatchResult{RunID: input.RunID, Status: RunRunning, Received: len(input.Records)}
	if result.RunID == uuid.Nil {
		run, err := s.repo.CreateRun(ctx, persistence.CreateIngestionRunParams{
			ID:       uuid.New(),
			TenantID: space.TenantID,
			Source:   batchSource(input),
			Trigger:  string(trigger),
			Received: len(input.Records),
		})
		if err != nil {
			return BatchResult{}, fmt.Errorf("create ingestion run: %w", err)
		}
		result.RunID = run.ID
	}

	var batchErr error
records:
	for i, record := range input.Records {
		if err := ctx.Err(); err != nil {
			result.Status = RunCancelled
			batchErr = err
			break
		}

		normalised, reason := s.prepare(ctx, record, input.Source)
		if reason == "" {
			res, err := s.upsert(ctx, normalised)
			switch {
			case err == nil:
				switch res.Outcome {
				case OutcomeInserted:
					result.Inserted++
				case OutcomeUpdated:
					result.Updated++
				default:
					result.Unchanged++
				}
			case ctx.Err() != nil:
				result.Status = RunCancelled
				batchErr = ctx.Err()
				break records
			case persistence.IsDataError(err):
				// The store refused this row's values; the rest of the batch still goes in.
				reason = "rejected by store: " + err.Error()
			default:
				result.Status = RunFailed
				batchErr = fmt.Errorf("ingest record %d: %w", i, err)
				break records
			}
		}
		if reason != "" {
			result.Failed++
			result.Errors = append(result.Errors, RecordError{Index: i, ExternalID: strings.TrimSpace(record.ExternalID), Reason: reason})
		}

		if input.OnProgress != nil {
			input.OnProgress(Progress{
				RunID:     result.RunID,
				Processed: i + 1,
				Total:     result.Received,
				Inserted:  result.Inserted,
				Updated:   result.Updated,
				Unchanged: result.Unchanged,
				Failed:    result.Failed,
			})
		}
	}
	if result.Status == RunRunning {
		result.Status = RunCompleted
	}

	if err := s.finish(ctx, space.TenantID, result); err != nil {
		return result, errors.Join(batchErr, err)
	}
	return result, batchErr
}

func (s *service) EnqueueBatch(ctx context.Context, audit requesttrace.AuditInfo, input BatchInput) (EnqueueResult, error) {
	if !audit.Privileged() {
		return EnqueueResult{}, ErrForbidden
	}
	if s.queue == nil {
		return EnqueueResult{}, errors.New("ingestion queue is not configured")
	}
	space, err := tenant.Require(ctx)
	if err != nil {
		return EnqueueResult{}, err
	}
	if len(input.Records) == 0 {
		return EnqueueResult{}, ErrEmptyBatch
	}
	trigger := input.Trigger
	if trigger == "" {
		trigger = TriggerJob
	}

	run, err := s.repo.CreateRun(ctx, persistence.CreateIngestionRunParams{
		ID:       uuid.New(),
		TenantID: space.TenantID,
		Source:   batchSource(input),
		Trigger:  string(trigger),
		Received: len(input.Records),
	})
	if err != nil {
		return EnqueueResult{}, fmt.Errorf("create ingestion run: %w", err)
	}

	job, err := queue.NewJob(queue.IngestionQueue, space.TenantID, "ingestion:"+run.ID.String(), JobPayload{
		RunID:   run.ID,
		Source:  input.Source,
		Trigger: trigger,
		Records: input.Records,
	})
	if err != nil {
		return EnqueueResult{}, err
	}
	enqueued, err := s.queue.Enqueue(ctx, job)
	if err != nil {
		return EnqueueResult{}, fmt.Errorf("enqueue ingestion batch: %w", err)
	}
	return EnqueueResult{JobID: enqueued.JobID, RunID: run.ID, Deduplicated: enqueued.Deduplicated}, nil
}

func (s *service) GetRun(ctx context.Context, audit requesttrace.AuditInfo, id uuid.UUID) (Run, error) {
	if !audit.Privileged() {
		return Run{}, ErrForbidden
	}
	if id == uuid.Nil {
		return Run{}, ErrRunNotFound
	}
	record, err := s.repo.GetRun(ctx, id)
	if err != nil {
		return Run{}, translateError(err)
	}

	run := Run{
		ID:          record.ID,
		Source:      record.Source,
		Trigger:     Trigger(record.Trigger),
		Status:      record.Status,
		Received:    record.Received,
		Inserted:    record.Inserted,
		Updated:     record.Updated,
		Unchanged:   record.Unchanged,
		Failed:      record.Failed,
		StartedAt:   record.StartedAt,
		CompletedAt: record.CompletedAt,
	}
	if len(record.Errors) > 0 {
		if err := json.Unmarshal(record.Errors, &run.Errors); err != nil {
			return Run{}, fmt.Errorf("decode run errors: %w", err)
		}
	}
	return run, nil
}

// prepare trims and completes a record. A non-empty reason rejects it.
func (s *service) prepare(ctx context.Context, r SourceRecord, defaultSource string) (SourceRecord, string) {
	r.Source = strings.TrimSpace(r.Source)
	if r.Source == "" {
		r.Source = strings.TrimSpace(defaultSource)
	}
	r.ExternalID = strings.TrimSpace(r.ExternalID)
	r.Hash = strings.TrimSpace(r.Hash)
	r.Title = strings.TrimSpace(r.Title)
	r.Buyer = strings.TrimSpace(r.Buyer)
	r.BudgetCurrency = strings.ToUpper(strings.TrimSpace(r.BudgetCurrency))
	r.ClassificationCode = strings.TrimSpace(r.ClassificationCode)
	r.Country = strings.ToUpper(strings.TrimSpace(r.Country))
	r.SourceURL = strings.TrimSpace(r.SourceURL)
	r.Description = strings.TrimSpace(r.Description)
	r.Location = strings.TrimSpace(r.Location)

	switch {
	case r.Source == "":
		return r, "source is required"
	case r.Title == "":
		return r, "title is required"
	}
	if field := invalidTextField(r); field != "" {
		return r, field + " must be valid UTF-8 without control characters"
	}

	if r.BudgetAmount == nil && strings.TrimSpace(r.BudgetText) != "" {
		amount, currency, ok := ParseBudget(r.BudgetText)
		if !ok {
			return r, fmt.Sprintf("budget %q is not a number", r.BudgetText)
		}
		r.BudgetAmount = &amount
		if r.BudgetCurrency == "" {
			r.BudgetCurrency = currency
		}
	}
	r.BudgetText = ""

	if r.Deadline != nil {
		deadline := r.Deadline.UTC()
		r.Deadline = &deadline
	}
	if r.PublishedAt != nil {
		published := r.PublishedAt.UTC()
		r.PublishedAt = &published
	}
	if r.Hash == "" {
		r.Hash = Fingerprint(r)
	}

	if err := s.validator.ValidateValue(ctx, sourceRecordSchemaName, r); err != nil {
		return r, err.Error()
	}
	return r, ""
}

// contentFields is the mutable part of a tender. Field order is part of the checksum.
type contentFields struct {
	Hash               string     `json:"hash"`
	Title              string     `json:"title"`
	Buyer              string     `json:"buyer"`
	Deadline           *time.Time `json:"deadline"`
	BudgetAmount       *float64   `json:"budgetAmount"`
	BudgetCurrency     string     `json:"budgetCurrency"`
	ClassificationCode string     `json:"classificationCode"`
	Country            string     `json:"country"`
	SourceURL          string     `json:"sourceUrl"`
	Description        string     `json:"description"`
	Location           string     `json:"location"`
	PublishedAt        *time.Time `json:"publishedAt"`
}

// ContentChecksum hashes every field an ingest may overwrite. Equal checksums mean no write.
func ContentChecksum(r SourceRecord) (string, error) {
	return persistence.HashJSON(contentFields{
		Hash:               r.Hash,
		Title:              r.Title,
		Buyer:              r.Buyer,
		Deadline:           r.Deadline,
		BudgetAmount:       r.BudgetAmount,
		BudgetCurrency:     r.BudgetCurrency,
		ClassificationCode: r.ClassificationCode,
		Country:            r.Country,
		SourceURL:          r.SourceURL,
		Description:        r.Description,
		Location:           r.Location,
		PublishedAt:        r.PublishedAt,
	})
}

func (s *service) upsert(ctx context.Context, r SourceRecord) (Result, error) {
	checksum, err := ContentChecksum(r)
	if err != nil {
		return Result{}, err
	}

	params := persistence.UpsertTenderParams{
		InitialState:       initialState,
		Source:             r.Source,
		Hash:               r.Hash,
		Title:              r.Title,
		Buyer:              r.Buyer,
		Deadline:           r.Deadline,
		BudgetAmount:       r.BudgetAmount,
		BudgetCurrency:     r.BudgetCurrency,
		ClassificationCode: r.ClassificationCode,
		Country:            r.Country,
		SourceURL:          r.SourceURL,
		Description:        r.Description,
		Location:           r.Location,
		PublishedAt:        r.PublishedAt,
		ContentChecksum:    checksum,
	}
	if r.ExternalID != "" {
		externalID := r.ExternalID
		params.ExternalID = &externalID
	}

	record, outcome, err := s.repo.Upsert(ctx, params)
	if err != nil {
		return Result{}, err
	}
	return Result{TenderID: record.ID, State: record.State, Outcome: Outcome(outcome)}, nil
}

func (s *service) finish(ctx context.Context, tenantID uuid.UUID, result BatchResult) error {
	errs := result.Errors
	if errs == nil {
		errs = []RecordError{}
	}
	raw, err := json.Marshal(errs)
	if err != nil {
		return fmt.Errorf("encode run errors: %w", err)
	}

	// The run is closed even when the batch was cancelled.
	_, err = s.repo.FinishRun(context.WithoutCancel(ctx), persistence.FinishIngestionRunParams{
		TenantID:    tenantID,
		ID:          result.RunID,
		Status:      result.Status,
		Inserted:    result.Inserted,
		Updated:     result.Updated,
		Unchanged:   result.Unchanged,
		Failed:      result.Failed,
		Errors:      raw,
		CompletedAt: s.now(),
	})
	if err != nil {
		return fmt.Errorf("finish ingestion run: %w", translateError(err))
	}
	return nil
}

func batchSource(input BatchInput) string {
	if source := strings.TrimSpace(input.Source); source != "" {
		return source
	}
	for _, r := range input.Records {
		if source := strings.TrimSpace(r.Source); source != "" {
			return source
		}
	}
	return "unknown"
}

// invalidTextField names the first field Postgres TEXT would refuse or that carries control
// characters. Line breaks and tabs are allowed in the free-text description.
func invalidTextField(r SourceRecord) string {
	fields := []struct {
		name      string
		value     string
		multiline bool
	}{
		{"source", r.Source, false},
		{"externalId", r.ExternalID, false},
		{"hash", r.Hash, false},
		{"title", r.Title, false},
		{"buyer", r.Buyer, false},
		{"budgetCurrency", r.BudgetCurrency, false},
		{"budgetText", r.BudgetText, false},
		{"classificationCode", r.ClassificationCode, false},
		{"country", r.Country, false},
		{"sourceUrl", r.SourceURL, false},
		{"description", r.Description, true},
		{"location", r.Location, false},
	}
	for _, f := range fields {
		if !cleanText(f.value, f.multiline) {
			return f.name
		}
	}
	return ""
}

func cleanText(value string, multiline bool) bool {
	if !utf8.ValidString(value) {
		return false
	}
	for _, r := range value {
		if !unicode.IsControl(r) {
			continue
		}
		if multiline && (r == '\n' || r == '\r' || r == '\t') {
			continue
		}
		return false
	}
	return true
}

func translateError(err error) error {
	if errors.Is(err, persistence.ErrIngestionRunNotFound) {
		return ErrRunNotFound
	}
	return err
}
