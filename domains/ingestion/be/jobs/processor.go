// Package jobs consumes ingestion batches from the queue.
package jobs

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/zenGate-Global/tender-engine/domains/ingestion/be/service"
	"github.com/zenGate-Global/tender-engine/platform/go/broadcast"
	"github.com/zenGate-Global/tender-engine/platform/go/logging"
	"github.com/zenGate-Global/tender-engine/platform/go/queue"
	"github.com/zenGate-Global/tender-engine/platform/go/requesttrace"
	"github.com/zenGate-Global/tender-engine/platform/go/tenant"
)

// DefaultProgressEvery is how many records pass between two progress events.
const DefaultProgressEvery = 25

// Processor runs queued ingestion batches and reports their progress.
type Processor struct {
	svc           service.Service
	publisher     broadcast.Publisher
	envKey        string
	progressEvery int
	logger        *zap.Logger
}

// NewProcessor returns a queue.Handler for the ingestion queue.
func NewProcessor(svc service.Service, publisher broadcast.Publisher, envKey string, logger *zap.Logger) *Processor {
	if svc == nil {
		panic("ingestion service is required")
	}
	if publisher == nil {
		publisher = broadcast.Discard
	}
	if logger == nil {
		panic("logger is required")
	}
	return &Processor{svc: svc, publisher: publisher, envKey: envKey, progressEvery: DefaultProgressEvery, logger: logger}
}

// WithProgressEvery overrides the progress event interval.
func (p *Processor) WithProgressEvery(n int) *Processor {
	if n > 0 {
		p.progressEvery = n
	}
	return p
}

type progressData struct {
	RunID     string `json:"runId"`
	Processed int    `json:"processed"`
	Total     int    `json:"total"`
	Inserted  int    `json:"inserted"`
	Updated   int    `json:"updated"`
	Unchanged int    `json:"unchanged"`
	Failed    int    `json:"failed"`
	Status    string `json:"status,omitempty"`
}

func (p *Processor) Handle(ctx context.Context, job queue.Job) error {
	var payload service.JobPayload
	if err := job.Decode(&payload); err != nil {
		return err
	}

	logger := logging.FromContextOr(ctx, p.logger).With(zap.String("run_id", payload.RunID.String()))
	ctx = tenant.WithSpace(ctx, tenant.NewSpace(p.envKey, job.TenantID))

	trigger := payload.Trigger
	if trigger == "" {
		trigger = service.TriggerJob
	}

	result, err := p.svc.IngestBatch(ctx, requesttrace.System(job.ID), service.BatchInput{
		RunID:   payload.RunID,
		Source:  payload.Source,
		Trigger: trigger,
		Records: payload.Records,
		OnProgress: func(progress service.Progress) {
			if progress.Processed%p.progressEvery != 0 && progress.Processed != progress.Total {
				return
			}
			p.emit(ctx, logger, job, broadcast.EventIngestionProgress, progressData{
				RunID:     progress.RunID.String(),
				Processed: progress.Processed,
				Total:     progress.Total,
				Inserted:  progress.Inserted,
				Updated:   progress.Updated,
				Unchanged: progress.Unchanged,
				Failed:    progress.Failed,
			})
		},
	})
	if errors.Is(err, service.ErrEmptyBatch) || errors.Is(err, service.ErrForbidden) {
		return queue.Permanent(err)
	}

	if result.RunID != uuid.Nil {
		p.emit(context.WithoutCancel(ctx), logger, job, broadcast.EventIngestionDone, progressData{
			RunID:     result.RunID.String(),
			Processed: result.Inserted + result.Updated + result.Unchanged + result.Failed,
			Total:     result.Received,
			Inserted:  result.Inserted,
			Updated:   result.Updated,
			Unchanged: result.Unchanged,
			Failed:    result.Failed,
			Status:    result.Status,
		})
		logger.Info("ingestion batch finished",
			zap.String("status", result.Status),
			zap.Int("inserted", result.Inserted),
			zap.Int("updated", result.Updated),
			zap.Int("unchanged", result.Unchanged),
			zap.Int("failed", result.Failed))
	}
	return err
}

func (p *Processor) emit(ctx context.Context, logger *zap.Logger, job queue.Job, eventType string, data progressData) {
	evt, err := broadcast.NewEvent(eventType, job.TenantID, job.ID, data)
	if err != nil {
		logger.Warn("progress event not encoded", zap.Error(err))
		return
	}
	if err := broadcast.Emit(ctx, p.publisher, evt); err != nil {
		logger.Warn("progress event not published", zap.String("event", eventType), zap.Error(err))
	}
}
