// Package queue carries background jobs between the API and the worker pools.
//
// A job is queued until a worker dequeues it, running until it is acked, retried or
// dead-lettered. Jobs that share a dedupe key collapse into one while queued or running.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Logical queue names.
const (
	ParseQueue     = "parse"
	IngestionQueue = "ingestion"
)

type Job struct {
	ID         string          `json:"id"`
	Queue      string          `json:"queue"`
	DedupeKey  string          `json:"dedupeKey,omitempty"`
	TenantID   uuid.UUID       `json:"tenantId"`
	Payload    json.RawMessage `json:"payload"`
	Attempt    int             `json:"attempt"`
	LastError  string          `json:"lastError,omitempty"`
	EnqueuedAt time.Time       `json:"enqueuedAt"`
}

// NewJob builds a job with a fresh id and the JSON encoding of payload.
func NewJob(queueName string, tenantID uuid.UUID, dedupeKey string, payload any) (Job, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Job{}, fmt.Errorf("encode %s job payload: %w", queueName, err)
	}
	return Job{
		ID:         uuid.NewString(),
		Queue:      queueName,
		DedupeKey:  dedupeKey,
		TenantID:   tenantID,
		Payload:    raw,
		EnqueuedAt: time.Now().UTC(),
	}, nil
}

// Decode unmarshals the job payload into v.
func (j Job) Decode(v any) error {
	if err := json.Unmarshal(j.Payload, v); err != nil {
		return Permanent(fmt.Errorf("decode %s job %s: %w", j.Queue, j.ID, err))
	}
	return nil
}

// EnqueueResult reports the job that now owns the dedupe key.
// Deduplicated is true when an existing queued or running job absorbed the request.
type EnqueueResult struct {
	JobID        string
	Deduplicated bool
}

// Queue is implemented by the Redis queue and the in-memory queue used in tests.
type Queue interface {
	Enqueue(ctx context.Context, job Job) (EnqueueResult, error)
	// Dequeue waits up to wait for a ready job. ok is false when none arrived.
	Dequeue(ctx context.Context, queueName string, wait time.Duration) (job Job, ok bool, err error)
	// Ack removes a finished job and releases its dedupe key.
	Ack(ctx context.Context, job Job) error
	// Retry parks the job until delay elapses. The dedupe key stays held.
	Retry(ctx context.Context, job Job, delay time.Duration) error
	// DeadLetter moves the job to the dead list and releases its dedupe key.
	DeadLetter(ctx context.Context, job Job) error
	// PromoteDue moves delayed jobs whose time has come back to the ready list.
	PromoteDue(ctx context.Context, queueName string, now time.Time) (int, error)
}
