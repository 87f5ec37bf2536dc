// Package broadcast fans progress events out to live subscribers. Delivery is best-effort:
// events published while nobody listens, or to a subscriber that is not keeping up, are dropped.
package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
)

// Event types.
const (
	EventParseQueued       = "parse.queued"
	EventParseStarted      = "parse.started"
	EventParseRetrying     = "parse.retrying"
	EventParseSucceeded    = "parse.succeeded"
	EventParseFailed       = "parse.failed"
	EventIngestionProgress = "ingestion.progress"
	EventIngestionDone     = "ingestion.completed"
)

type Event struct {
	Type     string          `json:"type"`
	JobID    string          `json:"jobId,omitempty"`
	TenantID uuid.UUID       `json:"tenantId"`
	Data     json.RawMessage `json:"data,omitempty"`
	At       time.Time       `json:"at"`
}

// NewEvent encodes data and stamps the event with the current time.
func NewEvent(eventType string, tenantID uuid.UUID, jobID string, data any) (Event, error) {
	evt := Event{Type: eventType, JobID: jobID, TenantID: tenantID, At: time.Now().UTC()}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return Event{}, fmt.Errorf("encode %s event: %w", eventType, err)
		}
		evt.Data = raw
	}
	return evt, nil
}

func JobChannel(jobID string) string {
	return "job:" + jobID
}

func TenantChannel(tenantID uuid.UUID) string {
	return "tenant:" + tenantID.String()
}

type Publisher interface {
	Publish(ctx context.Context, channel string, evt Event) error
}

type Subscriber interface {
	// Subscribe returns the event stream and a cancel func that closes it.
	Subscribe(channel string) (<-chan Event, func())
}

type Broadcaster interface {
	Publisher
	Subscriber
}

// Emit publishes evt on the tenant channel and, when it belongs to a job, on the job channel.
func Emit(ctx context.Context, p Publisher, evt Event) error {
	var err error
	if evt.JobID != "" {
		err = multierr.Append(err, p.Publish(ctx, JobChannel(evt.JobID), evt))
	}
	return multierr.Append(err, p.Publish(ctx, TenantChannel(evt.TenantID), evt))
}

// Discard drops every event.
var Discard Publisher = discard{}

type discard struct{}

func (discard) Publish(context.Context, string, Event) error { return nil }
