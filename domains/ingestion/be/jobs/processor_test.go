package jobs

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/zenGate-Global/tender-engine/domains/ingestion/be/repo"
	"github.com/zenGate-Global/tender-engine/domains/ingestion/be/service"
	"github.com/zenGate-Global/tender-engine/platform/go/broadcast"
	"github.com/zenGate-Global/tender-engine/platform/go/queue"
	"github.com/zenGate-Global/tender-engine/platform/go/requesttrace"
	"github.com/zenGate-Global/tender-engine/platform/go/tenant"
)

func TestProcessorIngestsQueuedBatchAndReportsProgress(t *testing.T) {
	t.Parallel()

	tenantID := uuid.New()
	memory := repo.NewMemoryRepository()
	q := queue.NewMemoryQueue()
	svc := service.New(memory, q)
	hub := broadcast.NewHub(64)

	ctx := tenant.WithSpace(context.Background(), tenant.Space{TenantID: tenantID})
	records := make([]service.SourceRecord, 5)
	for i := range records {
		records[i] = service.SourceRecord{ExternalID: uuid.NewString(), Title: "Lot"}
	}
	enqueued, err := svc.EnqueueBatch(ctx, requesttrace.System("t"), service.BatchInput{Source: "ted", Records: records})
	require.NoError(t, err)

	job, ok, err := q.Dequeue(context.Background(), queue.IngestionQueue, time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	events, cancel := hub.Subscribe(broadcast.JobChannel(job.ID))
	defer cancel()
	tenantEvents, cancelTenant := hub.Subscribe(broadcast.TenantChannel(tenantID))
	defer cancelTenant()

	processor := NewProcessor(svc, hub, "test", zaptest.NewLogger(t)).WithProgressEvery(2)
	require.NoError(t, processor.Handle(context.Background(), job))

	var received []broadcast.Event
	for len(received) < 4 {
		select {
		case evt := <-events:
			received = append(received, evt)
		case <-time.After(time.Second):
			t.Fatalf("expected 4 events, got %d", len(received))
		}
	}
	// progress after records 2, 4 and 5, then completion
	require.Equal(t, broadcast.EventIngestionProgress, received[0].Type)
	require.Equal(t, broadcast.EventIngestionDone, received[3].Type)

	var done progressData
	require.NoError(t, json.Unmarshal(received[3].Data, &done))
	require.Equal(t, enqueued.RunID.String(), done.RunID)
	require.Equal(t, 5, done.Inserted)
	require.Equal(t, service.RunCompleted, done.Status)

	select {
	case evt := <-tenantEvents:
		require.Equal(t, tenantID, evt.TenantID)
	case <-time.After(time.Second):
		t.Fatal("tenant channel received nothing")
	}

	require.Len(t, memory.Tenders(tenantID), 5)
	run, err := svc.GetRun(ctx, requesttrace.System("t"), enqueued.RunID)
	require.NoError(t, err)
	require.Equal(t, service.RunCompleted, run.Status)
}

func TestProcessorRejectsBrokenPayloadPermanently(t *testing.T) {
	t.Parallel()

	processor := NewProcessor(service.New(repo.NewMemoryRepository(), nil), nil, "test", zaptest.NewLogger(t))
	err := processor.Handle(context.Background(), queue.Job{ID: "j1", Queue: queue.IngestionQueue, TenantID: uuid.New(), Payload: json.RawMessage(`{"records":`)})
	require.Error(t, err)
	require.True(t, queue.IsPermanent(err))

	job, err := queue.NewJob(queue.IngestionQueue, uuid.New(), "", service.JobPayload{RunID: uuid.New()})
	require.NoError(t, err)
	err = processor.Handle(context.Background(), job)
	require.True(t, queue.IsPermanent(err))
}
