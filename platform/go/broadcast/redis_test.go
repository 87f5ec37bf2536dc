package broadcast_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/zenGate-Global/tender-engine/platform/go/broadcast"
	"github.com/zenGate-Global/tender-engine/platform/go/redistest"
)

func TestRedisRelay(t *testing.T) {
	client := redistest.NewClient(t)
	hub := broadcast.NewHub(8)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ready := make(chan struct{})
	done := make(chan error, 1)
	go func() { done <- broadcast.Relay(ctx, client, hub, zaptest.NewLogger(t), ready) }()

	select {
	case <-ready:
	case <-time.After(10 * time.Second):
		t.Fatal("relay did not subscribe")
	}

	tenantID := uuid.New()
	events, unsubscribe := hub.Subscribe(broadcast.JobChannel("job-1"))
	defer unsubscribe()

	evt, err := broadcast.NewEvent(broadcast.EventParseStarted, tenantID, "job-1", nil)
	require.NoError(t, err)
	require.NoError(t, broadcast.Emit(ctx, broadcast.NewRedisPublisher(client), evt))

	select {
	case got := <-events:
		require.Equal(t, broadcast.EventParseStarted, got.Type)
		require.Equal(t, tenantID, got.TenantID)
	case <-time.After(10 * time.Second):
		t.Fatal("event not relayed")
	}

	cancel()
	require.NoError(t, <-done)
}
