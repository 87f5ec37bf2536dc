// Package handler streams progress events to browsers as Server-Sent Events.
package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/zenGate-Global/tender-engine/platform/go/broadcast"
	platformlogging "github.com/zenGate-Global/tender-engine/platform/go/logging"
	"github.com/zenGate-Global/tender-engine/platform/go/problem"
	"github.com/zenGate-Global/tender-engine/platform/go/tenant"
)

const (
	DefaultHeartbeat = 15 * time.Second
	maxJobIDLength   = 128
)

// Handler subscribes to the broadcaster and relays events for the caller's tenant.
type Handler struct {
	subscriber broadcast.Subscriber
	logger     *zap.Logger
	heartbeat  time.Duration
}

func New(subscriber broadcast.Subscriber, logger *zap.Logger) *Handler {
	if subscriber == nil {
		panic("progress subscriber is required")
	}
	if logger == nil {
		panic("logger is required")
	}
	return &Handler{subscriber: subscriber, logger: logger, heartbeat: DefaultHeartbeat}
}

// WithHeartbeat overrides the keep-alive comment interval.
func (h *Handler) WithHeartbeat(d time.Duration) *Handler {
	if d > 0 {
		h.heartbeat = d
	}
	return h
}

func (h *Handler) Routes(r chi.Router) {
	r.Get("/progress/jobs/{jobId}", h.StreamJob)
	r.Get("/progress/tenant", h.StreamTenant)
}

func (h *Handler) StreamJob(w http.ResponseWriter, r *http.Request) {
	jobID := strings.TrimSpace(chi.URLParam(r, "jobId"))
	if jobID == "" || len(jobID) > maxJobIDLength {
		problem.BadRequest(w, "jobId is invalid")
		return
	}
	space, ok := h.requireTenant(w, r)
	if !ok {
		return
	}
	h.stream(w, r, broadcast.JobChannel(jobID), space.TenantID)
}

func (h *Handler) StreamTenant(w http.ResponseWriter, r *http.Request) {
	space, ok := h.requireTenant(w, r)
	if !ok {
		return
	}
	h.stream(w, r, broadcast.TenantChannel(space.TenantID), space.TenantID)
}

func (h *Handler) requireTenant(w http.ResponseWriter, r *http.Request) (tenant.Space, bool) {
	space, err := tenant.Require(r.Context())
	if err != nil {
		problem.Write(w, problem.Details{Type: problem.TypeUnauthorized, Title: "Unauthorized",
			Status: http.StatusUnauthorized, Detail: "tenant required"})
		return tenant.Space{}, false
	}
	return space, true
}

func (h *Handler) stream(w http.ResponseWriter, r *http.Request, channel string, tenantID uuid.UUID) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		problem.Write(w, problem.Details{Type: problem.TypeInternal, Title: "Streaming unsupported",
			Status: http.StatusInternalServerError, Detail: "response writer cannot flush"})
		return
	}

	// Streams outlive the server write timeout.
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	events, cancel := h.subscriber.Subscribe(channel)
	defer cancel()

	logger := h.loggerFrom(r.Context()).With(zap.String("channel", channel))
	logger.Debug("progress stream opened")

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			logger.Debug("progress stream closed by client")
			return
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case evt, open := <-events:
			if !open {
				return
			}
			// Job channels are global; never leak another tenant's events.
			if evt.TenantID != tenantID {
				continue
			}
			if err := writeEvent(w, evt); err != nil {
				logger.Warn("progress stream write failed", zap.Error(err))
				return
			}
			flusher.Flush()
		}
	}
}

func writeEvent(w http.ResponseWriter, evt broadcast.Event) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.Type, payload)
	return err
}

func (h *Handler) loggerFrom(ctx context.Context) *zap.Logger {
	if logger, ok := platformlogging.FromContext(ctx); ok {
		return logger
	}
	return h.logger
}
