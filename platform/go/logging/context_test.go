package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

func TestNewLoggerEmitsSeverityAndComponent(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(Config{Component: "worker", Level: "debug", Output: &buf})
	require.NoError(t, err)

	logger.Warn("queue backlog", zap.Int("depth", 3))
	require.NoError(t, logger.Sync())

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	require.Equal(t, "WARNING", entry["severity"])
	require.Equal(t, "worker", entry["component"])
	require.Equal(t, "queue backlog", entry["message"])
	require.EqualValues(t, 3, entry["depth"])
}

func TestNewLoggerRejectsUnknownLevel(t *testing.T) {
	_, err := NewLogger(Config{Level: "loud"})
	require.Error(t, err)
}

func TestRequestLoggerStoresLogger(t *testing.T) {
	base := zaptest.NewLogger(t)

	var seen bool
	h := RequestLogger(base)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, seen = FromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.True(t, seen)
	require.Equal(t, http.StatusNoContent, rec.Code)
}

func TestFromContextOrFallsBack(t *testing.T) {
	fallback := zap.NewNop()
	require.Same(t, fallback, FromContextOr(context.Background(), fallback))
}
