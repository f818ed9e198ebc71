package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"genepool/internal/metrics"
	"genepool/internal/model"
	"genepool/internal/pool"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestRouterServesStatus(t *testing.T) {
	want := pool.Status{Queue: "genepool", State: "awaiting_generation", Pending: 12, Evaluated: 3}
	r := NewRouter(func(context.Context) (pool.Status, error) { return want, nil }, metrics.New())

	rec := get(t, r, "/status")
	require.Equal(t, http.StatusOK, rec.Code)
	var got pool.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, want, got)

	assert.Equal(t, http.StatusOK, get(t, r, "/health").Code)
	assert.Equal(t, http.StatusOK, get(t, r, "/ready").Code)
}

func TestRouterReportsBrokerOutage(t *testing.T) {
	failing := func(context.Context) (pool.Status, error) {
		return pool.Status{}, fmt.Errorf("%w: connection refused", model.ErrTransport)
	}
	r := NewRouter(failing, nil)

	rec := get(t, r, "/status")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "TransportError")
	assert.Equal(t, http.StatusServiceUnavailable, get(t, r, "/ready").Code)
	assert.Equal(t, http.StatusNotFound, get(t, r, "/metrics").Code)
}

func TestRouterExposesMetrics(t *testing.T) {
	collector := metrics.New()
	collector.GenerationsBred.Inc()
	r := NewRouter(func(context.Context) (pool.Status, error) { return pool.Status{}, nil }, collector)

	rec := get(t, r, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "genepool_generations_bred_total 1")
}

func TestServeStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- Serve(ctx, "127.0.0.1:0", http.NotFoundHandler(), discardLogger())
	}()
	cancel()
	require.NoError(t, <-done)
}
