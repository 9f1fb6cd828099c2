package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"permwatch/internal/events/models"
	"permwatch/internal/notify"
)

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

type fixedStats struct{ stats models.Stats }

func (f fixedStats) Stats() models.Stats { return f.stats }

type fixedErrors struct{ limit int }

func (f *fixedErrors) RecentErrors(_ context.Context, limit int) []notify.DeliveryError {
	f.limit = limit
	return []notify.DeliveryError{{User: "0xab", Channel: notify.ChannelEmail, Error: "relay down"}}
}

func serve(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHealthz(t *testing.T) {
	ok := NewRouter(Deps{Health: pinger{}})
	rec := serve(t, ok, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Content-Type"))

	down := NewRouter(Deps{Health: pinger{err: errors.New("connection refused")}})
	rec = serve(t, down, "/healthz")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "connection refused")
}

func TestStats(t *testing.T) {
	stats := models.NewStats()
	stats.TotalEvents = 7
	stats.LastUpdated = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

	rec := serve(t, NewRouter(Deps{Stats: fixedStats{stats: stats}}), "/stats")
	require.Equal(t, http.StatusOK, rec.Code)

	var got models.Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, int64(7), got.TotalEvents)
	assert.True(t, got.LastUpdated.Equal(stats.LastUpdated))
}

func TestMetricsMountedWhenGiven(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("permwatch_up 1\n"))
	})

	rec := serve(t, NewRouter(Deps{Metrics: metrics}), "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "permwatch_up 1\n", rec.Body.String())

	rec = serve(t, NewRouter(Deps{}), "/metrics")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeliveryErrors(t *testing.T) {
	src := &fixedErrors{}
	router := NewRouter(Deps{Errors: src})

	rec := serve(t, router, "/notifications/errors?limit=5")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 5, src.limit)
	assert.Contains(t, rec.Body.String(), "relay down")

	rec = serve(t, router, "/notifications/errors?limit=nope")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
