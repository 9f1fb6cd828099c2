// Package httpserver serves the operational endpoints: liveness against the
// store, Prometheus metrics and the event stats snapshot.
package httpserver

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"permwatch/internal/events/models"
	"permwatch/internal/notify"
	"permwatch/pkg/platform/middleware/requesttime"
	"permwatch/pkg/requestcontext"
)

// New builds an HTTP server with sane defaults for this project.
func New(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

type HealthChecker interface {
	Ping(ctx context.Context) error
}

type StatsSource interface {
	Stats() models.Stats
}

// DeliveryErrors lists recent notification failures.
type DeliveryErrors interface {
	RecentErrors(ctx context.Context, limit int) []notify.DeliveryError
}

// Deps are the collaborators behind the ops routes. Errors is optional.
type Deps struct {
	Health  HealthChecker
	Stats   StatsSource
	Errors  DeliveryErrors
	Metrics http.Handler
	Logger  *slog.Logger
}

type handler struct {
	deps   Deps
	logger *slog.Logger
}

// NewRouter mounts /healthz, /metrics, /stats and, when an error source is
// given, /notifications/errors.
func NewRouter(deps Deps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	h := &handler{deps: deps, logger: logger}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(requestIDContext)
	r.Use(requesttime.Middleware)
	r.Use(chimw.Recoverer)

	r.Get("/healthz", h.handleHealth)
	r.Get("/stats", h.handleStats)
	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics)
	}
	if deps.Errors != nil {
		r.Get("/notifications/errors", h.handleDeliveryErrors)
	}
	return r
}

// requestIDContext copies chi's request id into requestcontext so service
// logs and audit lines carry it.
func requestIDContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := requestcontext.WithRequestID(r.Context(), chimw.GetReqID(r.Context()))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (h *handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if h.deps.Health == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}
	if err := h.deps.Health.Ping(ctx); err != nil {
		h.logger.WarnContext(ctx, "health check failed", "request_id", requestcontext.RequestID(ctx), "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "store": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handler) handleStats(w http.ResponseWriter, _ *http.Request) {
	if h.deps.Stats == nil {
		writeJSON(w, http.StatusOK, models.NewStats())
		return
	}
	writeJSON(w, http.StatusOK, h.deps.Stats.Stats())
}

func (h *handler) handleDeliveryErrors(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}
	writeJSON(w, http.StatusOK, h.deps.Errors.RecentErrors(r.Context(), limit))
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
