package audit

import (
	"context"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"permwatch/pkg/attrs"
	"permwatch/pkg/requestcontext"
)

var emitted = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "permwatch_audit_events_total",
	Help: "Audit log lines emitted, by event",
}, []string{"event"})

// Log writes an audit line enriched with the correlation id and, when the
// caller did not pass one, the user carried by ctx.
func Log(ctx context.Context, logger *slog.Logger, event Event, attrList ...any) {
	if requestID := requestcontext.RequestID(ctx); requestID != "" {
		attrList = append(attrList, "request_id", requestID)
	}
	if _, ok := attrs.Lookup(attrList, "user"); !ok {
		if user := requestcontext.User(ctx); user != "" {
			attrList = append(attrList, "user", user)
		}
	}
	args := append(attrList, "event", string(event), "log_type", "audit")

	emitted.WithLabelValues(string(event)).Inc()
	if logger != nil {
		logger.InfoContext(ctx, string(event), args...)
	}
}
