package lifecycle

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	sessionsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "permwatch_sessions_created_total",
		Help: "Sessions created",
	})
	sessionsRevoked = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "permwatch_sessions_revoked_total",
		Help: "Sessions revoked, by reason",
	}, []string{"reason"})
)
