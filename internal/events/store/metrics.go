package store

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	storedEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "permwatch_events_stored_total",
		Help: "Domain events persisted for the first time",
	}, []string{"category", "severity"})

	duplicateEvents = promauto.NewCounter(prometheus.CounterOpts{
		Name: "permwatch_events_duplicate_total",
		Help: "Put calls that found the event already stored",
	})

	statsRefreshes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "permwatch_event_stats_refreshes_total",
		Help: "Stats snapshot rebuilds from the store",
	})
)
