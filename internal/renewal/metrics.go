package renewal

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	processed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "permwatch_renewals_processed_total",
		Help: "Due scheduled renewals processed, by kind and outcome",
	}, []string{"kind", "outcome"})

	tickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "permwatch_renewal_tick_duration_seconds",
		Help:    "Renewal scheduler tick duration",
		Buckets: prometheus.DefBuckets,
	})
)
