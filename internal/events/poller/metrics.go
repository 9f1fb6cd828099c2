package poller

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ticks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "permwatch_poller_ticks_total",
		Help: "Poller ticks, by outcome",
	}, []string{"outcome"})

	tickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "permwatch_poller_tick_duration_seconds",
		Help:    "Poller tick duration",
		Buckets: prometheus.DefBuckets,
	})

	watermarkGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "permwatch_poller_watermark_block",
		Help: "Highest block fully processed by the poller",
	})

	fetchFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "permwatch_poller_fetch_failures_total",
		Help: "Failed log fetches, by event",
	}, []string{"event"})

	logsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "permwatch_poller_logs_total",
		Help: "Fetched logs, by outcome",
	}, []string{"outcome"})

	stageFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "permwatch_poller_stage_failures_total",
		Help: "Per-event pipeline stage failures",
	}, []string{"stage"})
)
