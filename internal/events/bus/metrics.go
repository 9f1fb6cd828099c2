package bus

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	publishedEvents = promauto.NewCounter(prometheus.CounterOpts{
		Name: "permwatch_bus_published_total",
		Help: "Events forwarded to the external bus",
	})
	publishFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "permwatch_bus_publish_failures_total",
		Help: "Events the external bus rejected",
	})
	droppedEvents = promauto.NewCounter(prometheus.CounterOpts{
		Name: "permwatch_bus_dropped_total",
		Help: "Events dropped because the fan-out buffer was full",
	})
	bufferedEvents = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "permwatch_bus_buffered",
		Help: "Events waiting in the fan-out buffer",
	})
)
