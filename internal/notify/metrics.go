package notify

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	deliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "permwatch_notifications_total",
		Help: "Notification delivery attempts, by channel and outcome",
	}, []string{"channel", "outcome"})

	fallbackDeliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "permwatch_notification_fallbacks_total",
		Help: "Deliveries completed on a fallback channel",
	}, []string{"from", "to"})

	deduplicated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "permwatch_notifications_deduplicated_total",
		Help: "Sends suppressed by an existing dedup marker",
	})

	breakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "permwatch_notification_circuit_open",
		Help: "Provider circuit breaker state (0=closed, 1=open)",
	}, []string{"channel"})
)

func observeDelivery(ch Channel, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	deliveries.WithLabelValues(string(ch), outcome).Inc()
}
