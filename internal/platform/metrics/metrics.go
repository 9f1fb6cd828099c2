// Package metrics exposes the process-wide Prometheus registry. Collectors
// are registered by each module's metrics.go through promauto.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var buildInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Name: "permwatch_build_info",
	Help: "Constant 1, labelled with the running version",
}, []string{"version"})

// Handler serves the default registry in the exposition format.
func Handler() http.Handler {
	return promhttp.Handler()
}

// SetVersion publishes the running version as a build info series.
func SetVersion(version string) {
	buildInfo.WithLabelValues(version).Set(1)
}
