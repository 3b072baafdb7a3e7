// Package metrics exposes the coordinator's Prometheus instrumentation.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	HubIterations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "spinwheel_hub_iterations_total",
		Help: "Primal iterations completed by the hub.",
	})
	PublishedVersions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "spinwheel_published_versions_total",
		Help: "State versions published by the hub.",
	})
	ReportsReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "spinwheel_reports_received_total",
		Help: "Spoke reports drained by the hub.",
	}, []string{"spoke"})
	BestBound = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "spinwheel_best_outer_bound",
		Help: "Best usable outer bound reported so far.",
	})
	SpokeSolves = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "spinwheel_spoke_solves_total",
		Help: "Subproblem solve passes performed by each spoke.",
	}, []string{"spoke"})
	SpokeReportsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "spinwheel_spoke_reports_sent_total",
		Help: "Reports sent by each spoke.",
	}, []string{"spoke"})
)

// Handler serves the default registry, for mounting on a metrics address.
func Handler() http.Handler {
	return promhttp.Handler()
}
