package orchestrator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the orchestrator's Prometheus collectors. Each orchestrator
// owns its registry so several instances can coexist.
type Metrics struct {
	registry *prometheus.Registry

	alertsGenerated *prometheus.CounterVec
	alertsIgnored   *prometheus.CounterVec
	cycleDuration   prometheus.Histogram
	detectorRuns    *prometheus.CounterVec
	activeAlerts    prometheus.Gauge
}

// NewMetrics registers the collectors on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		alertsGenerated: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tradewatch_alerts_generated_total",
			Help: "Alerts admitted into the active store.",
		}, []string{"type", "severity"}),
		alertsIgnored: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tradewatch_alerts_ignored_total",
			Help: "Alerts dropped by the rate limiter or evicted at capacity.",
		}, []string{"reason"}),
		cycleDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "tradewatch_cycle_duration_seconds",
			Help:    "Duration of monitoring cycles.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
		detectorRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tradewatch_detector_runs_total",
			Help: "Detector runs by outcome.",
		}, []string{"detector", "status"}),
		activeAlerts: factory.NewGauge(prometheus.GaugeOpts{
			Name: "tradewatch_active_alerts",
			Help: "Alerts currently held in the active store.",
		}),
	}
}

// Registry exposes the registry for the /metrics handler.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
