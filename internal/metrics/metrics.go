// Package metrics exposes pipeline counters and gauges through
// prometheus for the /metrics endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the registered collectors for the decision pipeline.
type Metrics struct {
	DecisionsTotal *prometheus.CounterVec
	StageDuration  *prometheus.HistogramVec
	StaleSources   *prometheus.GaugeVec
	VIXLevel       prometheus.Gauge
	FinalScore     prometheus.Histogram
	AlertsTotal    *prometheus.CounterVec
}

// New registers the pipeline collectors against the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		DecisionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mia",
			Subsystem: "pipeline",
			Name:      "decisions_total",
			Help:      "Trading decisions by action.",
		}, []string{"action"}),
		StageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "mia",
			Subsystem: "pipeline",
			Name:      "stage_duration_ms",
			Help:      "Pipeline stage duration in milliseconds.",
			Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 5000},
		}, []string{"stage"}),
		StaleSources: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "mia",
			Subsystem: "staleness",
			Name:      "sources",
			Help:      "Data sources by freshness severity.",
		}, []string{"severity"}),
		VIXLevel: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "mia",
			Subsystem: "vix",
			Name:      "level",
			Help:      "Last ingested VIX level.",
		}),
		FinalScore: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "mia",
			Subsystem: "scoring",
			Name:      "final_score",
			Help:      "Final score distribution.",
			Buckets:   prometheus.LinearBuckets(0, 0.1, 11),
		}),
		AlertsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mia",
			Subsystem: "alerts",
			Name:      "emitted_total",
			Help:      "Alerts emitted by severity.",
		}, []string{"severity"}),
	}

	reg.MustRegister(
		m.DecisionsTotal,
		m.StageDuration,
		m.StaleSources,
		m.VIXLevel,
		m.FinalScore,
		m.AlertsTotal,
	)
	return m
}
