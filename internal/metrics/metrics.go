// Package metrics exposes Prometheus instrumentation for the optimization
// service.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/copyleftdev/AMOEBA/internal/optimization"
)

// Metrics holds the service's Prometheus collectors.
type Metrics struct {
	// RunsTotal counts finished optimization runs by objective and
	// terminal status.
	RunsTotal *prometheus.CounterVec

	// EvaluationsTotal counts objective function evaluations across all
	// runs.
	EvaluationsTotal prometheus.Counter

	// Iterations observes iterations per run.
	Iterations prometheus.Histogram

	// RunDuration observes wall-clock run duration in seconds.
	RunDuration prometheus.Histogram
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		RunsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "amoeba",
			Name:      "runs_total",
			Help:      "Optimization runs finished, by objective and status.",
		}, []string{"objective", "status"}),
		EvaluationsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "amoeba",
			Name:      "objective_evaluations_total",
			Help:      "Objective function evaluations performed.",
		}),
		Iterations: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "amoeba",
			Name:      "run_iterations",
			Help:      "Iterations per optimization run.",
			Buckets:   prometheus.ExponentialBuckets(10, 4, 8),
		}),
		RunDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "amoeba",
			Name:      "run_duration_seconds",
			Help:      "Wall-clock duration of optimization runs.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}

// ObserveRun records one finished run.
func (m *Metrics) ObserveRun(objective, status string, result *optimization.Result, elapsed time.Duration) {
	m.RunsTotal.WithLabelValues(objective, status).Inc()
	if result != nil {
		m.EvaluationsTotal.Add(float64(result.Evaluations))
		m.Iterations.Observe(float64(result.Iterations))
	}
	m.RunDuration.Observe(elapsed.Seconds())
}
