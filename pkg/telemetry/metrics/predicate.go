package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"mercator-hq/sieve/pkg/config"
)

// PredicateMetrics tracks module loading and predicate invocation.
//
// Metrics:
//   - sieve_predicate_loads_total{format,status}
//   - sieve_predicate_evaluations_total{predicate,outcome}
//   - sieve_predicate_evaluation_duration_seconds{format}
//   - sieve_predicate_resource_exceeded_total{resource}
type PredicateMetrics struct {
	loadsTotal         *prometheus.CounterVec
	evaluationsTotal   *prometheus.CounterVec
	evaluationDuration *prometheus.HistogramVec
	resourceExceeded   *prometheus.CounterVec
}

// NewPredicateMetrics creates and registers predicate metrics.
func NewPredicateMetrics(cfg *config.MetricsConfig, registry *prometheus.Registry) *PredicateMetrics {
	pm := &PredicateMetrics{
		loadsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: "predicate",
				Name:      "loads_total",
				Help:      "Total number of module load attempts",
			},
			[]string{"format", "status"},
		),

		evaluationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: "predicate",
				Name:      "evaluations_total",
				Help:      "Total number of predicate invocations by outcome",
			},
			[]string{"predicate", "outcome"},
		),

		evaluationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Subsystem: "predicate",
				Name:      "evaluation_duration_seconds",
				Help:      "Duration of a single predicate invocation in seconds",
				Buckets:   cfg.DurationBuckets,
			},
			[]string{"format"},
		),

		resourceExceeded: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: "predicate",
				Name:      "resource_exceeded_total",
				Help:      "Invocations aborted for breaching a limit, by resource",
			},
			[]string{"resource"},
		),
	}

	registry.MustRegister(
		pm.loadsTotal,
		pm.evaluationsTotal,
		pm.evaluationDuration,
		pm.resourceExceeded,
	)
	return pm
}

// RecordLoad records a module load attempt.
func (pm *PredicateMetrics) RecordLoad(format, status string) {
	pm.loadsTotal.WithLabelValues(format, status).Inc()
}

// RecordEvaluation records one invocation.
func (pm *PredicateMetrics) RecordEvaluation(name, format, outcome string, d time.Duration) {
	pm.evaluationsTotal.WithLabelValues(name, outcome).Inc()
	pm.evaluationDuration.WithLabelValues(format).Observe(d.Seconds())
}

// RecordResourceExceeded records a limit breach.
func (pm *PredicateMetrics) RecordResourceExceeded(resource string) {
	pm.resourceExceeded.WithLabelValues(resource).Inc()
}
