package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"mercator-hq/sieve/pkg/config"
	"mercator-hq/sieve/pkg/pipeline"
)

// PipelineMetrics tracks combined verdicts.
//
// Metrics:
//   - sieve_pipeline_records_total{result}
//   - sieve_pipeline_diagnostics_total{kind}
//   - sieve_pipeline_predicates_invoked (histogram of invocations per record)
type PipelineMetrics struct {
	recordsTotal      *prometheus.CounterVec
	diagnosticsTotal  *prometheus.CounterVec
	predicatesInvoked prometheus.Histogram
}

// NewPipelineMetrics creates and registers pipeline metrics.
func NewPipelineMetrics(cfg *config.MetricsConfig, registry *prometheus.Registry) *PipelineMetrics {
	pm := &PipelineMetrics{
		recordsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: "pipeline",
				Name:      "records_total",
				Help:      "Records evaluated by the pipeline, by combined result",
			},
			[]string{"result"},
		),

		diagnosticsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: "pipeline",
				Name:      "diagnostics_total",
				Help:      "Diagnostics attached to pipeline results, by kind",
			},
			[]string{"kind"},
		),

		// Short-circuiting keeps this well below the predicate count.
		predicatesInvoked: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Subsystem: "pipeline",
				Name:      "predicates_invoked",
				Help:      "Number of predicates invoked per record",
				Buckets:   []float64{0, 1, 2, 4, 8, 16, 32},
			},
		),
	}

	registry.MustRegister(pm.recordsTotal, pm.diagnosticsTotal, pm.predicatesInvoked)
	return pm
}

// RecordResult records one combined result.
func (pm *PipelineMetrics) RecordResult(res pipeline.Result) {
	result := "rejected"
	if res.Match {
		result = "accepted"
	}
	pm.recordsTotal.WithLabelValues(result).Inc()
	for _, d := range res.Diagnostics {
		pm.diagnosticsTotal.WithLabelValues(string(d.Kind)).Inc()
	}
	pm.predicatesInvoked.Observe(float64(len(res.Evaluations)))
}
