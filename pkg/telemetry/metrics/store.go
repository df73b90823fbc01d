package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"mercator-hq/sieve/pkg/config"
)

// StoreMetrics tracks the module registry and the verdict ledger.
//
// Metrics:
//   - sieve_registry_reloads_total{source,status}
//   - sieve_registry_modules
//   - sieve_ledger_writes_total{status}
//   - sieve_ledger_dropped_total
//   - sieve_ledger_pruned_total
type StoreMetrics struct {
	reloadsTotal  *prometheus.CounterVec
	modules       prometheus.Gauge
	ledgerWrites  *prometheus.CounterVec
	ledgerDropped prometheus.Counter
	ledgerPruned  prometheus.Counter
}

// NewStoreMetrics creates and registers registry and ledger metrics.
func NewStoreMetrics(cfg *config.MetricsConfig, registry *prometheus.Registry) *StoreMetrics {
	sm := &StoreMetrics{
		reloadsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: "registry",
				Name:      "reloads_total",
				Help:      "Module registry reloads by source and status",
			},
			[]string{"source", "status"},
		),
		modules: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: cfg.Namespace,
				Subsystem: "registry",
				Name:      "modules",
				Help:      "Number of modules currently loaded",
			},
		),
		ledgerWrites: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: "ledger",
				Name:      "writes_total",
				Help:      "Ledger entry writes by status",
			},
			[]string{"status"},
		),
		ledgerDropped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: "ledger",
				Name:      "dropped_total",
				Help:      "Ledger entries dropped because the recorder buffer was full",
			},
		),
		ledgerPruned: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: "ledger",
				Name:      "pruned_total",
				Help:      "Ledger entries removed by retention",
			},
		),
	}

	registry.MustRegister(sm.reloadsTotal, sm.modules, sm.ledgerWrites, sm.ledgerDropped, sm.ledgerPruned)
	return sm
}

// RecordReload records a registry reload. The module gauge is only updated
// on success, since a failed reload keeps the previous set.
func (sm *StoreMetrics) RecordReload(source string, modules int, err error) {
	if err != nil {
		sm.reloadsTotal.WithLabelValues(source, "error").Inc()
		return
	}
	sm.reloadsTotal.WithLabelValues(source, "ok").Inc()
	sm.modules.Set(float64(modules))
}

// RecordLedgerWrite records a ledger write outcome.
func (sm *StoreMetrics) RecordLedgerWrite(err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	sm.ledgerWrites.WithLabelValues(status).Inc()
}
