// Package metrics collects Prometheus metrics for Sieve.
//
// A single Collector owns a registry and every metric family. It plugs into
// the rest of the system through interfaces rather than being called
// directly:
//
//   - predicate.Observer: load attempts and per-invocation outcomes
//   - pipeline.Reporter: combined verdicts and diagnostics
//
// The registry and ledger call RecordRegistryReload and RecordLedger*.
//
// Predicate names are used as label values, capped by a CardinalityLimiter;
// names past the cap are reported as "other".
//
// Usage:
//
//	collector := metrics.NewCollector(&cfg.Telemetry.Metrics, nil)
//	host := predicate.NewHost(predicate.WithObserver(collector))
//	http.Handle("/metrics", collector.Handler())
package metrics
