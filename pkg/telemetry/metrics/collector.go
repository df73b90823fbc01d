package metrics

import (
	"context"
	"errors"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"mercator-hq/sieve/pkg/config"
	"mercator-hq/sieve/pkg/pipeline"
	"mercator-hq/sieve/pkg/predicate"
	"mercator-hq/sieve/pkg/record"
)

// otherLabel replaces predicate names once the cardinality limit is hit.
const otherLabel = "other"

// Collector owns every Sieve metric. It implements predicate.Observer and
// pipeline.Reporter so the host and pipeline feed it directly, and exposes
// Record* methods for the registry and ledger.
//
// A disabled collector accepts every call and records nothing.
type Collector struct {
	config   *config.MetricsConfig
	registry *prometheus.Registry

	predicates *PredicateMetrics
	records    *PipelineMetrics
	stores     *StoreMetrics

	cardinalityLimiter *CardinalityLimiter
}

var (
	_ predicate.Observer = (*Collector)(nil)
	_ pipeline.Reporter  = (*Collector)(nil)
)

// NewCollector creates a collector registering into registry, or into a new
// registry when nil.
func NewCollector(cfg *config.MetricsConfig, registry *prometheus.Registry) *Collector {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	c := *cfg
	if c.Namespace == "" {
		c.Namespace = config.DefaultMetricsNamespace
	}
	if c.Path == "" {
		c.Path = config.DefaultMetricsPath
	}
	if len(c.DurationBuckets) == 0 {
		c.DurationBuckets = prometheus.ExponentialBuckets(0.00001, 4, 9)
	}

	return &Collector{
		config:             &c,
		registry:           registry,
		predicates:         NewPredicateMetrics(&c, registry),
		records:            NewPipelineMetrics(&c, registry),
		stores:             NewStoreMetrics(&c, registry),
		cardinalityLimiter: NewCardinalityLimiter(1000),
	}
}

// ObserveLoad records a module load attempt.
func (c *Collector) ObserveLoad(format predicate.Format, err error) {
	if !c.config.Enabled {
		return
	}
	c.predicates.RecordLoad(string(format), loadStatus(err))
}

// ObserveEvaluation records one predicate invocation.
func (c *Collector) ObserveEvaluation(o predicate.Observation) {
	if !c.config.Enabled {
		return
	}
	name := o.Predicate
	if !c.cardinalityLimiter.Allow(name) {
		name = otherLabel
	}
	c.predicates.RecordEvaluation(name, string(o.Format), string(o.Outcome), o.Duration)
	if o.Outcome == predicate.OutcomeResourceExceeded {
		c.predicates.RecordResourceExceeded(string(o.Resource))
	}
}

// Report records a combined pipeline result.
func (c *Collector) Report(_ context.Context, _ record.Record, res pipeline.Result) {
	if !c.config.Enabled {
		return
	}
	c.records.RecordResult(res)
}

// RecordRegistryReload records a registry reload from source ("file" or
// "git") and the number of modules it now holds.
func (c *Collector) RecordRegistryReload(source string, modules int, err error) {
	if !c.config.Enabled {
		return
	}
	c.stores.RecordReload(source, modules, err)
}

// RecordLedgerWrite records a ledger write outcome.
func (c *Collector) RecordLedgerWrite(err error) {
	if !c.config.Enabled {
		return
	}
	c.stores.RecordLedgerWrite(err)
}

// RecordLedgerDrop records an entry dropped because the recorder buffer
// was full.
func (c *Collector) RecordLedgerDrop() {
	if !c.config.Enabled {
		return
	}
	c.stores.ledgerDropped.Inc()
}

// RecordLedgerPruned records entries removed by retention.
func (c *Collector) RecordLedgerPruned(n int64) {
	if !c.config.Enabled || n <= 0 {
		return
	}
	c.stores.ledgerPruned.Add(float64(n))
}

// Registry returns the Prometheus registry used by this collector.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

func loadStatus(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, predicate.ErrMalformedModule):
		return "malformed"
	case errors.Is(err, predicate.ErrMissingEntryPoint):
		return "missing_entry_point"
	case errors.Is(err, predicate.ErrSignatureMismatch):
		return "signature_mismatch"
	default:
		return "error"
	}
}

// CardinalityLimiter caps the number of distinct label values a collector
// admits.
type CardinalityLimiter struct {
	maxCardinality int
	current        map[string]struct{}
	mu             sync.RWMutex
}

// NewCardinalityLimiter creates a limiter admitting up to maxCardinality
// distinct values.
func NewCardinalityLimiter(maxCardinality int) *CardinalityLimiter {
	return &CardinalityLimiter{
		maxCardinality: maxCardinality,
		current:        make(map[string]struct{}),
	}
}

// Allow reports whether value is already tracked or can still be added.
func (cl *CardinalityLimiter) Allow(value string) bool {
	cl.mu.RLock()
	_, exists := cl.current[value]
	cl.mu.RUnlock()
	if exists {
		return true
	}

	cl.mu.Lock()
	defer cl.mu.Unlock()
	if _, exists := cl.current[value]; exists {
		return true
	}
	if len(cl.current) >= cl.maxCardinality {
		return false
	}
	cl.current[value] = struct{}{}
	return true
}

// Count returns the number of tracked values.
func (cl *CardinalityLimiter) Count() int {
	cl.mu.RLock()
	defer cl.mu.RUnlock()
	return len(cl.current)
}
