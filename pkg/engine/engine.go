package engine

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"slices"
	"sync"

	"github.com/google/uuid"

	"mercator-hq/sieve/pkg/config"
	"mercator-hq/sieve/pkg/ledger"
	"mercator-hq/sieve/pkg/ledger/recorder"
	"mercator-hq/sieve/pkg/ledger/retention"
	"mercator-hq/sieve/pkg/ledger/storage"
	"mercator-hq/sieve/pkg/pipeline"
	"mercator-hq/sieve/pkg/predicate"
	"mercator-hq/sieve/pkg/predicate/expr"
	"mercator-hq/sieve/pkg/predicate/wasm"
	"mercator-hq/sieve/pkg/record"
	"mercator-hq/sieve/pkg/registry"
	"mercator-hq/sieve/pkg/secrets"
	"mercator-hq/sieve/pkg/telemetry"
	"mercator-hq/sieve/pkg/telemetry/logging"
	"mercator-hq/sieve/pkg/telemetry/metrics"
	"mercator-hq/sieve/pkg/telemetry/tracing"
)

// ErrClosed is returned by operations on a closed Engine.
var ErrClosed = errors.New("engine closed")

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithMetrics sets the metrics collector. Default: a collector on a private
// Prometheus registry.
func WithMetrics(m *metrics.Collector) Option {
	return func(e *Engine) {
		if m != nil {
			e.metrics = m
		}
	}
}

// WithTracer sets the tracer. Default: no-op.
func WithTracer(t *tracing.Tracer) Option {
	return func(e *Engine) {
		if t != nil {
			e.tracer = t
		}
	}
}

// WithTelemetry sets logger, metrics and tracer from t.
func WithTelemetry(t *telemetry.Telemetry) Option {
	return func(e *Engine) {
		if t == nil {
			return
		}
		e.logger = t.Logger()
		e.metrics = t.Metrics()
		e.tracer = t.Tracer()
	}
}

// WithoutLedger disables the ledger regardless of configuration. Read-only
// commands use it to avoid opening the database twice.
func WithoutLedger() Option {
	return func(e *Engine) { e.noLedger = true }
}

// Engine is a configured Sieve instance. It is safe for concurrent use.
type Engine struct {
	config   *config.Config
	logger   *slog.Logger
	metrics  *metrics.Collector
	tracer   *tracing.Tracer
	noLedger bool

	loader   *predicate.Loader
	host     *predicate.Host
	registry *registry.Registry
	pipeline *pipeline.Pipeline
	limits   predicate.Limits
	combine  pipeline.Combine

	store     ledger.Storage
	recorder  *recorder.Recorder
	pruner    *retention.Pruner
	scheduler *retention.Scheduler

	mu      sync.Mutex
	handles []*predicate.Handle
	closed  bool
}

// New builds an Engine from cfg. cfg must already be validated.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*Engine, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	e := &Engine{
		config: cfg,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.metrics == nil {
		e.metrics = metrics.NewCollector(&cfg.Telemetry.Metrics, nil)
	}
	if e.tracer == nil {
		t, err := tracing.New(&config.TracingConfig{})
		if err != nil {
			return nil, err
		}
		e.tracer = t
	}
	e.logger = e.logger.With("component", "engine")

	combine, err := pipeline.ParseCombine(cfg.Pipeline.Combine)
	if err != nil {
		return nil, err
	}
	e.combine = combine
	e.limits = Limits(&cfg.Engine.Limits)

	if err := e.buildLoader(ctx); err != nil {
		return nil, err
	}

	e.host = predicate.NewHost(
		predicate.WithLogger(e.logger),
		predicate.WithObserver(e.metrics),
		predicate.WithTracer(e.tracer.Tracer()),
	)

	regOpts := []registry.Option{
		registry.WithLogger(e.logger),
		registry.WithObserver(e.metrics),
		registry.WithMaxModuleSize(cfg.Engine.MaxModuleSize),
	}
	withSecrets, err := secretResolver(cfg, e.logger)
	if err != nil {
		e.loader.Close(ctx)
		return nil, fmt.Errorf("registry: %w", err)
	}
	if withSecrets != nil {
		regOpts = append(regOpts, withSecrets)
	}
	e.registry, err = registry.New(&cfg.Registry, e.loader, regOpts...)
	if err != nil {
		e.loader.Close(ctx)
		return nil, fmt.Errorf("registry: %w", err)
	}

	if cfg.Ledger.Enabled && !e.noLedger {
		if err := e.openLedger(ctx); err != nil {
			e.loader.Close(ctx)
			return nil, fmt.Errorf("ledger: %w", err)
		}
	}

	reporters := []pipeline.Reporter{e.metrics}
	if e.recorder != nil {
		reporters = append(reporters, e.recorder)
	}
	e.pipeline = pipeline.New(e.host,
		pipeline.WithLimits(e.limits),
		pipeline.WithWorkers(cfg.Pipeline.Workers),
		pipeline.WithPrefilter(cfg.Pipeline.Prefilter),
		pipeline.WithReporter(pipeline.Reporters(reporters...)),
		pipeline.WithLogger(e.logger),
	)

	e.logger.Debug("engine ready",
		"formats", e.loader.Formats(),
		"combine", e.combine,
		"workers", cfg.Pipeline.Workers,
		"ledger", e.store != nil,
	)
	return e, nil
}

// Limits converts configured limits into per-invocation limits.
func Limits(cfg *config.LimitsConfig) predicate.Limits {
	return predicate.Limits{
		MaxInstructions: cfg.MaxInstructions,
		MaxMemoryBytes:  cfg.MaxMemoryBytes,
		MaxWallTime:     cfg.MaxWallTime,
	}
}

// secretResolver returns a resolver for git credential references, or nil
// when no git source is configured.
func secretResolver(cfg *config.Config, logger *slog.Logger) (registry.Option, error) {
	if !cfg.Registry.Git.Enabled {
		return nil, nil
	}
	resolver, err := secrets.FromConfig(&cfg.Secrets, logger)
	if err != nil {
		return nil, fmt.Errorf("secrets: %w", err)
	}
	return registry.WithSecrets(resolver), nil
}

func (e *Engine) buildLoader(ctx context.Context) error {
	ec := e.config.Engine

	wcfg := wasm.DefaultConfig()
	wcfg.EntryPoint = ec.EntryPoint
	wcfg.AllocExport = ec.AllocExport
	wcfg.MemoryExport = ec.MemoryExport
	wcfg.InitExports = ec.InitExports
	wcfg.MemoryLimitPages = ec.MemoryLimitPages
	wcfg.Metering = ec.Metering

	wb, err := wasm.NewBackend(ctx, wcfg, e.logger)
	if err != nil {
		return fmt.Errorf("wasm backend: %w", err)
	}
	backends := []predicate.Backend{wb}

	if ec.Expr.Enabled {
		xcfg := expr.DefaultConfig()
		xcfg.EntryPoint = ec.EntryPoint
		xcfg.InterruptCheckFrequency = ec.Expr.InterruptCheckFrequency
		xcfg.MaxExpressionLength = ec.Expr.MaxExpressionLength

		xb, err := expr.NewBackend(xcfg, e.logger)
		if err != nil {
			wb.Close(ctx)
			return fmt.Errorf("expr backend: %w", err)
		}
		backends = append(backends, xb)
	}

	e.loader = predicate.NewLoader(e.logger, backends...).WithObserver(e.metrics)
	return nil
}

func (e *Engine) openLedger(ctx context.Context) error {
	store, err := storage.Open(&e.config.Ledger, e.logger)
	if err != nil {
		return err
	}
	e.store = store
	e.recorder = recorder.New(store, &e.config.Ledger.Recorder,
		recorder.WithLogger(e.logger),
		recorder.WithMetrics(e.metrics),
	)
	e.pruner = retention.NewPruner(store, e.config.Ledger.Retention, e.metrics, e.logger)

	if e.config.Ledger.Retention.PruneSchedule != "" {
		s, err := e.pruner.Start(context.WithoutCancel(ctx))
		if err != nil {
			e.recorder.Close()
			store.Close()
			return err
		}
		e.scheduler = s
	}
	return nil
}

// Load compiles module bytes into a handle named name.
func (e *Engine) Load(ctx context.Context, name string, module []byte) (*predicate.Handle, error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}
	h, err := e.loader.Load(ctx, name, module)
	if err != nil {
		return nil, err
	}
	e.track(h)
	return h, nil
}

// LoadFile loads a module file. The handle is named after the file stem;
// .json files are unwrapped as noscript envelopes, and a filter script's
// prefilter is attached to the handle.
func (e *Engine) LoadFile(ctx context.Context, path string) (*predicate.Handle, error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}
	mf, err := registry.ReadModuleFile(path, e.config.Engine.MaxModuleSize)
	if err != nil {
		return nil, &registry.LoadError{Name: registry.NameOf(path), Path: path, Cause: err}
	}
	h, err := e.Load(ctx, mf.Name, mf.Module)
	if err != nil {
		return nil, err
	}
	h.SetPrefilter(mf.Prefilter())
	return h, nil
}

// LoadRegistry loads (or reloads) every module in the registry directory,
// cloning the git source first when one is configured.
func (e *Engine) LoadRegistry(ctx context.Context) error {
	if err := e.checkOpen(); err != nil {
		return err
	}
	return e.registry.LoadAll(ctx)
}

// Watch hot-reloads the registry until ctx is done.
func (e *Engine) Watch(ctx context.Context) error {
	if err := e.checkOpen(); err != nil {
		return err
	}
	return e.registry.Watch(ctx)
}

// Resolve turns each reference into a handle. A reference is a registry
// module name or a path to a module file; registry names win.
func (e *Engine) Resolve(ctx context.Context, refs []string) ([]*predicate.Handle, error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}

	out := make([]*predicate.Handle, 0, len(refs))
	for _, ref := range refs {
		if entry, ok := e.registry.Get(ref); ok {
			out = append(out, entry.Handle)
			continue
		}
		h, err := e.LoadFile(ctx, ref)
		if err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, nil
}

// Evaluate runs one predicate on one record under the configured limits.
func (e *Engine) Evaluate(ctx context.Context, h *predicate.Handle, rec record.Record) (predicate.Verdict, error) {
	return e.host.Evaluate(ctx, h, rec, e.limits)
}

// Apply filters records through predicates. Each run gets a fresh run ID,
// visible to loggers and the ledger through the context.
func (e *Engine) Apply(ctx context.Context, records iter.Seq[record.Record], predicates []*predicate.Handle, combine pipeline.Combine) iter.Seq2[record.Record, pipeline.Result] {
	return func(yield func(record.Record, pipeline.Result) bool) {
		runID := uuid.New().String()
		ctx := logging.WithRunID(ctx, runID)

		names := make([]string, len(predicates))
		for i, h := range predicates {
			names[i] = h.Name()
		}

		ctx, span := e.tracer.Start(ctx, "sieve.apply")
		span.SetAttributes(tracing.RunAttributes(runID, string(combine), names)...)
		defer span.End()

		e.logger.InfoContext(ctx, "run started", "predicates", names, "combine", combine)

		var seen, matched int
		for rec, res := range e.pipeline.Apply(ctx, records, predicates, combine) {
			seen++
			if res.Match {
				matched++
			}
			if !yield(rec, res) {
				break
			}
		}

		tracing.SetError(span, context.Cause(ctx))
		e.logger.InfoContext(ctx, "run finished", "records", seen, "matched", matched)
	}
}

// Combine returns the configured combine mode.
func (e *Engine) Combine() pipeline.Combine { return e.combine }

// Limits returns the configured per-invocation limits.
func (e *Engine) Limits() predicate.Limits { return e.limits }

// Registry returns the module registry.
func (e *Engine) Registry() *registry.Registry { return e.registry }

// Ledger returns the ledger storage, or nil when the ledger is disabled.
func (e *Engine) Ledger() ledger.Storage { return e.store }

// Pruner returns the ledger pruner, or nil when the ledger is disabled.
func (e *Engine) Pruner() *retention.Pruner { return e.pruner }

// Metrics returns the metrics collector.
func (e *Engine) Metrics() *metrics.Collector { return e.metrics }

// Close releases the registry, caller-owned handles, the ledger and the
// loader, in that order. Buffered ledger entries are flushed first.
func (e *Engine) Close(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	handles := slices.Clone(e.handles)
	e.handles = nil
	e.mu.Unlock()

	var errs []error
	if err := e.registry.Close(ctx); err != nil {
		errs = append(errs, err)
	}
	for _, h := range handles {
		if err := h.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if e.scheduler != nil {
		e.scheduler.Stop()
	}
	if e.recorder != nil {
		if err := e.recorder.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if e.store != nil {
		if err := e.store.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := e.loader.Close(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (e *Engine) checkOpen() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	return nil
}

func (e *Engine) track(h *predicate.Handle) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handles = append(e.handles, h)
}
