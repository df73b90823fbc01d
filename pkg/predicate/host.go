package predicate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"mercator-hq/sieve/pkg/filter"
	"mercator-hq/sieve/pkg/record"
)

const tracerName = "mercator-hq/sieve/pkg/predicate"

// Host evaluates records against loaded modules. A Host holds no per-call
// state and is safe for concurrent use.
type Host struct {
	logger   *slog.Logger
	observer Observer
	tracer   trace.Tracer
}

// HostOption configures a Host.
type HostOption func(*Host)

// WithLogger sets the host logger.
func WithLogger(logger *slog.Logger) HostOption {
	return func(h *Host) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithObserver sets the observer notified after every evaluation.
func WithObserver(o Observer) HostOption {
	return func(h *Host) {
		if o != nil {
			h.observer = o
		}
	}
}

// WithTracer overrides the tracer taken from the global provider.
func WithTracer(t trace.Tracer) HostOption {
	return func(h *Host) {
		if t != nil {
			h.tracer = t
		}
	}
}

// NewHost creates an evaluation host.
func NewHost(opts ...HostOption) *Host {
	h := &Host{
		logger:   slog.Default(),
		observer: nopObserver{},
		tracer:   otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.logger = h.logger.With("component", "predicate.host")
	return h
}

// Evaluate runs handle against r under limits.
//
// A module that returns a boolean yields that verdict. A module that returns
// anything else yields false with a coercion warning and a nil error. Traps
// and limit breaches yield false with a diagnostic and a non-nil *EvalError;
// they are never retried. Other failures (closed handle, cancelled context)
// also yield a false verdict with a non-nil error.
func (h *Host) Evaluate(ctx context.Context, handle *Handle, r record.Record, limits Limits) (Verdict, error) {
	if handle == nil {
		err := errors.New("nil predicate handle")
		return FailedVerdict("", err), err
	}
	if err := limits.Validate(); err != nil {
		return FailedVerdict(handle.Name(), err), err
	}

	ctx, span := h.tracer.Start(ctx, "predicate.evaluate",
		trace.WithAttributes(
			attribute.String("predicate.name", handle.Name()),
			attribute.String("predicate.format", string(handle.Format())),
			attribute.String("record.id", r.ID),
			attribute.Int64("record.kind", r.Kind),
		),
	)
	defer span.End()

	start := time.Now()
	verdict, err := h.evaluate(ctx, handle, r, limits)
	elapsed := time.Since(start)

	obs := Observation{
		Predicate: handle.Name(),
		Format:    handle.Format(),
		Duration:  elapsed,
	}

	if err != nil {
		var ee *EvalError
		switch {
		case errors.As(err, &ee) && errors.Is(err, ErrResourceExceeded):
			obs.Outcome = OutcomeResourceExceeded
			obs.Resource = ee.Resource
		case errors.Is(err, ErrExecutionTrap):
			obs.Outcome = OutcomeTrap
		default:
			obs.Outcome = OutcomeError
		}
		h.observer.ObserveEvaluation(obs)

		span.RecordError(err)
		span.SetStatus(codes.Error, string(obs.Outcome))
		h.logger.DebugContext(ctx, "predicate failed",
			"predicate", handle.Name(),
			"record_id", r.ID,
			"outcome", obs.Outcome,
			"duration", elapsed,
			"error", err,
		)
		return verdict, err
	}

	switch {
	case verdict.Diagnostic != nil && verdict.Diagnostic.Kind == DiagnosticPrefilterRejected:
		obs.Outcome = OutcomeFiltered
	case verdict.Diagnostic != nil:
		obs.Outcome = OutcomeCoerced
		h.logger.WarnContext(ctx, "predicate returned a non-boolean result",
			"predicate", handle.Name(),
			"record_id", r.ID,
			"reason", verdict.Diagnostic.Reason,
		)
	case verdict.Match:
		obs.Outcome = OutcomeMatch
	default:
		obs.Outcome = OutcomeNoMatch
	}
	h.observer.ObserveEvaluation(obs)

	span.SetAttributes(attribute.Bool("predicate.match", verdict.Match))
	h.logger.DebugContext(ctx, "predicate evaluated",
		"predicate", handle.Name(),
		"record_id", r.ID,
		"match", verdict.Match,
		"duration", elapsed,
	)
	return verdict, nil
}

func (h *Host) evaluate(ctx context.Context, handle *Handle, r record.Record, limits Limits) (Verdict, error) {
	if f := handle.Prefilter(); f != nil && !f.Matches(r) {
		return Rejected(handle.Name(), f), nil
	}

	payload, err := record.Marshal(r)
	if err != nil {
		return FailedVerdict(handle.Name(), err), err
	}

	release, err := handle.acquire()
	if err != nil {
		return FailedVerdict(handle.Name(), err), err
	}
	defer release()

	// The deadline starts once the handle is held.
	callCtx := ctx
	if limits.MaxWallTime > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, limits.MaxWallTime)
		defer cancel()
	}

	raw, err := invokeRecovered(callCtx, handle.module, payload, limits)
	if err != nil {
		err = classify(ctx, callCtx, handle.Name(), limits, err)
		return FailedVerdict(handle.Name(), err), err
	}
	return Coerce(handle.Name(), raw), nil
}

// Rejected is the verdict for a record the handle's prefilter does not match.
func Rejected(predicate string, f *filter.Filter) Verdict {
	return Verdict{
		Match: false,
		Diagnostic: &Diagnostic{
			Kind:      DiagnosticPrefilterRejected,
			Predicate: predicate,
			Reason:    "rejected by prefilter " + f.String(),
		},
	}
}

func invokeRecovered(ctx context.Context, m Module, payload []byte, limits Limits) (raw RawResult, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			raw = RawResult{}
			err = Trap(fmt.Sprintf("panic: %v", rec), nil)
		}
	}()
	return m.Invoke(ctx, payload, limits)
}

// classify maps a backend error onto the evaluation taxonomy.
func classify(parent, call context.Context, predicate string, limits Limits, err error) error {
	if errors.Is(err, ErrHandleClosed) {
		return err
	}

	var ee *EvalError
	if errors.As(err, &ee) {
		if ee.Predicate == "" {
			ee.Predicate = predicate
		}
		return ee
	}

	if parent.Err() != nil {
		return fmt.Errorf("evaluation of %q cancelled: %w", predicate, parent.Err())
	}
	if errors.Is(call.Err(), context.DeadlineExceeded) {
		e := Exceeded(ResourceWallTime, fmt.Sprintf("exceeded %v", limits.MaxWallTime))
		e.Predicate = predicate
		return e
	}

	e := Trap("module fault", err)
	e.Predicate = predicate
	return e
}
