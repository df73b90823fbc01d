// Package pipeline applies ordered predicate lists to lazy record sequences.
package pipeline

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"strings"
	"sync"
	"time"

	"mercator-hq/sieve/pkg/filter"
	"mercator-hq/sieve/pkg/predicate"
	"mercator-hq/sieve/pkg/record"
)

// Combine selects how per-predicate verdicts are combined.
type Combine string

const (
	// All accepts a record when every predicate accepts it. It stops at the
	// first false verdict. An empty predicate list accepts everything.
	All Combine = "all"

	// Any accepts a record when some predicate accepts it. It stops at the
	// first true verdict. An empty predicate list accepts nothing.
	Any Combine = "any"
)

// ParseCombine parses "all" or "any", case-insensitively.
func ParseCombine(s string) (Combine, error) {
	switch c := Combine(strings.ToLower(s)); c {
	case All, Any:
		return c, nil
	default:
		return "", fmt.Errorf("unknown combine mode %q (want all or any)", s)
	}
}

// Evaluation is one predicate's contribution to a Result.
type Evaluation struct {
	Predicate string
	Digest    string
	Verdict   predicate.Verdict
	Err       error
	Duration  time.Duration
}

// Result is the combined verdict for one record.
type Result struct {
	Match bool

	// Diagnostics collects coercion warnings, traps, limit breaches and
	// prefilter rejections, in evaluation order.
	Diagnostics []predicate.Diagnostic

	// Evaluations lists the predicates evaluated, including those whose own
	// prefilter rejected the record. Predicates skipped by short-circuiting
	// are absent.
	Evaluations []Evaluation
}

// Reporter receives every result the pipeline yields, before it is yielded.
type Reporter interface {
	Report(ctx context.Context, rec record.Record, res Result)
}

// Reporters fans results out to every non-nil reporter, in order.
func Reporters(rs ...Reporter) Reporter {
	var out multiReporter
	for _, r := range rs {
		if r != nil {
			out = append(out, r)
		}
	}
	return out
}

type multiReporter []Reporter

func (m multiReporter) Report(ctx context.Context, rec record.Record, res Result) {
	for _, r := range m {
		r.Report(ctx, rec, res)
	}
}

// Pipeline evaluates records against predicates through a Host.
type Pipeline struct {
	host      *predicate.Host
	limits    predicate.Limits
	workers   int
	prefilter *filter.Filter
	reporter  Reporter
	logger    *slog.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLimits sets the per-invocation limits. Default: predicate.DefaultLimits().
func WithLimits(l predicate.Limits) Option {
	return func(p *Pipeline) { p.limits = l }
}

// WithWorkers evaluates up to n records concurrently. Output order is
// unchanged. Values below 2 select sequential evaluation.
func WithWorkers(n int) Option {
	return func(p *Pipeline) { p.workers = n }
}

// WithPrefilter rejects records that do not match f before any predicate
// runs, and stops the sequence after f.Limit accepted records.
func WithPrefilter(f *filter.Filter) Option {
	return func(p *Pipeline) { p.prefilter = f }
}

// WithReporter sets a reporter, such as the verdict ledger.
func WithReporter(r Reporter) Option {
	return func(p *Pipeline) { p.reporter = r }
}

// WithLogger sets the pipeline logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// New creates a pipeline.
func New(host *predicate.Host, opts ...Option) *Pipeline {
	if host == nil {
		host = predicate.NewHost()
	}
	p := &Pipeline{
		host:    host,
		limits:  predicate.DefaultLimits(),
		workers: 1,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With("component", "pipeline")
	return p
}

// Apply returns a lazy sequence pairing each input record with its combined
// verdict, in input order. Records are pulled from records only as the
// sequence is consumed, and ranging over the result again re-drives records.
//
// A trap or limit breach counts as false for that predicate; it is recorded
// as a diagnostic and evaluation continues with the next predicate or record.
// Cancelling ctx ends the sequence.
func (p *Pipeline) Apply(ctx context.Context, records iter.Seq[record.Record], predicates []*predicate.Handle, combine Combine) iter.Seq2[record.Record, Result] {
	if p.workers > 1 {
		return p.applyParallel(ctx, records, predicates, combine)
	}
	return func(yield func(record.Record, Result) bool) {
		var matched int
		for rec := range records {
			if ctx.Err() != nil {
				return
			}
			res := p.Evaluate(ctx, rec, predicates, combine)
			if ctx.Err() != nil {
				return
			}
			if !p.emit(ctx, yield, rec, res, &matched) {
				return
			}
		}
	}
}

// applyParallel evaluates windows of records on worker goroutines and
// yields each window in input order.
func (p *Pipeline) applyParallel(ctx context.Context, records iter.Seq[record.Record], predicates []*predicate.Handle, combine Combine) iter.Seq2[record.Record, Result] {
	window := p.workers * 4
	return func(yield func(record.Record, Result) bool) {
		var matched int
		batch := make([]record.Record, 0, window)

		flush := func() bool {
			results := make([]Result, len(batch))
			sem := make(chan struct{}, p.workers)
			var wg sync.WaitGroup
			for i := range batch {
				wg.Add(1)
				sem <- struct{}{}
				go func() {
					defer wg.Done()
					defer func() { <-sem }()
					results[i] = p.Evaluate(ctx, batch[i], predicates, combine)
				}()
			}
			wg.Wait()

			for i := range batch {
				if ctx.Err() != nil {
					return false
				}
				if !p.emit(ctx, yield, batch[i], results[i], &matched) {
					return false
				}
			}
			batch = batch[:0]
			return true
		}

		for rec := range records {
			if ctx.Err() != nil {
				return
			}
			batch = append(batch, rec)
			if len(batch) == window && !flush() {
				return
			}
		}
		if len(batch) > 0 {
			flush()
		}
	}
}

// emit reports and yields one result and enforces the prefilter limit. It
// returns false when the sequence must stop.
func (p *Pipeline) emit(ctx context.Context, yield func(record.Record, Result) bool, rec record.Record, res Result, matched *int) bool {
	if p.reporter != nil {
		p.reporter.Report(ctx, rec, res)
	}
	if !yield(rec, res) {
		return false
	}
	if res.Match {
		*matched++
		if p.prefilter != nil && p.prefilter.Limit > 0 && *matched >= p.prefilter.Limit {
			return false
		}
	}
	return true
}

// Evaluate computes the combined verdict for a single record.
func (p *Pipeline) Evaluate(ctx context.Context, rec record.Record, predicates []*predicate.Handle, combine Combine) Result {
	var res Result

	if combine != All && combine != Any {
		res.Diagnostics = append(res.Diagnostics, predicate.Diagnostic{
			Kind:   predicate.DiagnosticHostError,
			Reason: fmt.Sprintf("unknown combine mode %q", combine),
		})
		return res
	}

	if p.prefilter != nil && !p.prefilter.Matches(rec) {
		res.Diagnostics = append(res.Diagnostics, *predicate.Rejected("", p.prefilter).Diagnostic)
		return res
	}

	for _, h := range predicates {
		var name, digest string
		if h != nil {
			name, digest = h.Name(), h.Digest()
		}
		start := time.Now()
		v, err := p.host.Evaluate(ctx, h, rec, p.limits)
		res.Evaluations = append(res.Evaluations, Evaluation{
			Predicate: name,
			Digest:    digest,
			Verdict:   v,
			Err:       err,
			Duration:  time.Since(start),
		})
		if v.Diagnostic != nil {
			res.Diagnostics = append(res.Diagnostics, *v.Diagnostic)
		}
		if err != nil {
			p.logger.WarnContext(ctx, "predicate failed, counting as false",
				"predicate", name,
				"record_id", rec.ID,
				"error", err,
			)
		}

		if combine == All && !v.Match {
			return res
		}
		if combine == Any && v.Match {
			res.Match = true
			return res
		}
	}

	res.Match = combine == All
	return res
}

// Apply is shorthand for New(host).Apply(ctx, records, predicates, combine).
func Apply(ctx context.Context, host *predicate.Host, records iter.Seq[record.Record], predicates []*predicate.Handle, combine Combine) iter.Seq2[record.Record, Result] {
	return New(host).Apply(ctx, records, predicates, combine)
}

// Matches filters a result sequence down to accepted records.
func Matches(seq iter.Seq2[record.Record, Result]) iter.Seq[record.Record] {
	return func(yield func(record.Record) bool) {
		for rec, res := range seq {
			if res.Match && !yield(rec) {
				return
			}
		}
	}
}
