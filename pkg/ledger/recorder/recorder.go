// Package recorder writes pipeline verdicts to a ledger asynchronously.
package recorder

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"mercator-hq/sieve/pkg/config"
	"mercator-hq/sieve/pkg/ledger"
	"mercator-hq/sieve/pkg/pipeline"
	"mercator-hq/sieve/pkg/record"
	"mercator-hq/sieve/pkg/telemetry/logging"
)

// Metrics receives write outcomes. *metrics.Collector satisfies it.
type Metrics interface {
	RecordLedgerWrite(err error)
	RecordLedgerDrop()
}

type nopMetrics struct{}

func (nopMetrics) RecordLedgerWrite(error) {}
func (nopMetrics) RecordLedgerDrop()       {}

// Option configures a Recorder.
type Option func(*Recorder)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(r *Recorder) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m Metrics) Option {
	return func(r *Recorder) {
		if m != nil {
			r.metrics = m
		}
	}
}

// WithClock overrides time.Now for entry timestamps.
func WithClock(now func() time.Time) Option {
	return func(r *Recorder) {
		if now != nil {
			r.now = now
		}
	}
}

// Recorder turns pipeline results into ledger entries and writes them on a
// background goroutine so evaluation never waits on storage.
//
// Recorder implements pipeline.Reporter.
type Recorder struct {
	storage ledger.Storage
	config  config.RecorderConfig
	entries chan *ledger.Entry
	wg      sync.WaitGroup
	done    chan struct{}
	closed  atomic.Bool
	logger  *slog.Logger
	metrics Metrics
	now     func() time.Time
}

var _ pipeline.Reporter = (*Recorder)(nil)

// New starts a recorder writing to storage.
func New(storage ledger.Storage, cfg *config.RecorderConfig, opts ...Option) *Recorder {
	c := config.RecorderConfig{
		AsyncBuffer:  config.DefaultLedgerRecorderAsyncBuffer,
		WriteTimeout: config.DefaultLedgerRecorderWriteTimeout,
	}
	if cfg != nil {
		if cfg.AsyncBuffer > 0 {
			c.AsyncBuffer = cfg.AsyncBuffer
		}
		if cfg.WriteTimeout > 0 {
			c.WriteTimeout = cfg.WriteTimeout
		}
	}

	r := &Recorder{
		storage: storage,
		config:  c,
		entries: make(chan *ledger.Entry, c.AsyncBuffer),
		done:    make(chan struct{}),
		logger:  slog.Default(),
		metrics: nopMetrics{},
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", "ledger.recorder")

	r.wg.Add(1)
	go r.worker()

	r.logger.Debug("ledger recorder started",
		"async_buffer", c.AsyncBuffer,
		"write_timeout", c.WriteTimeout,
	)
	return r
}

// Report records res for rec. It never blocks on storage; when the buffer
// stays full for longer than the write timeout the entry is dropped.
func (r *Recorder) Report(ctx context.Context, rec record.Record, res pipeline.Result) {
	if r.closed.Load() {
		return
	}
	for _, e := range r.Entries(ctx, rec, res) {
		if err := r.enqueue(e); err != nil {
			r.metrics.RecordLedgerDrop()
		}
	}
}

// Entries converts one pipeline result into ledger entries: one per
// predicate invoked, or a single entry when none ran.
func (r *Recorder) Entries(ctx context.Context, rec record.Record, res pipeline.Result) []*ledger.Entry {
	runID := logging.GetRunID(ctx)
	digest, err := record.Digest(rec)
	if err != nil {
		r.logger.Warn("cannot digest record", "record_id", rec.ID, "error", err)
	}
	now := r.now()

	base := ledger.Entry{
		RunID:        runID,
		RecordID:     rec.ID,
		RecordDigest: digest,
		RecordKind:   rec.Kind,
		EvaluatedAt:  now,
	}

	if len(res.Evaluations) == 0 {
		e := base
		e.ID = uuid.New().String()
		e.Match = res.Match
		if len(res.Diagnostics) > 0 {
			e.DiagnosticKind = string(res.Diagnostics[0].Kind)
			e.DiagnosticReason = res.Diagnostics[0].Reason
		}
		return []*ledger.Entry{&e}
	}

	out := make([]*ledger.Entry, 0, len(res.Evaluations))
	for _, ev := range res.Evaluations {
		e := base
		e.ID = uuid.New().String()
		e.Predicate = ev.Predicate
		e.ModuleDigest = ev.Digest
		e.Match = ev.Verdict.Match
		e.Duration = ev.Duration
		if d := ev.Verdict.Diagnostic; d != nil {
			e.DiagnosticKind = string(d.Kind)
			e.DiagnosticReason = d.Reason
		}
		out = append(out, &e)
	}
	return out
}

func (r *Recorder) enqueue(e *ledger.Entry) error {
	select {
	case r.entries <- e:
		return nil
	default:
	}

	timer := time.NewTimer(r.config.WriteTimeout)
	defer timer.Stop()

	select {
	case r.entries <- e:
		return nil
	case <-timer.C:
		r.logger.Error("ledger buffer full, dropping entry",
			"entry_id", e.ID,
			"record_id", e.RecordID,
			"channel_capacity", r.config.AsyncBuffer,
		)
		return ledger.NewRecorderError(e.ID, context.DeadlineExceeded)
	case <-r.done:
		r.logger.Warn("recorder shutting down, dropping entry",
			"entry_id", e.ID,
			"record_id", e.RecordID,
		)
		return ledger.NewRecorderError(e.ID, context.Canceled)
	}
}

// Close stops accepting entries and waits until every buffered entry has
// been written. It is safe to call more than once.
func (r *Recorder) Close() error {
	if !r.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(r.done)
	r.wg.Wait()
	r.logger.Debug("ledger recorder stopped")
	return nil
}

func (r *Recorder) worker() {
	defer r.wg.Done()

	for {
		select {
		case e := <-r.entries:
			r.write(e)
		case <-r.done:
			r.logger.Debug("draining ledger buffer", "pending_count", len(r.entries))
			for {
				select {
				case e := <-r.entries:
					r.write(e)
				default:
					return
				}
			}
		}
	}
}

func (r *Recorder) write(e *ledger.Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), r.config.WriteTimeout)
	defer cancel()

	start := time.Now()
	err := r.storage.Store(ctx, e)
	r.metrics.RecordLedgerWrite(err)
	if err != nil {
		r.logger.Error("failed to store ledger entry",
			"entry_id", e.ID,
			"record_id", e.RecordID,
			"predicate", e.Predicate,
			"error", err,
		)
		return
	}

	if d := time.Since(start); d > r.config.WriteTimeout/2 {
		r.logger.Warn("slow ledger write",
			"entry_id", e.ID,
			"duration_ms", d.Milliseconds(),
			"threshold_ms", (r.config.WriteTimeout / 2).Milliseconds(),
		)
	}
}
