package retention

import (
	"context"
	"log/slog"
	"time"

	"mercator-hq/sieve/pkg/config"
	"mercator-hq/sieve/pkg/ledger"
)

// Observer receives the number of pruned entries. *metrics.Collector
// satisfies it.
type Observer interface {
	RecordLedgerPruned(n int64)
}

// deleteBatch bounds the IN list of one count-based delete.
const deleteBatch = 500

// Pruner enforces the retention policy on a ledger.Storage.
type Pruner struct {
	storage  ledger.Storage
	config   config.RetentionConfig
	logger   *slog.Logger
	observer Observer
	now      func() time.Time
}

// NewPruner creates a pruner. observer may be nil.
func NewPruner(storage ledger.Storage, cfg config.RetentionConfig, observer Observer, logger *slog.Logger) *Pruner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pruner{
		storage:  storage,
		config:   cfg,
		logger:   logger.With("component", "ledger.retention"),
		observer: observer,
		now:      time.Now,
	}
}

// Prune deletes entries older than the retention period, then the oldest
// entries beyond the maximum count. It returns the number deleted.
func (p *Pruner) Prune(ctx context.Context) (int64, error) {
	var total int64

	if p.config.Days > 0 {
		n, err := p.pruneByAge(ctx)
		total += n
		if err != nil {
			p.observe(total)
			return total, ledger.NewRetentionError(p.config.Days, p.config.MaxEntries, err)
		}
	}

	if p.config.MaxEntries > 0 {
		n, err := p.pruneByCount(ctx)
		total += n
		if err != nil {
			p.observe(total)
			return total, ledger.NewRetentionError(p.config.Days, p.config.MaxEntries, err)
		}
	}

	p.observe(total)
	if total > 0 {
		p.logger.Info("ledger pruning completed",
			"deleted_count", total,
			"retention_days", p.config.Days,
			"max_entries", p.config.MaxEntries,
		)
	} else {
		p.logger.Debug("no ledger entries pruned")
	}
	return total, nil
}

func (p *Pruner) observe(n int64) {
	if p.observer != nil {
		p.observer.RecordLedgerPruned(n)
	}
}

func (p *Pruner) pruneByAge(ctx context.Context) (int64, error) {
	cutoff := p.now().AddDate(0, 0, -p.config.Days)
	p.logger.Debug("pruning by age", "cutoff_time", cutoff)
	return p.storage.Delete(ctx, &ledger.Query{EndTime: &cutoff})
}

// pruneByCount deletes exactly the oldest entries over the limit, by ID,
// so entries sharing a timestamp with the cutoff survive.
func (p *Pruner) pruneByCount(ctx context.Context) (int64, error) {
	count, err := p.storage.Count(ctx, &ledger.Query{})
	if err != nil {
		return 0, err
	}
	if count <= p.config.MaxEntries {
		return 0, nil
	}

	excess := count - p.config.MaxEntries
	p.logger.Info("ledger exceeds max entries, pruning oldest",
		"current_count", count,
		"max_entries", p.config.MaxEntries,
		"to_delete", excess,
	)

	oldest, err := p.storage.Query(ctx, &ledger.Query{
		SortBy:    "evaluated_at",
		SortOrder: "asc",
		Limit:     int(excess),
	})
	if err != nil {
		return 0, err
	}

	var deleted int64
	for start := 0; start < len(oldest); start += deleteBatch {
		end := min(start+deleteBatch, len(oldest))
		ids := make([]string, 0, end-start)
		for _, e := range oldest[start:end] {
			ids = append(ids, e.ID)
		}
		n, err := p.storage.Delete(ctx, &ledger.Query{IDs: ids})
		deleted += n
		if err != nil {
			return deleted, err
		}
	}
	return deleted, nil
}

// Start runs the pruner on the configured schedule until ctx is done or
// Stop is called.
func (p *Pruner) Start(ctx context.Context) (*Scheduler, error) {
	s := NewScheduler(p)
	if err := s.Start(ctx); err != nil {
		return nil, err
	}
	return s, nil
}
