package ledger

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"mercator-hq/sieve/pkg/config"
)

// SortFields are the fields a query may sort by.
var SortFields = map[string]bool{
	"evaluated_at": true,
	"duration":     true,
	"predicate":    true,
	"record_kind":  true,
}

// Validate checks q against the limits in cfg.
func (q *Query) Validate(cfg *config.QueryConfig) error {
	if q.Limit < 0 {
		return NewQueryError(q, fmt.Errorf("limit must be >= 0, got %d", q.Limit))
	}
	if cfg != nil && cfg.MaxLimit > 0 && q.Limit > cfg.MaxLimit {
		return NewQueryError(q, fmt.Errorf("limit must be <= %d, got %d", cfg.MaxLimit, q.Limit))
	}
	if q.Offset < 0 {
		return NewQueryError(q, fmt.Errorf("offset must be >= 0, got %d", q.Offset))
	}
	if q.SortBy != "" && !SortFields[q.SortBy] {
		return NewQueryError(q, fmt.Errorf("invalid sort field: %s", q.SortBy))
	}
	if q.SortOrder != "" && q.SortOrder != "asc" && q.SortOrder != "desc" {
		return NewQueryError(q, fmt.Errorf("invalid sort order: %s (must be 'asc' or 'desc')", q.SortOrder))
	}
	if q.StartTime != nil && q.EndTime != nil && q.StartTime.After(*q.EndTime) {
		return NewQueryError(q, fmt.Errorf("start_time must be before end_time"))
	}
	return nil
}

// ApplyDefaults fills the limit and sort order of an interactive query.
func (q *Query) ApplyDefaults(cfg *config.QueryConfig) {
	if q.Limit == 0 {
		q.Limit = config.DefaultLedgerQueryDefaultLimit
		if cfg != nil && cfg.DefaultLimit > 0 {
			q.Limit = cfg.DefaultLimit
		}
	}
	if q.SortBy == "" {
		q.SortBy = "evaluated_at"
	}
	if q.SortOrder == "" {
		q.SortOrder = "desc"
	}
	q.SortOrder = strings.ToLower(q.SortOrder)
}

// Matches reports whether e satisfies every filter in q.
func (q *Query) Matches(e *Entry) bool {
	if q.StartTime != nil && e.EvaluatedAt.Before(*q.StartTime) {
		return false
	}
	if q.EndTime != nil && e.EvaluatedAt.After(*q.EndTime) {
		return false
	}
	if len(q.IDs) > 0 && !slices.Contains(q.IDs, e.ID) {
		return false
	}
	if q.RunID != "" && e.RunID != q.RunID {
		return false
	}
	if q.RecordID != "" && e.RecordID != q.RecordID {
		return false
	}
	if q.Predicate != "" && e.Predicate != q.Predicate {
		return false
	}
	if q.Match != nil && e.Match != *q.Match {
		return false
	}
	if q.DiagnosticKind != "" && e.DiagnosticKind != q.DiagnosticKind {
		return false
	}
	return true
}

// Less orders entries by the query's sort field and order. Ties fall back
// to the entry ID so results are stable across backends.
func (q *Query) Less(a, b *Entry) bool {
	c := compare(q.SortBy, a, b)
	if c == 0 {
		c = strings.Compare(a.ID, b.ID)
	}
	if strings.EqualFold(q.SortOrder, "asc") {
		return c < 0
	}
	return c > 0
}

func compare(field string, a, b *Entry) int {
	switch field {
	case "duration":
		return cmpInt(int64(a.Duration), int64(b.Duration))
	case "predicate":
		return strings.Compare(a.Predicate, b.Predicate)
	case "record_kind":
		return cmpInt(a.RecordKind, b.RecordKind)
	default:
		return a.EvaluatedAt.Compare(b.EvaluatedAt)
	}
}

func cmpInt(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// Since returns a query start time d before now, for CLI flags like --since 24h.
func Since(d time.Duration) *time.Time {
	t := time.Now().Add(-d)
	return &t
}
