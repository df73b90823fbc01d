package ledger

import (
	"context"
	"io"
	"time"
)

// Entry is one recorded verdict.
type Entry struct {
	// ID uniquely identifies the entry (UUID v4).
	ID string `json:"id"`

	// RunID groups the entries of one pipeline run.
	RunID string `json:"run_id"`

	// Record identity.
	RecordID     string `json:"record_id"`
	RecordDigest string `json:"record_digest"`
	RecordKind   int64  `json:"record_kind"`

	// Predicate is the module name. Empty when no predicate ran.
	Predicate    string `json:"predicate,omitempty"`
	ModuleDigest string `json:"module_digest,omitempty"`

	Match            bool   `json:"match"`
	DiagnosticKind   string `json:"diagnostic_kind,omitempty"`
	DiagnosticReason string `json:"diagnostic_reason,omitempty"`

	// Duration is the wall time of the invocation.
	Duration time.Duration `json:"duration_ns"`

	// EvaluatedAt is when the verdict was produced.
	EvaluatedAt time.Time `json:"evaluated_at"`
}

// Query filters ledger entries. Zero-valued fields match everything.
type Query struct {
	// Time range, inclusive on both ends.
	StartTime *time.Time
	EndTime   *time.Time

	// IDs restricts the query to specific entries.
	IDs []string

	RunID          string
	RecordID       string
	Predicate      string
	Match          *bool
	DiagnosticKind string

	// Limit caps the number of entries returned. 0 means no limit at the
	// storage layer; ApplyDefaults sets one for interactive queries.
	Limit  int
	Offset int

	// SortBy is one of the SortFields. Default: "evaluated_at"
	SortBy string

	// SortOrder is "asc" or "desc". Default: "desc"
	SortOrder string
}

// Storage persists ledger entries.
// Implementations must be safe for concurrent use.
type Storage interface {
	// Store persists one entry.
	Store(ctx context.Context, entry *Entry) error

	// Query returns the entries matching q, sorted and paginated.
	Query(ctx context.Context, q *Query) ([]*Entry, error)

	// Count returns the number of entries matching q. Pagination is ignored.
	Count(ctx context.Context, q *Query) (int64, error)

	// Delete removes the entries matching q and returns how many were
	// removed. Pagination is ignored.
	Delete(ctx context.Context, q *Query) (int64, error)

	// Close releases resources held by the backend.
	Close() error
}

// Exporter writes entries in some output format.
type Exporter interface {
	Export(ctx context.Context, entries []*Entry, w io.Writer) error
}
