package logging

import (
	"context"
	"log/slog"
)

// Context keys for common log fields.
type contextKey string

const (
	// RunIDKey is the context key for the pipeline run identifier.
	RunIDKey contextKey = "run_id"

	// PredicateKey is the context key for the predicate being evaluated.
	PredicateKey contextKey = "predicate"

	// RecordIDKey is the context key for the record being evaluated.
	RecordIDKey contextKey = "record_id"
)

var contextKeys = []contextKey{RunIDKey, PredicateKey, RecordIDKey}

// WithRunID adds a run identifier to the context.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, RunIDKey, runID)
}

// GetRunID retrieves the run identifier from the context.
func GetRunID(ctx context.Context) string {
	return getString(ctx, RunIDKey)
}

// WithPredicate adds a predicate name to the context.
func WithPredicate(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, PredicateKey, name)
}

// GetPredicate retrieves the predicate name from the context.
func GetPredicate(ctx context.Context) string {
	return getString(ctx, PredicateKey)
}

// WithRecordID adds a record identifier to the context.
func WithRecordID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, RecordIDKey, id)
}

// GetRecordID retrieves the record identifier from the context.
func GetRecordID(ctx context.Context) string {
	return getString(ctx, RecordIDKey)
}

func getString(ctx context.Context, key contextKey) string {
	if ctx == nil {
		return ""
	}
	v, _ := ctx.Value(key).(string)
	return v
}

// contextHandler adds the context fields above to every record logged
// with a *Context method.
type contextHandler struct {
	slog.Handler
}

func (h *contextHandler) Handle(ctx context.Context, r slog.Record) error {
	for _, key := range contextKeys {
		if v := getString(ctx, key); v != "" {
			r.AddAttrs(slog.String(string(key), v))
		}
	}
	return h.Handler.Handle(ctx, r)
}

func (h *contextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &contextHandler{Handler: h.Handler.WithAttrs(attrs)}
}

func (h *contextHandler) WithGroup(name string) slog.Handler {
	return &contextHandler{Handler: h.Handler.WithGroup(name)}
}
