package storage

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"mercator-hq/sieve/pkg/ledger"
)

// MemoryStorage is an in-memory ledger.Storage.
type MemoryStorage struct {
	mu      sync.RWMutex
	entries map[string]*ledger.Entry
	closed  bool
	logger  *slog.Logger
}

// NewMemoryStorage creates an empty in-memory store.
func NewMemoryStorage(logger *slog.Logger) *MemoryStorage {
	if logger == nil {
		logger = slog.Default()
	}
	return &MemoryStorage{
		entries: make(map[string]*ledger.Entry),
		logger:  logger.With("component", "ledger.storage.memory"),
	}
}

// Store copies entry into the store.
func (m *MemoryStorage) Store(ctx context.Context, entry *ledger.Entry) error {
	if err := ctx.Err(); err != nil {
		return ledger.NewStorageError("memory", "store", err)
	}
	if entry.ID == "" {
		return ledger.NewStorageError("memory", "store", fmt.Errorf("entry has no id"))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ledger.NewStorageError("memory", "store", errClosed)
	}
	if _, ok := m.entries[entry.ID]; ok {
		return ledger.NewStorageError("memory", "store", fmt.Errorf("duplicate entry id %s", entry.ID))
	}
	cp := *entry
	m.entries[entry.ID] = &cp
	return nil
}

// Query returns copies of the matching entries.
func (m *MemoryStorage) Query(ctx context.Context, q *ledger.Query) ([]*ledger.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, ledger.NewStorageError("memory", "query", err)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ledger.NewStorageError("memory", "query", errClosed)
	}

	out := []*ledger.Entry{}
	for _, e := range m.entries {
		if q.Matches(e) {
			cp := *e
			out = append(out, &cp)
		}
	}
	slices.SortFunc(out, func(a, b *ledger.Entry) int {
		switch {
		case q.Less(a, b):
			return -1
		case q.Less(b, a):
			return 1
		}
		return 0
	})

	if q.Offset > 0 {
		if q.Offset >= len(out) {
			return []*ledger.Entry{}, nil
		}
		out = out[q.Offset:]
	}
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

// Count returns the number of matching entries.
func (m *MemoryStorage) Count(ctx context.Context, q *ledger.Query) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, ledger.NewStorageError("memory", "count", err)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return 0, ledger.NewStorageError("memory", "count", errClosed)
	}

	var n int64
	for _, e := range m.entries {
		if q.Matches(e) {
			n++
		}
	}
	return n, nil
}

// Delete removes the matching entries.
func (m *MemoryStorage) Delete(ctx context.Context, q *ledger.Query) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, ledger.NewStorageError("memory", "delete", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return 0, ledger.NewStorageError("memory", "delete", errClosed)
	}

	var n int64
	for id, e := range m.entries {
		if q.Matches(e) {
			delete(m.entries, id)
			n++
		}
	}
	return n, nil
}

// Close drops all entries. Further calls fail.
func (m *MemoryStorage) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	m.entries = nil
	m.logger.Debug("memory storage closed")
	return nil
}

// Size returns the number of stored entries.
func (m *MemoryStorage) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}
