// Package storage provides ledger.Storage backends.
//
//   - MemoryStorage keeps entries in a map. Useful for tests and one-shot
//     CLI runs where nothing needs to outlive the process.
//   - SQLiteStorage persists entries with modernc.org/sqlite (no cgo),
//     optionally in WAL mode.
//
// Open picks a backend from config.LedgerConfig.
package storage
