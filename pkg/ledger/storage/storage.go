package storage

import (
	"fmt"
	"log/slog"

	"mercator-hq/sieve/pkg/config"
	"mercator-hq/sieve/pkg/ledger"
)

// Open creates the backend named by cfg.Backend.
func Open(cfg *config.LedgerConfig, logger *slog.Logger) (ledger.Storage, error) {
	switch cfg.Backend {
	case "memory":
		return NewMemoryStorage(logger), nil
	case "sqlite", "":
		return NewSQLiteStorage(&cfg.SQLite, logger)
	default:
		return nil, fmt.Errorf("unknown ledger backend %q", cfg.Backend)
	}
}
