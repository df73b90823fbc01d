package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"mercator-hq/sieve/pkg/config"
	"mercator-hq/sieve/pkg/ledger"
)

var errClosed = errors.New("storage closed")

// SQLiteStorage implements ledger.Storage on SQLite.
type SQLiteStorage struct {
	db     *sql.DB
	config config.SQLiteConfig
	logger *slog.Logger
}

// NewSQLiteStorage opens (creating if needed) the database at cfg.Path and
// migrates its schema.
func NewSQLiteStorage(cfg *config.SQLiteConfig, logger *slog.Logger) (*SQLiteStorage, error) {
	if cfg == nil {
		d := config.Default().Ledger.SQLite
		cfg = &d
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "ledger.storage.sqlite")

	if dir := filepath.Dir(cfg.Path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, ledger.NewStorageError("sqlite", "open", err)
		}
	}

	db, err := sql.Open("sqlite", dsn(cfg))
	if err != nil {
		return nil, ledger.NewStorageError("sqlite", "open", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}

	s := &SQLiteStorage{
		db:     db,
		config: *cfg,
		logger: logger,
	}

	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("SQLite storage initialized",
		"path", cfg.Path,
		"wal_mode", cfg.WALMode,
		"max_open_conns", cfg.MaxOpenConns,
	)
	return s, nil
}

// dsn applies the busy timeout to every pooled connection, not just the
// one that runs initialize.
func dsn(cfg *config.SQLiteConfig) string {
	v := url.Values{}
	v.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", cfg.BusyTimeout.Milliseconds()))
	return "file:" + cfg.Path + "?" + v.Encode()
}

func (s *SQLiteStorage) initialize() error {
	if s.config.WALMode {
		if _, err := s.db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
			return ledger.NewStorageError("sqlite", "enable_wal", err)
		}
		s.logger.Debug("WAL mode enabled")
	}

	if _, err := s.db.Exec(Schema); err != nil {
		return ledger.NewStorageError("sqlite", "create_schema", err)
	}
	if _, err := s.db.Exec(InsertSchemaVersion, SchemaVersion); err != nil {
		return ledger.NewStorageError("sqlite", "insert_schema_version", err)
	}

	var version int
	err := s.db.QueryRow(GetSchemaVersion).Scan(&version)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return ledger.NewStorageError("sqlite", "get_schema_version", err)
	}
	if version != SchemaVersion {
		return ledger.NewStorageError("sqlite", "schema_version_mismatch",
			fmt.Errorf("expected schema version %d, got %d", SchemaVersion, version))
	}

	s.logger.Debug("schema version verified", "version", version)
	return nil
}

// Store inserts one entry.
func (s *SQLiteStorage) Store(ctx context.Context, e *ledger.Entry) error {
	if e.ID == "" {
		return ledger.NewStorageError("sqlite", "store", fmt.Errorf("entry has no id"))
	}

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO verdicts ("+columns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
		e.ID, e.RunID,
		e.RecordID, e.RecordDigest, e.RecordKind,
		e.Predicate, e.ModuleDigest,
		e.Match, e.DiagnosticKind, e.DiagnosticReason,
		int64(e.Duration), e.EvaluatedAt.UnixNano(),
	)
	if err != nil {
		return ledger.NewStorageError("sqlite", "store", err)
	}
	return nil
}

// Query returns the matching entries.
func (s *SQLiteStorage) Query(ctx context.Context, q *ledger.Query) ([]*ledger.Entry, error) {
	where, args := buildWhereClause(q)

	stmt := "SELECT " + columns + " FROM verdicts"
	if where != "" {
		stmt += " WHERE " + where
	}

	sortBy := "evaluated_at"
	if ledger.SortFields[q.SortBy] {
		sortBy = q.SortBy
	}
	order := "DESC"
	if strings.EqualFold(q.SortOrder, "asc") {
		order = "ASC"
	}
	stmt += fmt.Sprintf(" ORDER BY %s %s, id %s", sortBy, order, order)

	switch {
	case q.Limit > 0:
		stmt += fmt.Sprintf(" LIMIT %d", q.Limit)
	case q.Offset > 0:
		stmt += " LIMIT -1"
	}
	if q.Offset > 0 {
		stmt += fmt.Sprintf(" OFFSET %d", q.Offset)
	}

	rows, err := s.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, ledger.NewStorageError("sqlite", "query", err)
	}
	defer rows.Close()

	entries := []*ledger.Entry{}
	for rows.Next() {
		e, err := scanRow(rows)
		if err != nil {
			return nil, ledger.NewStorageError("sqlite", "scan", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, ledger.NewStorageError("sqlite", "query", err)
	}
	return entries, nil
}

// Count returns the number of matching entries.
func (s *SQLiteStorage) Count(ctx context.Context, q *ledger.Query) (int64, error) {
	where, args := buildWhereClause(q)

	stmt := "SELECT COUNT(*) FROM verdicts"
	if where != "" {
		stmt += " WHERE " + where
	}

	var n int64
	if err := s.db.QueryRowContext(ctx, stmt, args...).Scan(&n); err != nil {
		return 0, ledger.NewStorageError("sqlite", "count", err)
	}
	return n, nil
}

// Delete removes the matching entries.
func (s *SQLiteStorage) Delete(ctx context.Context, q *ledger.Query) (int64, error) {
	where, args := buildWhereClause(q)

	stmt := "DELETE FROM verdicts"
	if where != "" {
		stmt += " WHERE " + where
	}

	res, err := s.db.ExecContext(ctx, stmt, args...)
	if err != nil {
		return 0, ledger.NewStorageError("sqlite", "delete", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, ledger.NewStorageError("sqlite", "delete", err)
	}
	return n, nil
}

// Close closes the database.
func (s *SQLiteStorage) Close() error {
	if err := s.db.Close(); err != nil {
		return ledger.NewStorageError("sqlite", "close", err)
	}
	s.logger.Info("SQLite storage closed")
	return nil
}

// buildWhereClause returns the WHERE clause (without the keyword) and its
// arguments.
func buildWhereClause(q *ledger.Query) (string, []any) {
	var conds []string
	var args []any

	if q.StartTime != nil {
		conds = append(conds, "evaluated_at >= ?")
		args = append(args, q.StartTime.UnixNano())
	}
	if q.EndTime != nil {
		conds = append(conds, "evaluated_at <= ?")
		args = append(args, q.EndTime.UnixNano())
	}
	if len(q.IDs) > 0 {
		conds = append(conds, "id IN ("+strings.TrimSuffix(strings.Repeat("?, ", len(q.IDs)), ", ")+")")
		for _, id := range q.IDs {
			args = append(args, id)
		}
	}
	if q.RunID != "" {
		conds = append(conds, "run_id = ?")
		args = append(args, q.RunID)
	}
	if q.RecordID != "" {
		conds = append(conds, "record_id = ?")
		args = append(args, q.RecordID)
	}
	if q.Predicate != "" {
		conds = append(conds, "predicate = ?")
		args = append(args, q.Predicate)
	}
	if q.Match != nil {
		conds = append(conds, "matched = ?")
		args = append(args, *q.Match)
	}
	if q.DiagnosticKind != "" {
		conds = append(conds, "diagnostic_kind = ?")
		args = append(args, q.DiagnosticKind)
	}

	return strings.Join(conds, " AND "), args
}

func scanRow(rows *sql.Rows) (*ledger.Entry, error) {
	var e ledger.Entry
	var duration, evaluatedAt int64

	err := rows.Scan(
		&e.ID, &e.RunID,
		&e.RecordID, &e.RecordDigest, &e.RecordKind,
		&e.Predicate, &e.ModuleDigest,
		&e.Match, &e.DiagnosticKind, &e.DiagnosticReason,
		&duration, &evaluatedAt,
	)
	if err != nil {
		return nil, err
	}

	e.Duration = time.Duration(duration)
	e.EvaluatedAt = time.Unix(0, evaluatedAt)
	return &e, nil
}
