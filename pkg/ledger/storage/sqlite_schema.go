package storage

// SchemaVersion is the current database schema version.
const SchemaVersion = 1

// Schema creates the ledger tables. Times are stored as Unix nanoseconds so
// range filters compare integers regardless of time zone.
const Schema = `
CREATE TABLE IF NOT EXISTS verdicts (
    id TEXT PRIMARY KEY,
    run_id TEXT NOT NULL,

    record_id TEXT NOT NULL,
    record_digest TEXT NOT NULL,
    record_kind INTEGER NOT NULL,

    predicate TEXT NOT NULL DEFAULT '',
    module_digest TEXT NOT NULL DEFAULT '',

    matched INTEGER NOT NULL,
    diagnostic_kind TEXT NOT NULL DEFAULT '',
    diagnostic_reason TEXT NOT NULL DEFAULT '',

    duration INTEGER NOT NULL,
    evaluated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS schema_version (
    version INTEGER PRIMARY KEY,
    applied_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_verdicts_evaluated_at ON verdicts(evaluated_at);
CREATE INDEX IF NOT EXISTS idx_verdicts_run_id ON verdicts(run_id);
CREATE INDEX IF NOT EXISTS idx_verdicts_record_id ON verdicts(record_id);
CREATE INDEX IF NOT EXISTS idx_verdicts_predicate ON verdicts(predicate);
CREATE INDEX IF NOT EXISTS idx_verdicts_diagnostic_kind ON verdicts(diagnostic_kind);
`

// InsertSchemaVersion records the schema version once.
const InsertSchemaVersion = `
INSERT INTO schema_version (version, applied_at)
VALUES (?, datetime('now'))
ON CONFLICT(version) DO NOTHING;
`

// GetSchemaVersion returns the newest applied schema version.
const GetSchemaVersion = `
SELECT version FROM schema_version ORDER BY version DESC LIMIT 1;
`

const columns = `id, run_id, record_id, record_digest, record_kind, predicate, module_digest,
	matched, diagnostic_kind, diagnostic_reason, duration, evaluated_at`
