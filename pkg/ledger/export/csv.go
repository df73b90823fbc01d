package export

import (
	"context"
	"encoding/csv"
	"io"
	"strconv"
	"time"

	"mercator-hq/sieve/pkg/ledger"
)

// Header is the CSV column order.
var Header = []string{
	"id", "run_id", "record_id", "record_digest", "record_kind",
	"predicate", "module_digest", "match",
	"diagnostic_kind", "diagnostic_reason",
	"duration_ms", "evaluated_at",
}

// CSVExporter writes entries as CSV.
type CSVExporter struct {
	// IncludeHeader writes Header as the first row.
	IncludeHeader bool
}

// NewCSVExporter creates a CSV exporter.
func NewCSVExporter(includeHeader bool) *CSVExporter {
	return &CSVExporter{IncludeHeader: includeHeader}
}

// Export writes entries to w.
func (e *CSVExporter) Export(ctx context.Context, entries []*ledger.Entry, w io.Writer) error {
	cw := csv.NewWriter(w)

	if e.IncludeHeader {
		if err := cw.Write(Header); err != nil {
			return ledger.NewExportError("csv", len(entries), err)
		}
	}

	for i, entry := range entries {
		if err := ctx.Err(); err != nil {
			return ledger.NewExportError("csv", i, err)
		}
		if err := cw.Write(row(entry)); err != nil {
			return ledger.NewExportError("csv", i, err)
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return ledger.NewExportError("csv", len(entries), err)
	}
	return nil
}

func row(e *ledger.Entry) []string {
	return []string{
		e.ID,
		e.RunID,
		e.RecordID,
		e.RecordDigest,
		strconv.FormatInt(e.RecordKind, 10),
		e.Predicate,
		e.ModuleDigest,
		strconv.FormatBool(e.Match),
		e.DiagnosticKind,
		e.DiagnosticReason,
		strconv.FormatFloat(float64(e.Duration)/float64(time.Millisecond), 'f', 3, 64),
		e.EvaluatedAt.UTC().Format(time.RFC3339Nano),
	}
}
