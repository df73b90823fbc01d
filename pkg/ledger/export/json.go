package export

import (
	"context"
	"encoding/json"
	"io"

	"mercator-hq/sieve/pkg/ledger"
)

// JSONExporter writes entries as one JSON array.
type JSONExporter struct {
	// Pretty enables indentation.
	Pretty bool
}

// NewJSONExporter creates a JSON exporter.
func NewJSONExporter(pretty bool) *JSONExporter {
	return &JSONExporter{Pretty: pretty}
}

// Export writes entries to w. An empty slice is written as [].
func (e *JSONExporter) Export(ctx context.Context, entries []*ledger.Entry, w io.Writer) error {
	if err := ctx.Err(); err != nil {
		return ledger.NewExportError("json", len(entries), err)
	}
	if entries == nil {
		entries = []*ledger.Entry{}
	}

	enc := json.NewEncoder(w)
	if e.Pretty {
		enc.SetIndent("", "  ")
	}
	if err := enc.Encode(entries); err != nil {
		return ledger.NewExportError("json", len(entries), err)
	}
	return nil
}

// JSONLinesExporter writes one JSON object per line.
type JSONLinesExporter struct{}

// Export writes entries to w.
func (JSONLinesExporter) Export(ctx context.Context, entries []*ledger.Entry, w io.Writer) error {
	enc := json.NewEncoder(w)
	for i, entry := range entries {
		if err := ctx.Err(); err != nil {
			return ledger.NewExportError("jsonl", i, err)
		}
		if err := enc.Encode(entry); err != nil {
			return ledger.NewExportError("jsonl", i, err)
		}
	}
	return nil
}
