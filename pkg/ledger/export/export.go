// Package export writes ledger entries as JSON or CSV.
package export

import (
	"fmt"

	"mercator-hq/sieve/pkg/ledger"
)

// New returns the exporter for format: "json", "jsonl" or "csv".
func New(format string, pretty bool) (ledger.Exporter, error) {
	switch format {
	case "json":
		return NewJSONExporter(pretty), nil
	case "jsonl":
		return &JSONLinesExporter{}, nil
	case "csv":
		return NewCSVExporter(true), nil
	default:
		return nil, fmt.Errorf("unknown export format %q (want json, jsonl or csv)", format)
	}
}
