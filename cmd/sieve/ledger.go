package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"mercator-hq/sieve/pkg/cli"
	"mercator-hq/sieve/pkg/config"
	"mercator-hq/sieve/pkg/ledger"
	"mercator-hq/sieve/pkg/ledger/export"
	"mercator-hq/sieve/pkg/ledger/retention"
	"mercator-hq/sieve/pkg/ledger/storage"
	"mercator-hq/sieve/pkg/telemetry/logging"
)

type ledgerOptions struct {
	backend    string
	path       string
	timeRange  string
	since      time.Duration
	run        string
	record     string
	predicate  string
	match      string
	diagnostic string
	limit      int
	offset     int
	sortBy     string
	order      string
	format     string
	output     string
	days       int
	maxEntries int64
}

var ledgerFlags ledgerOptions

var ledgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "Query the verdict ledger",
	Long: `Query, summarize and prune the verdict ledger.

The ledger records one entry per predicate invocation made by
"sieve apply --ledger" (or any run with ledger.enabled set).

Subcommands:
  query   - List entries matching filters
  report  - Summarize verdicts per predicate and diagnostic kind
  prune   - Apply the retention policy now`,
}

var ledgerQueryCmd = &cobra.Command{
	Use:   "query",
	Short: "Query ledger entries",
	Long: `Query ledger entries with filters.

Time Range Format:
  RFC3339 interval format: "start/end"
  Example: "2026-10-01T00:00:00Z/2026-10-02T00:00:00Z"

Examples:
  # Rejections by the spam predicate in the last day
  sieve ledger query --predicate spam --match=false --since 24h

  # Every verdict of one run, oldest first
  sieve ledger query --run 6f1c... --order asc --limit 1000

  # Limit breaches as CSV
  sieve ledger query --diagnostic resource_exceeded --format csv -o breaches.csv`,
	RunE: queryLedger,
}

var ledgerReportCmd = &cobra.Command{
	Use:   "report",
	Short: "Summarize ledger entries",
	Long:  `Summarize verdicts, diagnostics and latency per predicate.`,
	RunE:  reportLedger,
}

var ledgerPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete entries outside the retention policy",
	Long: `Delete entries older than ledger.retention.days and the oldest entries
beyond ledger.retention.max_entries.

Examples:
  sieve ledger prune
  sieve ledger prune --days 7 --max-entries 100000`,
	RunE: pruneLedger,
}

func init() {
	rootCmd.AddCommand(ledgerCmd)
	ledgerCmd.AddCommand(ledgerQueryCmd, ledgerReportCmd, ledgerPruneCmd)

	ledgerCmd.PersistentFlags().StringVar(&ledgerFlags.backend, "backend", "", "backend: sqlite, memory (uses config if not specified)")
	ledgerCmd.PersistentFlags().StringVar(&ledgerFlags.path, "path", "", "SQLite database path (uses config if not specified)")

	for _, cmd := range []*cobra.Command{ledgerQueryCmd, ledgerReportCmd} {
		cmd.Flags().StringVar(&ledgerFlags.timeRange, "time-range", "", "time range (RFC3339 interval: start/end)")
		cmd.Flags().DurationVar(&ledgerFlags.since, "since", 0, "only entries newer than this (e.g. 24h)")
		cmd.Flags().StringVar(&ledgerFlags.run, "run", "", "filter by run ID")
		cmd.Flags().StringVar(&ledgerFlags.predicate, "predicate", "", "filter by predicate name")
	}

	ledgerQueryCmd.Flags().StringVar(&ledgerFlags.record, "record", "", "filter by record ID")
	ledgerQueryCmd.Flags().StringVar(&ledgerFlags.match, "match", "", "filter by verdict: true, false")
	ledgerQueryCmd.Flags().StringVar(&ledgerFlags.diagnostic, "diagnostic", "", "filter by diagnostic kind")
	ledgerQueryCmd.Flags().IntVar(&ledgerFlags.limit, "limit", 0, "max results (default from config)")
	ledgerQueryCmd.Flags().IntVar(&ledgerFlags.offset, "offset", 0, "pagination offset")
	ledgerQueryCmd.Flags().StringVar(&ledgerFlags.sortBy, "sort", "", "sort field: evaluated_at, duration, predicate, record_kind")
	ledgerQueryCmd.Flags().StringVar(&ledgerFlags.order, "order", "", "sort order: asc, desc")
	ledgerQueryCmd.Flags().StringVar(&ledgerFlags.format, "format", "text", "output format: text, json, jsonl, csv")
	ledgerQueryCmd.Flags().StringVarP(&ledgerFlags.output, "output", "o", "", "output file (default: stdout)")

	ledgerPruneCmd.Flags().IntVar(&ledgerFlags.days, "days", -1, "retention in days (uses config if negative)")
	ledgerPruneCmd.Flags().Int64Var(&ledgerFlags.maxEntries, "max-entries", -1, "maximum entries kept (uses config if negative)")
}

// openLedger loads configuration and opens the configured backend.
func openLedger(cmd *cobra.Command) (*config.Config, ledger.Storage, *slog.Logger, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, nil, err
	}
	if ledgerFlags.backend != "" {
		cfg.Ledger.Backend = ledgerFlags.backend
	}
	if ledgerFlags.path != "" {
		cfg.Ledger.SQLite.Path = ledgerFlags.path
	}
	if err := finalizeConfig(cfg); err != nil {
		return nil, nil, nil, err
	}

	logger, err := logging.New(&cfg.Telemetry.Logging, cmd.ErrOrStderr())
	if err != nil {
		return nil, nil, nil, cli.NewConfigError("telemetry.logging", err.Error())
	}

	store, err := storage.Open(&cfg.Ledger, logger)
	if err != nil {
		return nil, nil, nil, cli.NewCommandError("ledger", fmt.Errorf("failed to open %s ledger: %w", cfg.Ledger.Backend, err))
	}
	return cfg, store, logger, nil
}

// buildQuery translates the filter flags.
func buildQuery() (*ledger.Query, error) {
	q := &ledger.Query{
		RunID:          ledgerFlags.run,
		RecordID:       ledgerFlags.record,
		Predicate:      ledgerFlags.predicate,
		DiagnosticKind: ledgerFlags.diagnostic,
		Limit:          ledgerFlags.limit,
		Offset:         ledgerFlags.offset,
		SortBy:         ledgerFlags.sortBy,
		SortOrder:      ledgerFlags.order,
	}

	if ledgerFlags.timeRange != "" {
		start, end, err := parseTimeRange(ledgerFlags.timeRange)
		if err != nil {
			return nil, err
		}
		q.StartTime, q.EndTime = &start, &end
	}
	if ledgerFlags.since > 0 {
		q.StartTime = ledger.Since(ledgerFlags.since)
	}
	if ledgerFlags.match != "" {
		m, err := strconv.ParseBool(ledgerFlags.match)
		if err != nil {
			return nil, fmt.Errorf("invalid --match value %q: %w", ledgerFlags.match, err)
		}
		q.Match = &m
	}
	return q, nil
}

func parseTimeRange(s string) (time.Time, time.Time, error) {
	parts := strings.Split(s, "/")
	if len(parts) != 2 {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid time range format (expected: start/end)")
	}
	start, err := time.Parse(time.RFC3339, parts[0])
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid start time: %w", err)
	}
	end, err := time.Parse(time.RFC3339, parts[1])
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid end time: %w", err)
	}
	return start, end, nil
}

func queryLedger(cmd *cobra.Command, args []string) error {
	format, err := cli.ParseFormat(ledgerFlags.format)
	if err != nil {
		return err
	}
	query, err := buildQuery()
	if err != nil {
		return err
	}

	cfg, store, _, err := openLedger(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	query.ApplyDefaults(&cfg.Ledger.Query)
	if err := query.Validate(&cfg.Ledger.Query); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(commandContext(cmd), cfg.Ledger.Query.Timeout)
	defer cancel()

	entries, err := store.Query(ctx, query)
	if err != nil {
		return cli.NewCommandError("ledger", fmt.Errorf("query failed: %w", err))
	}

	var out io.Writer = cmd.OutOrStdout()
	if ledgerFlags.output != "" {
		f, err := os.Create(ledgerFlags.output)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer f.Close()
		out = f
	}

	if format != cli.FormatText {
		exporter, err := export.New(string(format), true)
		if err != nil {
			return err
		}
		return exporter.Export(ctx, entries, out)
	}

	total, err := store.Count(ctx, query)
	if err != nil {
		return cli.NewCommandError("ledger", fmt.Errorf("count failed: %w", err))
	}
	if len(entries) == 0 {
		fmt.Fprintln(out, "No entries found.")
		return nil
	}
	if err := cli.NewFormatter(cli.FormatText).FormatTo(out, entryTable(entries)); err != nil {
		return err
	}
	fmt.Fprintf(out, "\nShowing %d of %d entries", len(entries), total)
	if int64(query.Offset+len(entries)) < total {
		fmt.Fprint(out, " (use --limit and --offset for more)")
	}
	fmt.Fprintln(out)
	return nil
}

// entryTable renders entries as text columns.
type entryTable []*ledger.Entry

func (t entryTable) Header() []string {
	return []string{"evaluated_at", "run", "record", "predicate", "match", "diagnostic", "duration"}
}

func (t entryTable) Rows() [][]string {
	rows := make([][]string, len(t))
	for i, e := range t {
		run := e.RunID
		if len(run) > 8 {
			run = run[:8]
		}
		pred := e.Predicate
		if pred == "" {
			pred = "-"
		}
		diag := e.DiagnosticKind
		if diag == "" {
			diag = "-"
		}
		rows[i] = []string{
			e.EvaluatedAt.Local().Format(time.DateTime),
			run,
			e.RecordID,
			pred,
			strconv.FormatBool(e.Match),
			diag,
			e.Duration.Round(time.Microsecond).String(),
		}
	}
	return rows
}

// predicateStats aggregates the entries of one predicate.
type predicateStats struct {
	name        string
	total       int
	matched     int
	diagnostics map[string]int
	duration    time.Duration
}

func reportLedger(cmd *cobra.Command, args []string) error {
	query, err := buildQuery()
	if err != nil {
		return err
	}

	cfg, store, _, err := openLedger(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := query.Validate(&cfg.Ledger.Query); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(commandContext(cmd), cfg.Ledger.Query.Timeout)
	defer cancel()

	entries, err := store.Query(ctx, query)
	if err != nil {
		return cli.NewCommandError("ledger", fmt.Errorf("query failed: %w", err))
	}
	return writeReport(cmd.OutOrStdout(), entries, query)
}

func writeReport(out io.Writer, entries []*ledger.Entry, query *ledger.Query) error {
	fmt.Fprintln(out, "Verdict Ledger Report")
	fmt.Fprintln(out, "=====================")
	if query.StartTime != nil {
		end := "now"
		if query.EndTime != nil {
			end = query.EndTime.Format(time.RFC3339)
		}
		fmt.Fprintf(out, "Time Range: %s to %s\n", query.StartTime.Format(time.RFC3339), end)
	}
	fmt.Fprintf(out, "Generated: %s\n", time.Now().Format(time.RFC3339))
	fmt.Fprintln(out)

	stats := map[string]*predicateStats{}
	runs := map[string]bool{}
	records := map[string]bool{}
	for _, e := range entries {
		runs[e.RunID] = true
		records[e.RunID+"/"+e.RecordID] = true

		name := e.Predicate
		if name == "" {
			name = "(none)"
		}
		s, ok := stats[name]
		if !ok {
			s = &predicateStats{name: name, diagnostics: map[string]int{}}
			stats[name] = s
		}
		s.total++
		if e.Match {
			s.matched++
		}
		if e.DiagnosticKind != "" {
			s.diagnostics[e.DiagnosticKind]++
		}
		s.duration += e.Duration
	}

	fmt.Fprintln(out, "Summary:")
	fmt.Fprintln(out, "--------")
	fmt.Fprintf(out, "Runs: %d\n", len(runs))
	fmt.Fprintf(out, "Records: %d\n", len(records))
	fmt.Fprintf(out, "Evaluations: %d\n", len(entries))
	fmt.Fprintln(out)

	if len(entries) == 0 {
		fmt.Fprintln(out, "No entries found.")
		return nil
	}

	names := make([]string, 0, len(stats))
	for name := range stats {
		names = append(names, name)
	}
	slices.Sort(names)

	fmt.Fprintln(out, "By Predicate:")
	for _, name := range names {
		s := stats[name]
		pct := float64(s.matched) / float64(s.total) * 100
		avg := (s.duration / time.Duration(s.total)).Round(time.Microsecond)
		fmt.Fprintf(out, "  %s: %d evaluations, %d accepted (%.0f%%), avg %s\n", name, s.total, s.matched, pct, avg)

		kinds := make([]string, 0, len(s.diagnostics))
		for k := range s.diagnostics {
			kinds = append(kinds, k)
		}
		slices.Sort(kinds)
		for _, k := range kinds {
			fmt.Fprintf(out, "    %s: %d\n", k, s.diagnostics[k])
		}
	}
	return nil
}

func pruneLedger(cmd *cobra.Command, args []string) error {
	cfg, store, logger, err := openLedger(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	policy := cfg.Ledger.Retention
	if ledgerFlags.days >= 0 {
		policy.Days = ledgerFlags.days
	}
	if ledgerFlags.maxEntries >= 0 {
		policy.MaxEntries = ledgerFlags.maxEntries
	}
	if policy.Days == 0 && policy.MaxEntries == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "Retention is unlimited; nothing to prune.")
		return nil
	}

	pruner := retention.NewPruner(store, policy, nil, logger)
	deleted, err := pruner.Prune(commandContext(cmd))
	if err != nil {
		return cli.NewCommandError("ledger", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Pruned %d entries.\n", deleted)
	return nil
}
