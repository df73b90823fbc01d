package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"mercator-hq/sieve/pkg/cli"
	"mercator-hq/sieve/pkg/pipeline"
	"mercator-hq/sieve/pkg/predicate"
	"mercator-hq/sieve/pkg/record"
)

type applyOptions struct {
	input       string
	output      string
	combine     string
	workers     int
	dialect     string
	modulesDir  string
	results     bool
	ledger      bool
	metricsAddr string
}

var applyFlags applyOptions

var applyCmd = &cobra.Command{
	Use:   "apply [module...]",
	Short: "Filter a record stream through predicates",
	Long: `Filter JSON Lines records through one or more predicates.

Each argument is a registry module name or a path to a module file. With no
arguments every module in the registry directory is applied, in name order.

By default only accepted records are written, unchanged and in input order.
With --results every record produces a result line with the combined
verdict, the predicates that ran and any diagnostics.

A predicate that traps, exceeds a limit or returns a non-boolean value
rejects the record; the stream always continues.

Examples:
  # Keep records that every registry module accepts
  sieve apply < events.jsonl > kept.jsonl

  # Keep records that either predicate accepts
  sieve apply --combine any spam.wasm kind_filter.yaml -i events.jsonl

  # Evaluate relay events on four workers and record verdicts
  sieve apply --dialect nostr --workers 4 --ledger spam < events.jsonl

  # Show per-record verdicts and diagnostics
  sieve apply --results spam.wasm < events.jsonl`,
	RunE: runApply,
}

func init() {
	rootCmd.AddCommand(applyCmd)

	applyCmd.Flags().StringVarP(&applyFlags.input, "input", "i", "-", "input file (- for stdin)")
	applyCmd.Flags().StringVarP(&applyFlags.output, "output", "o", "-", "output file (- for stdout)")
	applyCmd.Flags().StringVar(&applyFlags.combine, "combine", "", "combine mode: all, any (default from config)")
	applyCmd.Flags().IntVar(&applyFlags.workers, "workers", 0, "records evaluated concurrently (default from config)")
	applyCmd.Flags().StringVar(&applyFlags.dialect, "dialect", "", "record dialect: boundary, nostr (default from config)")
	applyCmd.Flags().StringVar(&applyFlags.modulesDir, "modules", "", "registry directory (default from config)")
	applyCmd.Flags().BoolVar(&applyFlags.results, "results", false, "write a result line for every record")
	applyCmd.Flags().BoolVar(&applyFlags.ledger, "ledger", false, "record verdicts in the ledger")
	applyCmd.Flags().StringVar(&applyFlags.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address while running")
}

// resultLine is the --results output for one record.
type resultLine struct {
	ID          string                 `json:"id"`
	Match       bool                   `json:"match"`
	Evaluations []evaluationLine       `json:"evaluations"`
	Diagnostics []predicate.Diagnostic `json:"diagnostics,omitempty"`
}

type evaluationLine struct {
	Predicate  string `json:"predicate"`
	Match      bool   `json:"match"`
	DurationNS int64  `json:"duration_ns"`
	Error      string `json:"error,omitempty"`
}

func newResultLine(rec record.Record, res pipeline.Result) resultLine {
	line := resultLine{
		ID:          rec.ID,
		Match:       res.Match,
		Evaluations: make([]evaluationLine, 0, len(res.Evaluations)),
		Diagnostics: res.Diagnostics,
	}
	for _, ev := range res.Evaluations {
		el := evaluationLine{
			Predicate:  ev.Predicate,
			Match:      ev.Verdict.Match,
			DurationNS: ev.Duration.Nanoseconds(),
		}
		if ev.Err != nil {
			el.Error = ev.Err.Error()
		}
		line.Evaluations = append(line.Evaluations, el)
	}
	return line
}

func runApply(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	// Apply flag overrides
	if applyFlags.combine != "" {
		cfg.Pipeline.Combine = applyFlags.combine
	}
	if applyFlags.workers > 0 {
		cfg.Pipeline.Workers = applyFlags.workers
	}
	if applyFlags.dialect != "" {
		cfg.Pipeline.Dialect = applyFlags.dialect
	}
	if applyFlags.modulesDir != "" {
		cfg.Registry.Dir = applyFlags.modulesDir
		cfg.Registry.Git.Enabled = false
	}
	if applyFlags.ledger {
		cfg.Ledger.Enabled = true
	}
	if applyFlags.metricsAddr != "" {
		cfg.Telemetry.Metrics.ListenAddress = applyFlags.metricsAddr
	}
	if err := finalizeConfig(cfg); err != nil {
		return err
	}

	dialect, err := record.ParseDialect(cfg.Pipeline.Dialect)
	if err != nil {
		return cli.NewConfigError("pipeline.dialect", err.Error())
	}

	ctx, stop := cli.SetupSignalHandler(commandContext(cmd))
	defer stop()

	s, err := openSession(ctx, cmd, cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.loadRegistry(ctx, args); err != nil {
		return cli.NewCommandError("apply", err)
	}
	refs := args
	if len(refs) == 0 {
		refs = s.engine.Registry().Names()
		if len(refs) == 0 {
			return cli.NewCommandError("apply", fmt.Errorf("no modules in %s", s.engine.Registry().Dir()))
		}
	}
	handles, err := s.engine.Resolve(ctx, refs)
	if err != nil {
		return cli.NewCommandError("apply", err)
	}

	in, closeIn, err := openInput(cmd, applyFlags.input)
	if err != nil {
		return cli.NewCommandError("apply", err)
	}
	defer closeIn()

	out, closeOut, err := openOutput(cmd, applyFlags.output)
	if err != nil {
		return cli.NewCommandError("apply", err)
	}
	defer closeOut()

	s.serveMetrics(ctx)

	reader := record.NewReader(in, dialect)
	w := bufio.NewWriter(out)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)

	var writeErr error
	for rec, res := range s.engine.Apply(ctx, reader.All(), handles, s.engine.Combine()) {
		if applyFlags.results {
			writeErr = enc.Encode(newResultLine(rec, res))
		} else if res.Match {
			writeErr = writeRecord(w, rec, dialect)
		}
		if writeErr != nil {
			break
		}
	}

	if err := errors.Join(writeErr, w.Flush()); err != nil {
		return cli.NewCommandError("apply", fmt.Errorf("write output: %w", err))
	}
	if err := reader.Err(); err != nil {
		return cli.NewCommandError("apply", err)
	}
	if err := ctx.Err(); err != nil {
		return cli.NewCommandError("apply", fmt.Errorf("interrupted: %w", err))
	}
	return nil
}

func writeRecord(w *bufio.Writer, rec record.Record, dialect record.Dialect) error {
	data, err := record.Encode(rec, dialect)
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return err
	}
	return w.WriteByte('\n')
}

func openInput(cmd *cobra.Command, path string) (io.Reader, func(), error) {
	if path == "" || path == "-" {
		return cmd.InOrStdin(), func() {}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open input: %w", err)
	}
	return f, func() { f.Close() }, nil
}

func openOutput(cmd *cobra.Command, path string) (io.Writer, func(), error) {
	if path == "" || path == "-" {
		return cmd.OutOrStdout(), func() {}, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create output file: %w", err)
	}
	return f, func() { f.Close() }, nil
}
