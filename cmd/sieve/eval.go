package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"mercator-hq/sieve/pkg/cli"
	"mercator-hq/sieve/pkg/engine"
	"mercator-hq/sieve/pkg/predicate"
	"mercator-hq/sieve/pkg/record"
)

// Exit codes of eval, in the manner of grep.
const (
	evalExitRejected = 1
	evalExitFailed   = 2
)

var evalFlags struct {
	dialect string
}

var evalCmd = &cobra.Command{
	Use:   "eval MODULE [RECORD]",
	Short: "Evaluate one predicate against one record",
	Long: `Evaluate a single predicate against a single record and print the verdict.

MODULE is a registry module name or a module file. RECORD is a JSON
document; when omitted it is read from stdin and may span several lines.

The exit status is 0 when the record is accepted, 1 when it is rejected and
2 when the predicate trapped or exceeded a limit.

Examples:
  sieve eval kind_filter.yaml '{"id":"1","author":"a","created_at":0,"kind":1,"tags":[],"content":""}'
  sieve eval --dialect nostr spam < event.json`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runEval,
}

func init() {
	rootCmd.AddCommand(evalCmd)

	evalCmd.Flags().StringVar(&evalFlags.dialect, "dialect", "", "record dialect: boundary, nostr (default from config)")
}

// evalResult is the printed verdict.
type evalResult struct {
	Predicate  string                `json:"predicate"`
	Digest     string                `json:"digest"`
	Record     string                `json:"record"`
	Match      bool                  `json:"match"`
	Diagnostic *predicate.Diagnostic `json:"diagnostic,omitempty"`
	Error      string                `json:"error,omitempty"`
}

func runEval(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if evalFlags.dialect != "" {
		cfg.Pipeline.Dialect = evalFlags.dialect
	}
	if err := finalizeConfig(cfg); err != nil {
		return err
	}
	dialect, err := record.ParseDialect(cfg.Pipeline.Dialect)
	if err != nil {
		return cli.NewConfigError("pipeline.dialect", err.Error())
	}

	var data []byte
	if len(args) == 2 {
		data = []byte(args[1])
	} else if data, err = io.ReadAll(cmd.InOrStdin()); err != nil {
		return cli.NewCommandError("eval", fmt.Errorf("read record: %w", err))
	}
	rec, err := record.Decode(data, dialect)
	if err != nil {
		return cli.NewCommandError("eval", err)
	}

	ctx := commandContext(cmd)
	s, err := openSession(ctx, cmd, cfg, engine.WithoutLedger())
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.loadRegistry(ctx, args[:1]); err != nil {
		return cli.NewCommandError("eval", err)
	}
	handles, err := s.engine.Resolve(ctx, args[:1])
	if err != nil {
		return cli.NewCommandError("eval", err)
	}
	h := handles[0]

	v, evalErr := s.engine.Evaluate(ctx, h, rec)
	res := evalResult{
		Predicate:  h.Name(),
		Digest:     h.Digest(),
		Record:     rec.ID,
		Match:      v.Match,
		Diagnostic: v.Diagnostic,
	}
	if evalErr != nil {
		res.Error = evalErr.Error()
	}

	if err := cli.NewFormatter(cli.FormatJSON).FormatTo(cmd.OutOrStdout(), res); err != nil {
		return err
	}
	switch {
	case evalErr != nil:
		return &cli.ExitError{Code: evalExitFailed}
	case !v.Match:
		return &cli.ExitError{Code: evalExitRejected}
	}
	return nil
}
