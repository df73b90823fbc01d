package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"mercator-hq/sieve/pkg/cli"
	"mercator-hq/sieve/pkg/engine"
	"mercator-hq/sieve/pkg/predicate"
	"mercator-hq/sieve/pkg/registry"
)

var checkFlags struct {
	format   string
	progress bool
}

var checkCmd = &cobra.Command{
	Use:   "check [path...]",
	Short: "Validate predicate modules",
	Long: `Load predicate modules and report the ones that fail to load.

Each path is a module file or a directory scanned like the registry. With no
arguments the registry directory is checked. A module is valid when it
decodes, exposes the entry point with the expected signature and completes
its initialization exports.

Failure kinds:
  malformed            not a decodable module, or initialization trapped
  missing_entry_point  a required export is absent
  signature_mismatch   the entry point has the wrong type
  too_large            the file exceeds engine.max_module_size
  unreadable           the file could not be read

The exit status is 1 when any module is invalid.

Examples:
  sieve check
  sieve check modules/ extra/spam.wasm
  sieve check --format json modules/`,
	RunE: runCheck,
}

func init() {
	rootCmd.AddCommand(checkCmd)

	checkCmd.Flags().StringVar(&checkFlags.format, "format", "text", "output format: text, json, jsonl, csv")
	checkCmd.Flags().BoolVar(&checkFlags.progress, "progress", false, "show progress on stderr")
}

// CheckResult is the outcome of loading one module file.
type CheckResult struct {
	File   string `json:"file"`
	Name   string `json:"name"`
	Valid  bool   `json:"valid"`
	Format string `json:"format,omitempty"`
	Digest string `json:"digest,omitempty"`
	Kind   string `json:"kind,omitempty"`
	Error  string `json:"error,omitempty"`
}

// CheckResults renders as a table.
type CheckResults []CheckResult

// Header implements cli.Tabular.
func (r CheckResults) Header() []string {
	return []string{"file", "name", "valid", "format", "kind", "error"}
}

// Rows implements cli.Tabular.
func (r CheckResults) Rows() [][]string {
	rows := make([][]string, len(r))
	for i, c := range r {
		rows[i] = []string{c.File, c.Name, strconv.FormatBool(c.Valid), c.Format, c.Kind, c.Error}
	}
	return rows
}

func runCheck(cmd *cobra.Command, args []string) error {
	format, err := cli.ParseFormat(checkFlags.format)
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := finalizeConfig(cfg); err != nil {
		return err
	}

	paths := args
	if len(paths) == 0 {
		paths = []string{cfg.Registry.Dir}
	}
	files, err := expandPaths(paths, cfg.Registry.Extensions, cfg.Registry.SkipHidden)
	if err != nil {
		return cli.NewCommandError("check", err)
	}
	if len(files) == 0 {
		return cli.NewCommandError("check", errors.New("no module files found"))
	}

	ctx := commandContext(cmd)
	s, err := openSession(ctx, cmd, cfg, engine.WithoutLedger())
	if err != nil {
		return err
	}
	defer s.Close()

	var progress cli.ProgressReporter = cli.NopProgress{}
	if checkFlags.progress {
		progress = cli.NewProgressReporter(cmd.ErrOrStderr(), "modules")
	}
	progress.Start(int64(len(files)))

	results := make(CheckResults, 0, len(files))
	invalid := 0
	for i, file := range files {
		res := CheckResult{File: file, Name: registry.NameOf(file), Valid: true}

		h, err := s.engine.LoadFile(ctx, file)
		if err != nil {
			res.Valid = false
			res.Kind = failureKind(err)
			res.Error = err.Error()
			invalid++
		} else {
			res.Format = string(h.Format())
			res.Digest = h.Digest()
			_ = h.Close(ctx)
		}
		results = append(results, res)
		progress.Update(int64(i + 1))
	}
	progress.Finish()

	if err := cli.NewFormatter(format).FormatTo(cmd.OutOrStdout(), results); err != nil {
		return err
	}
	if invalid > 0 {
		s.logger.Debug("invalid modules", "count", invalid, "checked", len(files))
		return &cli.ExitError{Code: 1}
	}
	return nil
}

// expandPaths replaces directories with the module files under them.
func expandPaths(paths, extensions []string, skipHidden bool) ([]string, error) {
	var files []string
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			files = append(files, p)
			continue
		}
		found, err := registry.ScanDir(p, extensions, skipHidden)
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", p, err)
		}
		files = append(files, found...)
	}
	return files, nil
}

func failureKind(err error) string {
	switch {
	case errors.Is(err, predicate.ErrMissingEntryPoint):
		return "missing_entry_point"
	case errors.Is(err, predicate.ErrSignatureMismatch):
		return "signature_mismatch"
	case errors.Is(err, predicate.ErrMalformedModule):
		return "malformed"
	case errors.Is(err, registry.ErrModuleTooLarge):
		return "too_large"
	default:
		return "unreadable"
	}
}
