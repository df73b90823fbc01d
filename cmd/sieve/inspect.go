package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"mercator-hq/sieve/pkg/cli"
	"mercator-hq/sieve/pkg/engine"
	"mercator-hq/sieve/pkg/registry"
)

var inspectFlags struct {
	format string
}

var inspectCmd = &cobra.Command{
	Use:   "inspect FILE...",
	Short: "Show module metadata",
	Long: `Show what a module file contains: its size and digests, the format the
loader accepted it as and, for noscript envelopes, the published metadata
and relay prefilter.

Examples:
  sieve inspect modules/spam.json
  sieve inspect --format json modules/*.wasm`,
	Args: cobra.MinimumNArgs(1),
	RunE: runInspect,
}

func init() {
	rootCmd.AddCommand(inspectCmd)

	inspectCmd.Flags().StringVar(&inspectFlags.format, "format", "text", "output format: text, json, jsonl")
}

// ModuleInfo describes one module file.
type ModuleInfo struct {
	File         string        `json:"file"`
	Name         string        `json:"name"`
	Size         int           `json:"size"`
	FileDigest   string        `json:"file_digest"`
	Format       string        `json:"format,omitempty"`
	ModuleDigest string        `json:"module_digest,omitempty"`
	Valid        bool          `json:"valid"`
	Error        string        `json:"error,omitempty"`
	Envelope     *EnvelopeInfo `json:"envelope,omitempty"`
}

// EnvelopeInfo is the metadata of a noscript envelope.
type EnvelopeInfo struct {
	Address     string     `json:"address"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Version     string     `json:"version,omitempty"`
	SourceCode  string     `json:"source_code,omitempty"`
	PublishedAt int64      `json:"published_at,omitempty"`
	Filter      bool       `json:"filter"`
	Mode        string     `json:"mode,omitempty"`
	Prefilter   [][]string `json:"prefilter,omitempty"`
}

func runInspect(cmd *cobra.Command, args []string) error {
	format, err := cli.ParseFormat(inspectFlags.format)
	if err != nil {
		return err
	}
	if format == cli.FormatCSV {
		return fmt.Errorf("csv output is not supported by inspect")
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := finalizeConfig(cfg); err != nil {
		return err
	}

	ctx := commandContext(cmd)
	s, err := openSession(ctx, cmd, cfg, engine.WithoutLedger())
	if err != nil {
		return err
	}
	defer s.Close()

	infos := make([]ModuleInfo, 0, len(args))
	for _, path := range args {
		mf, err := registry.ReadModuleFile(path, cfg.Engine.MaxModuleSize)
		if err != nil {
			return cli.NewCommandError("inspect", &registry.LoadError{Name: registry.NameOf(path), Path: path, Cause: err})
		}

		info := ModuleInfo{
			File:       path,
			Name:       mf.Name,
			Size:       len(mf.Module),
			FileDigest: mf.Digest,
			Envelope:   envelopeInfo(mf),
		}
		h, err := s.engine.Load(ctx, mf.Name, mf.Module)
		if err != nil {
			info.Error = err.Error()
		} else {
			info.Valid = true
			info.Format = string(h.Format())
			info.ModuleDigest = h.Digest()
			_ = h.Close(ctx)
		}
		infos = append(infos, info)
	}

	if format == cli.FormatText {
		return writeModuleInfo(cmd.OutOrStdout(), infos)
	}
	return cli.NewFormatter(format).FormatTo(cmd.OutOrStdout(), infos)
}

func envelopeInfo(mf *registry.ModuleFile) *EnvelopeInfo {
	sc := mf.Script
	if sc == nil {
		return nil
	}
	info := &EnvelopeInfo{
		Address:     sc.Address(),
		Title:       sc.Title,
		Description: sc.Description,
		Version:     sc.Version,
		SourceCode:  sc.SourceCode,
		PublishedAt: sc.PublishedAt,
		Filter:      sc.IsFilter,
	}
	if sc.IsFilter {
		info.Mode = sc.Mode.String()
		if sc.Filter != nil {
			info.Prefilter = sc.Filter.ToTags()
		}
	}
	return info
}

func writeModuleInfo(w io.Writer, infos []ModuleInfo) error {
	for i, info := range infos {
		if i > 0 {
			fmt.Fprintln(w)
		}
		fmt.Fprintf(w, "File: %s\n", info.File)
		fmt.Fprintf(w, "Name: %s\n", info.Name)
		fmt.Fprintf(w, "Size: %d bytes\n", info.Size)
		fmt.Fprintf(w, "File Digest: %s\n", info.FileDigest)
		if info.Valid {
			fmt.Fprintf(w, "Format: %s\n", info.Format)
			fmt.Fprintf(w, "Module Digest: %s\n", info.ModuleDigest)
			fmt.Fprintln(w, "Valid: ✓")
		} else {
			fmt.Fprintf(w, "Valid: ✗ %s\n", info.Error)
		}

		env := info.Envelope
		if env == nil {
			continue
		}
		fmt.Fprintf(w, "Envelope: %s\n", env.Address)
		fmt.Fprintf(w, "  Title: %s\n", env.Title)
		if env.Description != "" {
			fmt.Fprintf(w, "  Description: %s\n", env.Description)
		}
		if env.Version != "" {
			fmt.Fprintf(w, "  Version: %s\n", env.Version)
		}
		if env.SourceCode != "" {
			fmt.Fprintf(w, "  Source: %s\n", env.SourceCode)
		}
		if env.PublishedAt != 0 {
			fmt.Fprintf(w, "  Published: %s\n", time.Unix(env.PublishedAt, 0).UTC().Format(time.RFC3339))
		}
		if env.Filter {
			fmt.Fprintf(w, "  Mode: %s\n", env.Mode)
			for _, tag := range env.Prefilter {
				fmt.Fprintf(w, "  Prefilter: %s\n", strings.Join(tag, " "))
			}
		}
	}
	return nil
}
