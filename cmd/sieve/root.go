package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"mercator-hq/sieve/pkg/cli"
)

const defaultConfigFile = "sieve.yaml"

var (
	// Global flags
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "sieve",
	Short: "Sieve - sandboxed predicate filters for event streams",
	Long: `Sieve evaluates untrusted predicate modules against streams of events.

Predicates are compiled WebAssembly modules, CEL expression manifests or
noscript envelopes carrying either. Every evaluation runs under instruction,
memory and wall-time limits; a predicate that traps or exceeds a limit
rejects the record and the stream continues.

Records are read as JSON Lines in the boundary or nostr dialect.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		var exitErr *cli.ExitError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.Code)
		}
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	// Global persistent flags (available to all subcommands)
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", defaultConfigFile, "config file path (skipped when the default is absent)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
}
