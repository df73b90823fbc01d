package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"mercator-hq/sieve/pkg/noscript"
	"mercator-hq/sieve/pkg/record"
)

const events = `{"id":"r1","author":"a","created_at":1,"kind":1,"tags":[],"content":"hello"}
{"id":"r2","author":"b","created_at":2,"kind":2,"tags":[["t","x"]],"content":"world"}
`

func resetFlags() {
	cfgFile = defaultConfigFile
	verbose = false
	applyFlags = applyOptions{input: "-", output: "-"}
	evalFlags.dialect = ""
	checkFlags.format = "text"
	checkFlags.progress = false
	inspectFlags.format = "text"
	ledgerFlags = ledgerOptions{format: "text", days: -1, maxEntries: -1}
}

// execute runs the root command with args and returns what it wrote to
// stdout.
func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	resetFlags()

	var stdout, stderr bytes.Buffer
	rootCmd.SetArgs(args)
	rootCmd.SetIn(strings.NewReader(stdin))
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stderr)
	t.Cleanup(func() {
		rootCmd.SetIn(nil)
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
	})

	err := rootCmd.ExecuteContext(context.Background())
	if t.Failed() || err != nil {
		t.Logf("stderr:\n%s", stderr.String())
	}
	return stdout.String(), err
}

// workspace holds a config file, a module directory and a ledger path.
type workspace struct {
	dir     string
	modules string
	config  string
}

func newWorkspace(t *testing.T) *workspace {
	t.Helper()
	dir := t.TempDir()
	ws := &workspace{
		dir:     dir,
		modules: filepath.Join(dir, "modules"),
		config:  filepath.Join(dir, "sieve.yaml"),
	}
	require.NoError(t, os.MkdirAll(ws.modules, 0o755))

	cfg := fmt.Sprintf(`registry:
  dir: %q
ledger:
  sqlite:
    path: %q
telemetry:
  logging:
    level: error
`, ws.modules, filepath.Join(dir, "ledger.db"))
	require.NoError(t, os.WriteFile(ws.config, []byte(cfg), 0o644))
	return ws
}

func (ws *workspace) module(t *testing.T, name string, content []byte) string {
	t.Helper()
	path := filepath.Join(ws.modules, name)
	require.NoError(t, os.WriteFile(path, content, 0o644))
	return path
}

func (ws *workspace) file(t *testing.T, name string, content []byte) string {
	t.Helper()
	path := filepath.Join(ws.dir, name)
	require.NoError(t, os.WriteFile(path, content, 0o644))
	return path
}

func expression(expr string) []byte {
	return []byte(fmt.Sprintf("name: test\nexports:\n  is_valid_event: %q\n", expr))
}

func envelopeFile(t *testing.T, id string, module []byte) []byte {
	t.Helper()
	rec, err := noscript.Encode(&noscript.Script{
		Identifier:  id,
		Description: "test envelope",
		Author:      "alice",
		Module:      module,
		IsFilter:    true,
		Mode:        noscript.ModeGlobal,
	})
	require.NoError(t, err)
	data, err := record.Marshal(rec)
	require.NoError(t, err)
	return data
}

func TestLoadConfig_DefaultFileOptional(t *testing.T) {
	resetFlags()
	cfgFile = defaultConfigFile

	cfg, err := loadConfig()
	require.NoError(t, err)
	require.Equal(t, "all", cfg.Pipeline.Combine)

	cfgFile = filepath.Join(t.TempDir(), "missing.yaml")
	_, err = loadConfig()
	require.Error(t, err, "an explicit config file must exist")
}

func TestLoadConfig_Verbose(t *testing.T) {
	resetFlags()
	verbose = true

	cfg, err := loadConfig()
	require.NoError(t, err)
	require.Equal(t, "debug", cfg.Telemetry.Logging.Level)
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "", "version")
	require.NoError(t, err)
	require.Contains(t, out, "Sieve "+Version)
	require.Contains(t, out, "Go Version:")
}

func TestCompletionCommand(t *testing.T) {
	for _, shell := range []string{"bash", "zsh", "fish", "powershell"} {
		t.Run(shell, func(t *testing.T) {
			out, err := execute(t, "", "completion", shell)
			require.NoError(t, err)
			require.Contains(t, out, "sieve")
		})
	}

	_, err := execute(t, "", "completion", "tcsh")
	require.Error(t, err)
}
