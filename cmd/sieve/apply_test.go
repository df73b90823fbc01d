package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mercator-hq/sieve/internal/wasmtest"
	"mercator-hq/sieve/pkg/cli"
	"mercator-hq/sieve/pkg/record"
)

func lines(s string) []string {
	var out []string
	sc := bufio.NewScanner(strings.NewReader(s))
	for sc.Scan() {
		if sc.Text() != "" {
			out = append(out, sc.Text())
		}
	}
	return out
}

func TestApply_NamedModule(t *testing.T) {
	ws := newWorkspace(t)
	ws.module(t, "kind_one.yaml", expression("record.kind == 1"))

	out, err := execute(t, events, "apply", "-c", ws.config, "kind_one")
	require.NoError(t, err)

	got := lines(out)
	require.Len(t, got, 1)
	rec, err := record.Decode([]byte(got[0]), record.DialectBoundary)
	require.NoError(t, err)
	assert.Equal(t, "r1", rec.ID)
}

func TestApply_AllRegistryModules(t *testing.T) {
	ws := newWorkspace(t)
	ws.module(t, "kind_one.yaml", expression("record.kind == 1"))
	ws.module(t, "always.wasm", wasmtest.Constant(1))

	out, err := execute(t, events, "apply", "-c", ws.config)
	require.NoError(t, err)
	assert.Len(t, lines(out), 1)

	out, err = execute(t, events, "apply", "-c", ws.config, "--combine", "any", "--workers", "2")
	require.NoError(t, err)
	assert.Len(t, lines(out), 2, "the constant module accepts everything")
}

func TestApply_EmptyRegistry(t *testing.T) {
	ws := newWorkspace(t)

	_, err := execute(t, events, "apply", "-c", ws.config)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no modules")
}

func TestApply_ResultsWithDiagnostics(t *testing.T) {
	ws := newWorkspace(t)
	never := ws.file(t, "never.wasm", wasmtest.Constant(0))
	trap := ws.file(t, "trap.wasm", wasmtest.Trap())

	out, err := execute(t, events, "apply", "-c", ws.config, "--results", "--combine", "any", never, trap)
	require.NoError(t, err)

	got := lines(out)
	require.Len(t, got, 2)
	for i, line := range got {
		var res resultLine
		require.NoError(t, json.Unmarshal([]byte(line), &res))
		assert.Equal(t, []string{"r1", "r2"}[i], res.ID)
		assert.False(t, res.Match)
		require.Len(t, res.Evaluations, 2)
		assert.Equal(t, "never", res.Evaluations[0].Predicate)
		assert.Equal(t, "trap", res.Evaluations[1].Predicate)
		assert.NotEmpty(t, res.Evaluations[1].Error)
		require.NotEmpty(t, res.Diagnostics)
		assert.Equal(t, "execution_trap", string(res.Diagnostics[len(res.Diagnostics)-1].Kind))
	}
}

func TestApply_FilesAndNostrDialect(t *testing.T) {
	ws := newWorkspace(t)
	kind := ws.file(t, "kind.yaml", expression("record.kind == 2"))
	input := ws.file(t, "events.jsonl", []byte(`{"id":"n1","pubkey":"p","created_at":1,"kind":1,"tags":[],"content":"","sig":"s"}
{"id":"n2","pubkey":"p","created_at":1,"kind":2,"tags":[],"content":"","sig":"s"}
`))
	output := filepath.Join(ws.dir, "kept.jsonl")

	_, err := execute(t, "", "apply", "-c", ws.config, "--dialect", "nostr", "-i", input, "-o", output, kind)
	require.NoError(t, err)

	data, err := os.ReadFile(output)
	require.NoError(t, err)
	got := lines(string(data))
	require.Len(t, got, 1)
	assert.Contains(t, got[0], `"pubkey":"p"`)
	assert.Contains(t, got[0], `"id":"n2"`)
}

func TestApply_Errors(t *testing.T) {
	ws := newWorkspace(t)
	always := ws.file(t, "always.wasm", wasmtest.Constant(1))

	tests := []struct {
		name  string
		stdin string
		args  []string
	}{
		{"unknown module", events, []string{"nope"}},
		{"malformed module", events, []string{ws.file(t, "bad.wasm", []byte("\x00asm garbage"))}},
		{"bad combine", events, []string{"--combine", "most", always}},
		{"bad dialect", events, []string{"--dialect", "xml", always}},
		{"invalid record", "{\"id\":1}\n", []string{always}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := append([]string{"apply", "-c", ws.config}, tt.args...)
			_, err := execute(t, tt.stdin, args...)
			require.Error(t, err)

			var cmdErr *cli.CommandError
			var cfgErr *cli.ConfigError
			assert.True(t, errors.As(err, &cmdErr) || errors.As(err, &cfgErr), "unexpected error type %T", err)
		})
	}
}

func TestApply_InvalidRecordReportsLine(t *testing.T) {
	ws := newWorkspace(t)
	always := ws.file(t, "always.wasm", wasmtest.Constant(1))

	stdin := events + "not json\n"
	out, err := execute(t, stdin, "apply", "-c", ws.config, always)
	require.Error(t, err)

	var lineErr *record.LineError
	require.ErrorAs(t, err, &lineErr)
	assert.Equal(t, 3, lineErr.Line)
	assert.Len(t, lines(out), 2, "records before the bad line are still written")
}
