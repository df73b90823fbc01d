package main

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mercator-hq/sieve/internal/wasmtest"
	"mercator-hq/sieve/pkg/cli"
)

func TestCheck_ReportsFailureKinds(t *testing.T) {
	ws := newWorkspace(t)
	ws.module(t, "good.wasm", wasmtest.Constant(1))
	ws.module(t, "expr.yaml", expression("record.kind > 0"))
	ws.module(t, "no_entry.wasm", wasmtest.MissingEntryPoint())
	ws.module(t, "bad_sig.wasm", wasmtest.WrongSignature())
	ws.module(t, "junk.wasm", []byte("not a module"))
	ws.module(t, "bad_init.wasm", wasmtest.WithInit(wasmtest.Op(wasmtest.OpUnreachable)))

	out, err := execute(t, "", "check", "-c", ws.config, "--format", "json")
	var exitErr *cli.ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, 1, exitErr.Code)

	var results CheckResults
	require.NoError(t, json.Unmarshal([]byte(out), &results))
	require.Len(t, results, 6)

	got := map[string]CheckResult{}
	for _, r := range results {
		got[r.Name] = r
	}
	assert.True(t, got["good"].Valid)
	assert.Equal(t, "wasm", got["good"].Format)
	assert.True(t, got["expr"].Valid)
	assert.Equal(t, "missing_entry_point", got["no_entry"].Kind)
	assert.Equal(t, "signature_mismatch", got["bad_sig"].Kind)
	assert.Equal(t, "malformed", got["junk"].Kind)
	assert.Equal(t, "malformed", got["bad_init"].Kind)
}

func TestCheck_FilesAndText(t *testing.T) {
	ws := newWorkspace(t)
	good := ws.file(t, "good.wasm", wasmtest.Constant(1))

	out, err := execute(t, "", "check", "-c", ws.config, good)
	require.NoError(t, err)
	assert.Contains(t, out, "FILE")
	assert.Contains(t, out, good)
	assert.Contains(t, out, "true")
}

func TestCheck_CSV(t *testing.T) {
	ws := newWorkspace(t)
	ws.module(t, "good.wasm", wasmtest.Constant(1))

	out, err := execute(t, "", "check", "-c", ws.config, "--format", "csv", ws.modules)
	require.NoError(t, err)
	assert.Equal(t, "file,name,valid,format,kind,error", lines(out)[0])
	assert.Contains(t, lines(out)[1], filepath.Join(ws.modules, "good.wasm")+",good,true,wasm")
}

func TestCheck_NoModules(t *testing.T) {
	ws := newWorkspace(t)

	_, err := execute(t, "", "check", "-c", ws.config)
	require.Error(t, err)

	_, err = execute(t, "", "check", "-c", ws.config, filepath.Join(ws.dir, "missing"))
	require.Error(t, err)

	_, err = execute(t, "", "check", "-c", ws.config, "--format", "xml")
	require.Error(t, err)
}

func TestFailureKind(t *testing.T) {
	assert.Equal(t, "unreadable", failureKind(assert.AnError))
}
