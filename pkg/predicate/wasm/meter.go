package wasm

import (
	"context"

	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/experimental"
	"github.com/tetratelabs/wazero/sys"
)

// exitCodeFuelExhausted is the exit code raised when a meter runs dry.
const exitCodeFuelExhausted uint32 = 0xdeffffff

type meterKey struct{}

// meter counts guest function entries for one instance. Instances run on a
// single goroutine, so no synchronization is needed.
type meter struct {
	limit     uint64
	used      uint64
	exhausted bool
}

func withMeter(ctx context.Context, limit uint64) (context.Context, *meter) {
	m := &meter{limit: limit}
	return context.WithValue(ctx, meterKey{}, m), m
}

func meterFrom(ctx context.Context) *meter {
	m, _ := ctx.Value(meterKey{}).(*meter)
	return m
}

// meterFactory attaches the metering listener to every guest function.
type meterFactory struct{}

func (meterFactory) NewFunctionListener(api.FunctionDefinition) experimental.FunctionListener {
	return meterListener{}
}

type meterListener struct{}

// Before charges one unit and aborts the call once the budget is spent.
// wazero surfaces a panicking *sys.ExitError unchanged to the caller.
func (meterListener) Before(ctx context.Context, _ api.Module, _ api.FunctionDefinition, _ []uint64, _ experimental.StackIterator) {
	m := meterFrom(ctx)
	if m == nil || m.limit == 0 {
		return
	}
	m.used++
	if m.used > m.limit {
		m.exhausted = true
		panic(sys.NewExitError(exitCodeFuelExhausted))
	}
}

func (meterListener) After(context.Context, api.Module, api.FunctionDefinition, []uint64) {}

func (meterListener) Abort(context.Context, api.Module, api.FunctionDefinition, error) {}
