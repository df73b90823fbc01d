package predicate

import (
	"context"
	"fmt"
	"sync"

	"mercator-hq/sieve/pkg/filter"
	"mercator-hq/sieve/pkg/record"
)

// Format identifies the backend that compiled a module.
type Format string

const (
	// FormatWASM is a WebAssembly binary run in a wazero sandbox.
	FormatWASM Format = "wasm"

	// FormatExpr is an expression manifest run in the CEL interpreter.
	FormatExpr Format = "expr"

	// FormatNative is trusted Go code wrapped with Func.
	FormatNative Format = "native"
)

// Module is a compiled predicate as seen by the host. Invoke receives the
// boundary representation of one record and returns the module's raw result.
//
// Invoke must not retain payload or any reference into module memory after
// it returns. Errors should be *EvalError; anything else is reported as an
// execution trap.
type Module interface {
	Invoke(ctx context.Context, payload []byte, limits Limits) (RawResult, error)
	Close(ctx context.Context) error
}

// Reentrant is implemented by modules whose Invoke may run concurrently.
// Handles serialize invocations of every other module.
type Reentrant interface {
	Reentrant() bool
}

// Handle is an opaque reference to a loaded module. The zero value is not
// usable; handles come from Loader.Load or NewHandle.
type Handle struct {
	name      string
	format    Format
	digest    string
	module    Module
	reentrant bool
	prefilter *filter.Filter

	// mu is held shared by reentrant invocations, exclusively by
	// non-reentrant invocations and by Close.
	mu     sync.RWMutex
	closed bool
}

// NewHandle wraps a module compiled outside the loader.
func NewHandle(name string, format Format, digest string, m Module) *Handle {
	h := &Handle{
		name:   name,
		format: format,
		digest: digest,
		module: m,
	}
	if r, ok := m.(Reentrant); ok {
		h.reentrant = r.Reentrant()
	}
	return h
}

// Name returns the name the module was loaded under.
func (h *Handle) Name() string { return h.name }

// Format returns the backend format.
func (h *Handle) Format() Format { return h.format }

// Digest returns the hex SHA-256 of the module bytes.
func (h *Handle) Digest() string { return h.digest }

// SetPrefilter attaches a filter that a record must match before the module
// is invoked for it. Records it rejects get a false verdict with a
// prefilter_rejected diagnostic. Call it before the handle is shared.
func (h *Handle) SetPrefilter(f *filter.Filter) { h.prefilter = f }

// Prefilter returns the attached filter, or nil.
func (h *Handle) Prefilter() *filter.Filter { return h.prefilter }

// String implements fmt.Stringer.
func (h *Handle) String() string {
	d := h.digest
	if len(d) > 12 {
		d = d[:12]
	}
	return fmt.Sprintf("%s(%s@%s)", h.name, h.format, d)
}

// acquire takes the handle for one invocation: shared for reentrant
// modules, exclusive otherwise. The returned func releases it.
func (h *Handle) acquire() (func(), error) {
	unlock := h.mu.Unlock
	if h.reentrant {
		h.mu.RLock()
		unlock = h.mu.RUnlock
	} else {
		h.mu.Lock()
	}
	if h.closed {
		unlock()
		return nil, ErrHandleClosed
	}
	return unlock, nil
}

// Close releases the module's sandbox resources. It waits for in-flight
// invocations and is safe to call more than once.
func (h *Handle) Close(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	return h.module.Close(ctx)
}

// Closed reports whether Close has been called.
func (h *Handle) Closed() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.closed
}

// Func adapts a Go function into a Module. Limits other than the wall-time
// deadline carried by ctx are not enforced.
type Func func(ctx context.Context, payload []byte) (RawResult, error)

// Invoke calls f.
func (f Func) Invoke(ctx context.Context, payload []byte, _ Limits) (RawResult, error) {
	return f(ctx, payload)
}

// Close is a no-op.
func (f Func) Close(context.Context) error { return nil }

// RecordFunc returns a Func that decodes the payload and applies fn.
func RecordFunc(fn func(record.Record) bool) Func {
	return func(_ context.Context, payload []byte) (RawResult, error) {
		r, err := record.Unmarshal(payload)
		if err != nil {
			return RawResult{}, Trap("decode payload", err)
		}
		return BoolResult(fn(r)), nil
	}
}
