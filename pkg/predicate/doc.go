// Package predicate loads untrusted predicate modules and evaluates them
// against records under resource limits.
//
// # Architecture
//
//	Loader ──► Backend (wasm, expr) ──► Module ──► Handle
//	                                                 │
//	Record ──► boundary codec ──► Host.Evaluate ◄────┘
//	                                   │
//	                           RawResult ──► Coerce ──► Verdict
//
// A Loader detects the module format, asks the matching Backend to validate
// and compile it, and wraps the result in an opaque Handle. Validation is
// complete before a handle exists: malformed bytes, a missing entry point or
// a wrong entry signature are reported as *LoadError and nothing is leaked.
//
// The Host serializes each record with record.Marshal, invokes the module
// with a copy of those bytes under a wall-time deadline, and converts the
// raw result into a Verdict. Non-boolean results become false with a
// coercion warning. Traps and limit breaches become false with a diagnostic
// and a *EvalError.
//
// # Usage
//
//	loader := predicate.NewLoader(logger, wasm.NewBackend(ctx, wasm.DefaultConfig(), logger))
//	h, err := loader.Load(ctx, "kind-one", moduleBytes)
//	if err != nil {
//	    return err // errors.Is(err, predicate.ErrMissingEntryPoint), ...
//	}
//	defer h.Close(ctx)
//
//	host := predicate.NewHost(predicate.WithLogger(logger))
//	v, err := host.Evaluate(ctx, h, rec, predicate.DefaultLimits())
//
// # Thread Safety
//
// Host is stateless and safe for concurrent use. A Handle runs concurrent
// invocations only when its module implements Reentrant; otherwise
// invocations are serialized. Close waits for in-flight invocations.
//
// # Determinism
//
// Modules receive nothing but the record bytes. Backends expose no wall
// clock, randomness or host state, so the same handle and record always
// produce the same verdict.
package predicate
