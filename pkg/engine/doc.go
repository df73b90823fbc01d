// Package engine assembles a complete Sieve instance from configuration.
//
// An Engine owns the module loader (WebAssembly and expression backends),
// the evaluation host, the module registry, the filter pipeline and, when
// enabled, the verdict ledger. It is the entry point used by the CLI and
// the simplest way to embed Sieve:
//
//	eng, err := engine.New(ctx, cfg, engine.WithTelemetry(tel))
//	if err != nil {
//	    return err
//	}
//	defer eng.Close(context.Background())
//
//	h, err := eng.LoadFile(ctx, "modules/kind_filter.wasm")
//	if err != nil {
//	    return err // *predicate.LoadError
//	}
//	for rec, res := range eng.Apply(ctx, records, []*predicate.Handle{h}, pipeline.All) {
//	    ...
//	}
//
// Handles returned by Load and LoadFile belong to the caller until Close,
// which releases whatever is still open. Handles resolved from the registry
// belong to the registry.
package engine
