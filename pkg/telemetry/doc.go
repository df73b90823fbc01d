// Package telemetry bundles Sieve's logging, metrics and tracing.
//
//   - logging: slog logger with context fields and secret redaction
//   - metrics: Prometheus collector fed by the host, pipeline, registry and ledger
//   - tracing: OpenTelemetry spans per run and per predicate invocation
//
// Usage:
//
//	tel, err := telemetry.New(&cfg.Telemetry, os.Stderr)
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
//	logger := tel.Logger()
//	host := predicate.NewHost(
//	    predicate.WithLogger(logger),
//	    predicate.WithObserver(tel.Metrics()),
//	    predicate.WithTracer(tel.Tracer().Tracer()),
//	)
package telemetry
