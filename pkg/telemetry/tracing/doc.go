// Package tracing sets up OpenTelemetry tracing for Sieve.
//
// A pipeline run produces one "sieve.apply" span, and every predicate
// invocation a "predicate.evaluate" child carrying the predicate name,
// module digest, record id and outcome. Spans are exported over OTLP gRPC.
//
//	telemetry:
//	  tracing:
//	    enabled: true
//	    endpoint: localhost:4317
//	    sampler: ratio
//	    sample_ratio: 0.1
//	    otlp:
//	      insecure: true
//
// When tracing is disabled New returns a no-op tracer.
package tracing
