// Package logging builds the structured logger used across Sieve.
//
// New returns a plain *slog.Logger so packages take and pass the standard
// type. Two things are layered on the handler:
//
//   - Context fields. run_id, predicate and record_id stored with WithRunID,
//     WithPredicate and WithRecordID are added to every record logged
//     through a *Context method.
//   - Secret redaction. Bearer tokens, credentials embedded in URLs, git
//     host tokens and nostr secret keys are masked, as are values of
//     attributes whose key names a secret.
//
// Usage:
//
//	logger, err := logging.New(&cfg.Telemetry.Logging, os.Stderr)
//	ctx = logging.WithRunID(ctx, runID)
//	logger.InfoContext(ctx, "pipeline started", "predicates", 3)
package logging
