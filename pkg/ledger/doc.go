// Package ledger keeps an audit trail of predicate verdicts.
//
// Every record a pipeline run evaluates produces one Entry per predicate
// actually invoked: which run it belonged to, which record and module
// digest were involved, the verdict and any diagnostic attached to it.
// Records rejected before any predicate ran produce a single entry with an
// empty Predicate.
//
// # Architecture
//
//   - storage: Storage backends (memory, sqlite)
//   - recorder: asynchronous pipeline reporter that writes entries
//   - retention: age and count based pruning on a cron schedule
//   - export: JSON and CSV writers for query results
//
// # Usage
//
//	store, err := storage.Open(&cfg.Ledger, logger)
//	if err != nil {
//	    return err
//	}
//	rec := recorder.New(store, &cfg.Ledger.Recorder, recorder.WithMetrics(tel.Metrics()))
//	defer rec.Close()
//
//	p := pipeline.New(host, pipeline.WithReporter(rec))
//
// Entries are queried with a Query; zero-valued fields do not filter:
//
//	match := false
//	q := &ledger.Query{RunID: runID, Match: &match}
//	entries, err := store.Query(ctx, q)
package ledger
