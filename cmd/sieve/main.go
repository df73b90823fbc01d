// Sieve filters streams of events through sandboxed predicate modules.
//
// Predicates are WebAssembly modules, CEL expression manifests or noscript
// envelopes. Each record is evaluated under instruction, memory and wall
// time limits, and a trapping or runaway predicate rejects the record
// instead of stopping the stream.
//
// Usage:
//
//	# Keep the events every module in ./modules accepts
//	sieve apply < events.jsonl
//
//	# Keep the events accepted by either of two predicates
//	sieve apply --combine any spam.wasm kind_filter.yaml < events.jsonl
//
//	# Validate every module in a directory
//	sieve check modules/
//
//	# Evaluate one record
//	sieve eval spam.wasm '{"id":"1","author":"a","created_at":0,"kind":1,"tags":[],"content":"hi"}'
//
//	# Query recorded verdicts
//	sieve ledger query --predicate spam --match=false --since 24h
package main

func main() {
	Execute()
}
