// Package config loads and validates Sieve configuration.
//
// Configuration is read from YAML and layered in this order, later layers
// overriding earlier ones:
//
//  1. Default values (see Default and the Default* constants)
//  2. The YAML file
//  3. Environment variables named SIEVE_SECTION_FIELD
//  4. Validation, which reports every invalid field at once
//
// For example SIEVE_PIPELINE_WORKERS overrides pipeline.workers and
// SIEVE_ENGINE_LIMITS_MAX_WALL_TIME overrides engine.limits.max_wall_time.
//
// A minimal file:
//
//	engine:
//	  limits:
//	    max_instructions: 500000
//	    max_wall_time: 100ms
//
//	registry:
//	  dir: ./modules
//	  watch: true
//
//	pipeline:
//	  combine: all
//	  workers: 4
//	  prefilter:
//	    kinds: [1]
//
//	ledger:
//	  enabled: true
//	  backend: sqlite
//
// Commands install a process-wide Config with Initialize or SetConfig.
// Library code takes a *Config explicitly.
package config
