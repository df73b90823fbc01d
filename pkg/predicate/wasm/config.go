package wasm

import (
	"errors"
	"fmt"
	"time"

	"mercator-hq/sieve/pkg/predicate"
)

// ErrInvalidConfig indicates invalid backend configuration.
var ErrInvalidConfig = errors.New("invalid wasm backend configuration")

// pageSize is the WebAssembly page size in bytes.
const pageSize = 65536

// Config configures the WebAssembly backend.
type Config struct {
	// EntryPoint is the evaluation export, (ptr i32, len i32) -> i32.
	// Default: "is_valid_event".
	EntryPoint string

	// AllocExport returns a guest offset for a payload, (len i32) -> i32.
	// Default: "alloc".
	AllocExport string

	// MemoryExport is the exported linear memory. Default: "memory".
	MemoryExport string

	// InitExports are () -> () exports run on every new instance, in order,
	// when present. Default: "_initialize", "pre_validate".
	InitExports []string

	// MemoryLimitPages is the runtime-wide ceiling on any instance's
	// memory, in 64KiB pages. Default: 256 (16MiB).
	MemoryLimitPages uint32

	// Metering enables instruction budgets by charging one unit per guest
	// function entry. It forces the interpreter engine. Default: true.
	Metering bool

	// ProbeLimits bound the instantiation performed at load time.
	ProbeLimits predicate.Limits
}

// DefaultConfig returns the default backend configuration.
func DefaultConfig() Config {
	return Config{
		EntryPoint:       "is_valid_event",
		AllocExport:      "alloc",
		MemoryExport:     "memory",
		InitExports:      []string{"_initialize", "pre_validate"},
		MemoryLimitPages: 256,
		Metering:         true,
		ProbeLimits: predicate.Limits{
			MaxInstructions: 1_000_000,
			MaxWallTime:     time.Second,
		},
	}
}

// Validate validates the configuration.
func (c Config) Validate() error {
	if c.EntryPoint == "" {
		return fmt.Errorf("%w: entry point is required", ErrInvalidConfig)
	}
	if c.AllocExport == "" {
		return fmt.Errorf("%w: alloc export is required", ErrInvalidConfig)
	}
	if c.MemoryExport == "" {
		return fmt.Errorf("%w: memory export is required", ErrInvalidConfig)
	}
	if c.MemoryLimitPages == 0 || c.MemoryLimitPages > 65536 {
		return fmt.Errorf("%w: memory limit pages must be in [1, 65536], got %d", ErrInvalidConfig, c.MemoryLimitPages)
	}
	if err := c.ProbeLimits.Validate(); err != nil {
		return fmt.Errorf("%w: probe limits: %v", ErrInvalidConfig, err)
	}
	return nil
}

// MemoryLimitBytes returns the runtime-wide memory ceiling in bytes.
func (c Config) MemoryLimitBytes() int64 {
	return int64(c.MemoryLimitPages) * pageSize
}
