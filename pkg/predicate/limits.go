package predicate

import (
	"fmt"
	"time"
)

// Limits bound a single invocation. A zero field leaves that dimension
// unbounded.
type Limits struct {
	// MaxInstructions caps the abstract execution cost of one call. Each
	// backend defines its unit: guest function entries for WASM, CEL cost
	// units for expressions.
	MaxInstructions uint64 `yaml:"max_instructions" json:"max_instructions"`

	// MaxMemoryBytes caps the module's working memory.
	MaxMemoryBytes int64 `yaml:"max_memory_bytes" json:"max_memory_bytes"`

	// MaxWallTime caps the elapsed time of one call.
	MaxWallTime time.Duration `yaml:"max_wall_time" json:"max_wall_time"`
}

// DefaultLimits returns finite limits suitable for untrusted modules.
func DefaultLimits() Limits {
	return Limits{
		MaxInstructions: 1_000_000,
		MaxMemoryBytes:  16 << 20,
		MaxWallTime:     250 * time.Millisecond,
	}
}

// Validate rejects negative limits.
func (l Limits) Validate() error {
	if l.MaxMemoryBytes < 0 {
		return fmt.Errorf("%w: max memory bytes must be >= 0, got %d", ErrInvalidLimits, l.MaxMemoryBytes)
	}
	if l.MaxWallTime < 0 {
		return fmt.Errorf("%w: max wall time must be >= 0, got %v", ErrInvalidLimits, l.MaxWallTime)
	}
	return nil
}

// IsUnbounded reports whether no dimension is limited.
func (l Limits) IsUnbounded() bool {
	return l.MaxInstructions == 0 && l.MaxMemoryBytes == 0 && l.MaxWallTime == 0
}

// WithMaxInstructions returns a copy of l with MaxInstructions set.
func (l Limits) WithMaxInstructions(n uint64) Limits {
	l.MaxInstructions = n
	return l
}

// WithMaxMemoryBytes returns a copy of l with MaxMemoryBytes set.
func (l Limits) WithMaxMemoryBytes(n int64) Limits {
	l.MaxMemoryBytes = n
	return l
}

// WithMaxWallTime returns a copy of l with MaxWallTime set.
func (l Limits) WithMaxWallTime(d time.Duration) Limits {
	l.MaxWallTime = d
	return l
}
