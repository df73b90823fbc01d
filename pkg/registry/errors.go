package registry

import (
	"errors"
	"fmt"
)

var (
	// ErrModuleNotFound is returned for a name with no entry.
	ErrModuleNotFound = errors.New("module not found")

	// ErrDuplicateName is returned when two files share a stem.
	ErrDuplicateName = errors.New("duplicate module name")

	// ErrModuleTooLarge is returned for files over the size limit.
	ErrModuleTooLarge = errors.New("module file too large")

	// ErrWatchDisabled is returned by Watch when neither file watching nor
	// git polling is configured.
	ErrWatchDisabled = errors.New("module watching is disabled")

	// ErrAlreadyWatching is returned by a second concurrent Watch.
	ErrAlreadyWatching = errors.New("registry is already watching")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("registry closed")
)

// LoadError describes a module file that could not be loaded.
type LoadError struct {
	Name  string
	Path  string
	Cause error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("module %q (%s): %v", e.Name, e.Path, e.Cause)
}

func (e *LoadError) Unwrap() error {
	return e.Cause
}

// NotFoundError lists names that Resolve could not find.
type NotFoundError struct {
	Names []string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%v: %v", ErrModuleNotFound, e.Names)
}

func (e *NotFoundError) Unwrap() error {
	return ErrModuleNotFound
}
