package predicate

import (
	"errors"
	"fmt"
)

// Load-time sentinel errors. A *LoadError always matches exactly one of them
// with errors.Is.
var (
	// ErrMalformedModule indicates the module bytes cannot be parsed,
	// compiled, linked, or initialized.
	ErrMalformedModule = errors.New("malformed module")

	// ErrMissingEntryPoint indicates the module does not export the
	// evaluation entry point.
	ErrMissingEntryPoint = errors.New("missing entry point")

	// ErrSignatureMismatch indicates the entry point exists with the wrong
	// parameter or result shape.
	ErrSignatureMismatch = errors.New("signature mismatch")
)

// Evaluation-time sentinel errors. A *EvalError always matches exactly one of
// them with errors.Is.
var (
	// ErrExecutionTrap indicates the module faulted while running.
	ErrExecutionTrap = errors.New("execution trap")

	// ErrResourceExceeded indicates an invocation was aborted for breaching
	// one of its limits.
	ErrResourceExceeded = errors.New("resource exceeded")
)

var (
	// ErrHandleClosed is returned when evaluating against a closed handle.
	ErrHandleClosed = errors.New("predicate handle closed")

	// ErrInvalidLimits indicates a Limits value failed validation.
	ErrInvalidLimits = errors.New("invalid limits")
)

// LoadError describes why a module was rejected by the loader.
type LoadError struct {
	// Module is the name the module was loaded under.
	Module string

	// Kind is one of ErrMalformedModule, ErrMissingEntryPoint or
	// ErrSignatureMismatch.
	Kind error

	Message string
	Cause   error
}

// Error returns the error message.
func (e *LoadError) Error() string {
	msg := fmt.Sprintf("load module %q: %v", e.Module, e.Kind)
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap returns the sentinel kind and the underlying cause.
func (e *LoadError) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Cause}
}

// Malformed returns a LoadError of kind ErrMalformedModule.
func Malformed(module, message string, cause error) *LoadError {
	return &LoadError{Module: module, Kind: ErrMalformedModule, Message: message, Cause: cause}
}

// MissingEntryPoint returns a LoadError of kind ErrMissingEntryPoint.
func MissingEntryPoint(module, export string) *LoadError {
	return &LoadError{Module: module, Kind: ErrMissingEntryPoint, Message: fmt.Sprintf("export %q not found", export)}
}

// SignatureMismatch returns a LoadError of kind ErrSignatureMismatch.
func SignatureMismatch(module, export, want, got string) *LoadError {
	return &LoadError{
		Module:  module,
		Kind:    ErrSignatureMismatch,
		Message: fmt.Sprintf("export %q has signature %s, want %s", export, got, want),
	}
}

// Resource names the limit dimension that was breached.
type Resource string

const (
	ResourceInstructions Resource = "instructions"
	ResourceMemory       Resource = "memory"
	ResourceWallTime     Resource = "wall_time"
)

// EvalError describes a failed invocation.
type EvalError struct {
	// Predicate is the name of the handle being evaluated.
	Predicate string

	// Kind is ErrExecutionTrap or ErrResourceExceeded.
	Kind error

	// Resource is set when Kind is ErrResourceExceeded.
	Resource Resource

	Message string
	Cause   error
}

// Error returns the error message.
func (e *EvalError) Error() string {
	msg := fmt.Sprintf("predicate %q: %v", e.Predicate, e.Kind)
	if e.Resource != "" {
		msg += " (" + string(e.Resource) + ")"
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap returns the sentinel kind and the underlying cause.
func (e *EvalError) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Cause}
}

// Trap returns an EvalError of kind ErrExecutionTrap. Backends leave
// Predicate empty; the host fills it in.
func Trap(message string, cause error) *EvalError {
	return &EvalError{Kind: ErrExecutionTrap, Message: message, Cause: cause}
}

// Exceeded returns an EvalError of kind ErrResourceExceeded.
func Exceeded(resource Resource, message string) *EvalError {
	return &EvalError{Kind: ErrResourceExceeded, Resource: resource, Message: message}
}
