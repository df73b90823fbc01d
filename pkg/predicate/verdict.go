package predicate

import (
	"errors"
	"fmt"
)

// DiagnosticKind classifies a non-fatal problem attached to a verdict.
type DiagnosticKind string

const (
	// DiagnosticCoercionWarning marks a module result that was not a
	// boolean and was coerced to false.
	DiagnosticCoercionWarning DiagnosticKind = "coercion_warning"

	// DiagnosticExecutionTrap marks a verdict forced to false by a trap.
	DiagnosticExecutionTrap DiagnosticKind = "execution_trap"

	// DiagnosticResourceExceeded marks a verdict forced to false by a
	// limit breach.
	DiagnosticResourceExceeded DiagnosticKind = "resource_exceeded"

	// DiagnosticPrefilterRejected marks a record a prefilter rejected
	// before the module ran.
	DiagnosticPrefilterRejected DiagnosticKind = "prefilter_rejected"

	// DiagnosticHostError marks a verdict forced to false by a host-side
	// failure such as a closed handle or an unencodable record.
	DiagnosticHostError DiagnosticKind = "host_error"
)

// Diagnostic explains why a verdict is false without the module saying so.
type Diagnostic struct {
	Kind      DiagnosticKind `json:"kind"`
	Predicate string         `json:"predicate,omitempty"`
	Reason    string         `json:"reason"`
}

// String returns a one-line description.
func (d Diagnostic) String() string {
	if d.Predicate == "" {
		return fmt.Sprintf("%s: %s", d.Kind, d.Reason)
	}
	return fmt.Sprintf("%s: %s: %s", d.Predicate, d.Kind, d.Reason)
}

// Verdict is the outcome of one predicate on one record.
type Verdict struct {
	Match      bool        `json:"match"`
	Diagnostic *Diagnostic `json:"diagnostic,omitempty"`
}

// Accept and Reject are the two clean verdicts.
var (
	Accept = Verdict{Match: true}
	Reject = Verdict{Match: false}
)

// RawResult is the untyped value a module returned, before coercion.
type RawResult struct {
	// Valid is false when the module produced something that is not a
	// boolean.
	Valid bool

	// Value holds the boolean when Valid is true.
	Value bool

	// Detail describes an invalid result.
	Detail string
}

// BoolResult returns a valid boolean result.
func BoolResult(v bool) RawResult {
	return RawResult{Valid: true, Value: v}
}

// MalformedResult returns an invalid result described by detail.
func MalformedResult(detail string) RawResult {
	return RawResult{Detail: detail}
}

// Coerce turns a raw result into a verdict. Anything but a boolean becomes
// false with a coercion warning.
func Coerce(predicate string, raw RawResult) Verdict {
	if raw.Valid {
		return Verdict{Match: raw.Value}
	}
	return Verdict{
		Match: false,
		Diagnostic: &Diagnostic{
			Kind:      DiagnosticCoercionWarning,
			Predicate: predicate,
			Reason:    "non-boolean result: " + raw.Detail,
		},
	}
}

// FailedVerdict returns the false verdict that accompanies err.
func FailedVerdict(predicate string, err error) Verdict {
	kind := DiagnosticHostError
	switch {
	case errors.Is(err, ErrExecutionTrap):
		kind = DiagnosticExecutionTrap
	case errors.Is(err, ErrResourceExceeded):
		kind = DiagnosticResourceExceeded
	}
	return Verdict{
		Match: false,
		Diagnostic: &Diagnostic{
			Kind:      kind,
			Predicate: predicate,
			Reason:    err.Error(),
		},
	}
}
