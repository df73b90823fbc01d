package predicate

import "time"

// Outcome summarizes one evaluation for metrics.
type Outcome string

const (
	OutcomeMatch            Outcome = "match"
	OutcomeNoMatch          Outcome = "no_match"
	OutcomeCoerced          Outcome = "coerced"
	OutcomeFiltered         Outcome = "filtered"
	OutcomeTrap             Outcome = "trap"
	OutcomeResourceExceeded Outcome = "resource_exceeded"
	OutcomeError            Outcome = "error"
)

// Observation is reported to an Observer after every evaluation.
type Observation struct {
	Predicate string
	Format    Format
	Outcome   Outcome
	Resource  Resource
	Duration  time.Duration
}

// Observer receives load and evaluation events. The metrics collector
// implements it.
type Observer interface {
	ObserveLoad(format Format, err error)
	ObserveEvaluation(o Observation)
}

type nopObserver struct{}

func (nopObserver) ObserveLoad(Format, error)     {}
func (nopObserver) ObserveEvaluation(Observation) {}
