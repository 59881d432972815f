package results

import "fmt"

// OutcomeKind classifies the result of a single test method.
type OutcomeKind string

const (
	Passed       OutcomeKind = "Passed"
	Failed       OutcomeKind = "Failed"
	Ignored      OutcomeKind = "Ignored"
	Inconclusive OutcomeKind = "Inconclusive"
	Aborted      OutcomeKind = "Aborted"
	Disconnected OutcomeKind = "Disconnected"
	Error        OutcomeKind = "Error"
	Timeout      OutcomeKind = "Timeout"
)

var allOutcomeKinds = []OutcomeKind{ //nolint:gochecknoglobals
	Passed, Failed, Ignored, Inconclusive, Aborted, Disconnected, Error, Timeout,
}

// AllOutcomeKinds returns every defined outcome kind.
func AllOutcomeKinds() []OutcomeKind {
	return append([]OutcomeKind(nil), allOutcomeKinds...)
}

// ParseOutcomeKind converts a wire value into an OutcomeKind. Matching is exact.
func ParseOutcomeKind(s string) (OutcomeKind, error) {
	for _, k := range allOutcomeKinds {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown test outcome %q", s)
}

// IsNonPassing is true for every outcome that counts as a failure: everything except
// Passed and Ignored.
func (k OutcomeKind) IsNonPassing() bool {
	return k != Passed && k != Ignored
}

// IsNotExecuted is true only for Ignored.
func (k OutcomeKind) IsNotExecuted() bool {
	return k == Ignored
}

func (k OutcomeKind) String() string { return string(k) }

// RunCompletedState is the final state of a run or of a whole collection of runs.
type RunCompletedState int

const (
	Success RunCompletedState = iota
	Failure
)

func (s RunCompletedState) String() string {
	if s == Failure {
		return "Failure"
	}
	return "Success"
}
