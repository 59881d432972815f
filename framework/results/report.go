// Package results holds the outcome of test runs: the result of each test method, the report
// that aggregates one run, and collections of reports. These types carry no behavior beyond
// counting and classification; producing them is the aggregator's job.
package results

import "time"

// TestReport is the aggregated outcome of one run of one test assembly.
type TestReport struct {
	Name      string
	RunID     string
	StartTime time.Time
	Duration  time.Duration
	results   []TestCaseResult
	passed    int
	failed    int
	ignored   int
}

// NewTestReport creates an empty report.
func NewTestReport(name, runID string, startTime time.Time) *TestReport {
	return &TestReport{Name: name, RunID: runID, StartTime: startTime}
}

// Add appends a result and updates the counts.
func (r *TestReport) Add(result TestCaseResult) {
	result = result.normalized()
	r.results = append(r.results, result)
	switch {
	case result.Outcome.IsNotExecuted():
		r.ignored++
	case result.Outcome.IsNonPassing():
		r.failed++
	default:
		r.passed++
	}
}

// Results returns a copy of the results in the order they were added.
func (r *TestReport) Results() []TestCaseResult {
	return append([]TestCaseResult(nil), r.results...)
}

func (r *TestReport) Total() int   { return len(r.results) }
func (r *TestReport) Passed() int  { return r.passed }
func (r *TestReport) Failed() int  { return r.failed }
func (r *TestReport) Ignored() int { return r.ignored }

// FinalResult is Failure if and only if any result has a non-passing outcome.
func (r *TestReport) FinalResult() RunCompletedState {
	if r.failed > 0 {
		return Failure
	}
	return Success
}

// Clone returns a deep copy of the report.
func (r *TestReport) Clone() *TestReport {
	if r == nil {
		return nil
	}
	c := *r
	c.results = make([]TestCaseResult, 0, len(r.results))
	for _, result := range r.results {
		c.results = append(c.results, result.normalized())
	}
	return &c
}

// TestReportCollection holds one report for each assembly or configuration run in a batch.
type TestReportCollection []*TestReport

// FinalResult is Failure if any member report is a Failure.
func (c TestReportCollection) FinalResult() RunCompletedState {
	for _, r := range c {
		if r.FinalResult() == Failure {
			return Failure
		}
	}
	return Success
}

// First returns the first report, or nil if the collection is empty.
func (c TestReportCollection) First() *TestReport {
	if len(c) == 0 {
		return nil
	}
	return c[0]
}

// Totals sums the counts of every report.
func (c TestReportCollection) Totals() (total, passed, failed, ignored int) {
	for _, r := range c {
		total += r.Total()
		passed += r.Passed()
		failed += r.Failed()
		ignored += r.Ignored()
	}
	return
}
