// Package events defines the run lifecycle events that flow over the event bus between the
// hosted-client transport, the result aggregator, the run controllers and the emitters.
//
// Within one run the order is always TestRunStarting, then any number of TestCaseCompleted
// and OtherMessage events, then exactly one TestRunCompleted.
package events

import (
	"time"

	"github.com/statlight/harness/framework/results"
)

// TestRunStarting is published by a run controller just before it starts the hosted client.
type TestRunStarting struct {
	RunID     string
	Name      string
	Time      time.Time
	TagFilter string
}

// TestCaseCompleted carries the outcome of one test method.
type TestCaseCompleted struct {
	Result results.TestCaseResult
}

// OtherMessage is free text sent by the hosted client. Ignore notices have IsIgnore set and
// carry the name of the ignored test as their text.
type OtherMessage struct {
	Message  string
	IsIgnore bool
}

// TestRunCompleted terminates a run.
type TestRunCompleted struct{}

// ReportSealed is published by the aggregator once the report for a run is complete.
type ReportSealed struct {
	Report *results.TestReport
}
