// Package aggregator turns the stream of run lifecycle events into test reports.
package aggregator

import (
	"strings"
	"sync"
	"time"

	"github.com/statlight/harness/framework"
	"github.com/statlight/harness/framework/eventbus"
	"github.com/statlight/harness/framework/events"
	"github.com/statlight/harness/framework/results"
)

// Aggregator accumulates case results into the report for the run in progress, and seals
// that report into its collection when the run completes.
//
// Every accessor returns a snapshot, so a report handed out by CurrentReport or AllReports
// never changes afterward.
type Aggregator struct {
	bus        *eventbus.Bus
	name       string
	logger     framework.Logger
	tokens     []eventbus.Token
	current    *results.TestReport
	inProgress bool
	ignored    map[string]bool
	reports    results.TestReportCollection
	closeOnce  sync.Once
	lock       sync.Mutex
}

// New creates an Aggregator and subscribes it to the bus. The name is used for reports whose
// run did not announce a name of its own.
func New(bus *eventbus.Bus, name string, logger framework.Logger) *Aggregator {
	a := &Aggregator{
		bus:     bus,
		name:    name,
		logger:  framework.OrNullLogger(logger),
		ignored: make(map[string]bool),
	}
	a.tokens = []eventbus.Token{
		eventbus.Subscribe(bus, a.onRunStarting),
		eventbus.Subscribe(bus, a.onCaseCompleted),
		eventbus.Subscribe(bus, a.onOtherMessage),
		eventbus.Subscribe(bus, a.onRunCompleted),
	}
	return a
}

// CurrentReport returns the report of the run in progress, or if there is none, the most
// recently sealed report. It returns nil if no run has produced any events yet.
func (a *Aggregator) CurrentReport() *results.TestReport {
	a.lock.Lock()
	defer a.lock.Unlock()
	return a.current.Clone()
}

// AllReports returns every sealed report, in the order the runs completed.
func (a *Aggregator) AllReports() results.TestReportCollection {
	a.lock.Lock()
	defer a.lock.Unlock()
	ret := make(results.TestReportCollection, 0, len(a.reports))
	for _, r := range a.reports {
		ret = append(ret, r.Clone())
	}
	return ret
}

// Close unsubscribes the Aggregator from the bus. Reports already collected remain available.
func (a *Aggregator) Close() {
	a.closeOnce.Do(func() {
		for _, t := range a.tokens {
			t.Unsubscribe()
		}
	})
}

func (a *Aggregator) onRunStarting(e events.TestRunStarting) {
	a.lock.Lock()
	defer a.lock.Unlock()
	if a.inProgress {
		a.logger.Printf("Run %q was abandoned with %d results before completion", a.current.RunID, a.current.Total())
	}
	name := e.Name
	if name == "" {
		name = a.name
	}
	start := e.Time
	if start.IsZero() {
		start = time.Now()
	}
	a.begin(results.NewTestReport(name, e.RunID, start))
}

func (a *Aggregator) onCaseCompleted(e events.TestCaseCompleted) {
	a.lock.Lock()
	defer a.lock.Unlock()
	name := e.Result.FullName()
	if e.Result.Outcome.IsNotExecuted() && a.ignored[name] {
		return // already recorded from an ignore notice
	}
	a.ensureInProgress()
	if e.Result.Outcome.IsNotExecuted() {
		a.ignored[name] = true
	}
	a.current.Add(e.Result)
}

func (a *Aggregator) onOtherMessage(e events.OtherMessage) {
	if !e.IsIgnore {
		return
	}
	a.lock.Lock()
	defer a.lock.Unlock()
	if a.ignored[e.Message] {
		return
	}
	a.ensureInProgress()
	a.ignored[e.Message] = true
	className, methodName := splitTestName(e.Message)
	now := time.Now()
	a.current.Add(results.TestCaseResult{
		ClassName:  className,
		MethodName: methodName,
		Outcome:    results.Ignored,
		Started:    now,
		Finished:   now,
	})
}

func (a *Aggregator) onRunCompleted(events.TestRunCompleted) {
	a.lock.Lock()
	a.ensureInProgress()
	a.inProgress = false
	a.current.Duration = time.Since(a.current.StartTime)
	sealed := a.current.Clone()
	a.reports = append(a.reports, sealed)
	a.lock.Unlock()

	a.logger.Printf("Sealed report for run %q: %d total, %d passed, %d failed, %d ignored",
		sealed.RunID, sealed.Total(), sealed.Passed(), sealed.Failed(), sealed.Ignored())
	if err := a.bus.Publish(events.ReportSealed{Report: sealed.Clone()}); err != nil {
		a.logger.Printf("Error from report listener: %s", err)
	}
}

// ensureInProgress starts a report for results that arrive without a preceding
// TestRunStarting. The caller must hold the lock.
func (a *Aggregator) ensureInProgress() {
	if !a.inProgress {
		a.begin(results.NewTestReport(a.name, "", time.Now()))
	}
}

func (a *Aggregator) begin(report *results.TestReport) {
	a.current = report
	a.inProgress = true
	a.ignored = make(map[string]bool)
}

// splitTestName splits "Class.Method" at the last dot, so that FullName of the resulting
// result reproduces the original text.
func splitTestName(name string) (string, string) {
	if i := strings.LastIndex(name, "."); i > 0 && i < len(name)-1 {
		return name[:i], name[i+1:]
	}
	return "", name
}
