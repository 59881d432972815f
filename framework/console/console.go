// Package console prints live test results and run summaries for a person watching the
// terminal.
package console

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/statlight/harness/framework"
	"github.com/statlight/harness/framework/eventbus"
	"github.com/statlight/harness/framework/events"
	"github.com/statlight/harness/framework/results"

	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

var consoleTestErrorColor = color.New(color.FgYellow)              //nolint:gochecknoglobals
var consoleTestFailedColor = color.New(color.FgRed)                //nolint:gochecknoglobals
var consoleTestSkippedColor = color.New(color.Faint, color.FgBlue) //nolint:gochecknoglobals
var consoleMessageColor = color.New(color.Faint)                   //nolint:gochecknoglobals
var allTestsPassedColor = color.New(color.FgGreen)                 //nolint:gochecknoglobals

// Handler prints each result as it arrives. Passing tests are shown as a dot unless Verbose
// is set; failures are always shown in full.
type Handler struct {
	out     io.Writer
	verbose bool
	dots    int
	lock    sync.Mutex
}

// NewHandler creates a Handler that writes to out.
func NewHandler(out io.Writer, verbose bool) *Handler {
	return &Handler{out: out, verbose: verbose}
}

// Attach subscribes the Handler to every event it prints. The returned function detaches it.
func (h *Handler) Attach(bus *eventbus.Bus) (detach func()) {
	detachResults := events.AttachHandler(bus, h)
	tokens := []eventbus.Token{
		eventbus.Subscribe(bus, h.RunStarting),
		eventbus.Subscribe(bus, h.ReportSealed),
	}
	return func() {
		detachResults()
		for _, t := range tokens {
			t.Unsubscribe()
		}
	}
}

func (h *Handler) HandleCaseResult(r results.TestCaseResult) {
	h.lock.Lock()
	defer h.lock.Unlock()
	switch {
	case r.Outcome == results.Passed && !h.verbose:
		h.dot(".")
	case r.Outcome == results.Passed:
		h.endDots()
		fmt.Fprintf(h.out, "[%s] passed (%s)\n", r.FullName(), formatDuration(r.Duration))
	case r.Outcome.IsNotExecuted():
		h.endDots()
		_, _ = consoleTestSkippedColor.Fprintf(h.out, "  IGNORED: %s\n", r.FullName())
	default:
		h.endDots()
		_, _ = consoleTestFailedColor.Fprintf(h.out, "  %s: %s\n", strings.ToUpper(string(r.Outcome)), r.FullName())
		for _, line := range strings.Split(r.TraceMessage(), "\n") {
			if line != "" {
				_, _ = consoleTestErrorColor.Fprintf(h.out, "    %s\n", line)
			}
		}
	}
}

func (h *Handler) HandleOtherMessage(m events.OtherMessage) {
	h.lock.Lock()
	defer h.lock.Unlock()
	if m.IsIgnore {
		h.endDots()
		_, _ = consoleTestSkippedColor.Fprintf(h.out, "  IGNORED: %s\n", m.Message)
		return
	}
	if h.verbose {
		h.endDots()
		_, _ = consoleMessageColor.Fprintf(h.out, "  %s\n", m.Message)
	}
}

// RunStarting prints a header for a new run.
func (h *Handler) RunStarting(e events.TestRunStarting) {
	h.lock.Lock()
	defer h.lock.Unlock()
	h.endDots()
	if e.TagFilter == "" {
		fmt.Fprintf(h.out, "Running %s\n", e.Name)
	} else {
		fmt.Fprintf(h.out, "Running %s with tag filter %q\n", e.Name, e.TagFilter)
	}
}

// ReportSealed ends the live output of a run with a one-line result.
func (h *Handler) ReportSealed(e events.ReportSealed) {
	h.lock.Lock()
	defer h.lock.Unlock()
	h.endDots()
	r := e.Report
	line := fmt.Sprintf("%d tests: %d passed, %d failed, %d ignored (%s)",
		r.Total(), r.Passed(), r.Failed(), r.Ignored(), formatDuration(r.Duration))
	if r.FinalResult() == results.Failure {
		_, _ = consoleTestFailedColor.Fprintln(h.out, line)
	} else {
		_, _ = allTestsPassedColor.Fprintln(h.out, line)
	}
}

func (h *Handler) dot(s string) {
	fmt.Fprint(h.out, s)
	h.dots++
}

func (h *Handler) endDots() {
	if h.dots > 0 {
		fmt.Fprintln(h.out)
		h.dots = 0
	}
}

// PrintSummary prints a table with one row per report, followed by the names of all
// failed tests.
func PrintSummary(out io.Writer, reports results.TestReportCollection) {
	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.SetTitle("Test Results")
	t.AppendHeader(table.Row{"Run", "Duration", "Tests", "Passed", "Failed", "Ignored", "Result"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Name: "Run", WidthMax: 50, WidthMaxEnforcer: text.WrapSoft},
		{Name: "Duration", Align: text.AlignRight},
		{Name: "Tests", Align: text.AlignRight},
		{Name: "Passed", Align: text.AlignRight},
		{Name: "Failed", Align: text.AlignRight},
		{Name: "Ignored", Align: text.AlignRight},
	})

	var totalDuration time.Duration
	for _, r := range reports {
		totalDuration += r.Duration
		t.AppendRow(table.Row{
			r.Name, formatDuration(r.Duration), r.Total(), r.Passed(), r.Failed(), r.Ignored(), r.FinalResult(),
		})
	}
	total, passed, failed, ignored := reports.Totals()
	t.AppendFooter(table.Row{
		"TOTAL", formatDuration(totalDuration), total, passed, failed, ignored, reports.FinalResult(),
	})
	if reports.FinalResult() == results.Failure {
		t.SetStyle(table.StyleColoredBlackOnRedWhite)
	} else {
		t.SetStyle(table.StyleColoredBlackOnGreenWhite)
	}
	t.Render()

	var failures []string
	for _, r := range reports {
		for _, c := range r.Results() {
			if c.Outcome.IsNonPassing() {
				failures = append(failures, fmt.Sprintf("%s (%s)", c.FullName(), c.Outcome))
			}
		}
	}
	if len(failures) == 0 {
		_, _ = allTestsPassedColor.Fprintln(out, "All tests passed")
		return
	}
	_, _ = consoleTestFailedColor.Fprintf(out, "FAILED TESTS (%d):\n", len(failures))
	for _, f := range failures {
		_, _ = consoleTestFailedColor.Fprintf(out, "  * %s\n", f)
	}
}

// PrintCapabilityDescription warns about features the test framework adapter cannot honor.
func PrintCapabilityDescription(out io.Writer, supported framework.Capabilities, tagFilter string) {
	if tagFilter != "" {
		fmt.Fprintf(out, "Only tests tagged %q will be run\n", tagFilter)
		if len(supported) != 0 && !supported.Has(framework.CapabilityTagFilter) {
			_, _ = consoleTestErrorColor.Fprintln(out,
				"  the test framework adapter does not support tag filters, so all tests will be run")
		}
		fmt.Fprintln(out)
	}
	if len(supported) == 0 {
		return
	}
	if missing := supported.Missing(framework.AllCapabilities()); len(missing) > 0 {
		fmt.Fprintln(out, "Some results may be incomplete because the test framework adapter does not support the following capabilities:")
		fmt.Fprintf(out, "  %s\n", strings.Join(missing, ", "))
		fmt.Fprintln(out)
	}
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	return d.Truncate(time.Millisecond).String()
}
