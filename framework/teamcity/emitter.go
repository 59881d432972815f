// Package teamcity writes live test results as TeamCity service messages, which TeamCity
// and compatible CI servers parse from a build's standard output.
package teamcity

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/statlight/harness/framework/events"
	"github.com/statlight/harness/framework/results"
)

// Emitter writes one bracket of service messages per test. It does no buffering: every call
// writes its lines before returning, and the lines of one bracket are never interleaved with
// another's.
type Emitter struct {
	w    io.Writer
	err  error
	lock sync.Mutex
}

// NewEmitter creates an Emitter that writes to w.
func NewEmitter(w io.Writer) *Emitter {
	return &Emitter{w: w}
}

// PublishStart writes testSuiteStarted for a suite, normally the test assembly's name.
func (e *Emitter) PublishStart(suite string) {
	e.lock.Lock()
	defer e.lock.Unlock()
	e.write("testSuiteStarted", "name", suite)
}

// PublishStop writes testSuiteFinished for a suite.
func (e *Emitter) PublishStop(suite string) {
	e.lock.Lock()
	defer e.lock.Unlock()
	e.write("testSuiteFinished", "name", suite)
}

// HandleCaseResult writes testStarted, then testFailed if the outcome is non-passing, then
// testFinished with the elapsed milliseconds.
func (e *Emitter) HandleCaseResult(r results.TestCaseResult) {
	name := r.FullName()
	e.lock.Lock()
	defer e.lock.Unlock()
	e.write("testStarted", "name", name)
	if r.Outcome.IsNonPassing() {
		trace := r.TraceMessage()
		e.write("testFailed", "name", name, "message", trace, "details", trace)
	}
	e.write("testFinished", "name", name, "duration", fmt.Sprint(r.Duration.Milliseconds()))
}

// HandleOtherMessage writes a zero-length ignored test for an ignore notice, named by the
// notice's text. Other messages produce no output.
func (e *Emitter) HandleOtherMessage(m events.OtherMessage) {
	if !m.IsIgnore {
		return
	}
	e.lock.Lock()
	defer e.lock.Unlock()
	e.write("testStarted", "name", m.Message)
	e.write("testIgnored", "name", m.Message, "message", "")
	e.write("testFinished", "name", m.Message, "duration", "0")
}

// Err returns the first error encountered while writing, if any. Writing stops after an error.
func (e *Emitter) Err() error {
	e.lock.Lock()
	defer e.lock.Unlock()
	return e.err
}

func (e *Emitter) write(messageName string, attrs ...string) {
	if e.err != nil {
		return
	}
	var b strings.Builder
	b.WriteString("##teamcity[")
	b.WriteString(messageName)
	for i := 0; i+1 < len(attrs); i += 2 {
		fmt.Fprintf(&b, " %s='%s'", attrs[i], Escape(attrs[i+1]))
	}
	b.WriteString("]\n")
	_, e.err = io.WriteString(e.w, b.String())
}

var escaper = strings.NewReplacer( //nolint:gochecknoglobals
	"|", "||",
	"'", "|'",
	"\n", "|n",
	"\r", "|r",
	"[", "|[",
	"]", "|]",
	"\u0085", "|x",
	"\u2028", "|l",
	"\u2029", "|p",
)

// Escape applies TeamCity's escaping rules to an attribute value.
func Escape(value string) string {
	return escaper.Replace(value)
}
