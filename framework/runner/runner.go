// Package runner contains the run controllers, which drive the hosted-client transport and
// launcher through complete test runs and hand back the sealed reports.
//
// Every controller learns that a run has finished from the event bus: the transport publishes
// TestRunCompleted, the aggregator seals the report and publishes ReportSealed, and the
// controller waiting on that run's ID wakes up. An aggregator must therefore be subscribed to
// the same bus.
package runner

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/statlight/harness/framework"
	"github.com/statlight/harness/framework/eventbus"
	"github.com/statlight/harness/framework/events"
	"github.com/statlight/harness/framework/results"
	"github.com/statlight/harness/framework/teamcity"

	"github.com/google/uuid"
)

var (
	// ErrClosed is returned by operations on a runner that has been closed.
	ErrClosed = errors.New("runner has been closed")

	// ErrRunInProgress is returned when a run is requested while another one is still active.
	ErrRunInProgress = errors.New("a test run is already in progress")
)

// Runner is the lifecycle shared by every kind of run controller.
type Runner interface {
	// Run performs the controller's runs and returns the last sealed report.
	Run(ctx context.Context) (*results.TestReport, error)

	// Close releases the controller's resources. Calling it more than once has no further effect.
	Close() error
}

// Transport is the server that hosted clients report their results to.
type Transport interface {
	Start() error
	Stop() error
}

// Launcher starts and stops the hosted clients. Close disposes of it permanently.
type Launcher interface {
	Start(ctx context.Context) error
	Stop() error
	Close() error
}

// TagFilterSource holds the persistent tag filter that newly started clients will use.
type TagFilterSource interface {
	TagFilter() string
	SetTagFilter(tagFilter string)
}

// BuildChangeMonitor signals that the test package has been rebuilt.
type BuildChangeMonitor interface {
	Changes() <-chan struct{}
}

// Dependencies are the collaborators of a run controller.
type Dependencies struct {
	Bus       *eventbus.Bus
	Name      string
	Transport Transport
	Launcher  Launcher

	// Filter is required by the continuous controller. The other controllers only use it to
	// describe the run.
	Filter TagFilterSource

	// Monitor is required by the continuous controller.
	Monitor BuildChangeMonitor

	// Emitter is required by the TeamCity controller.
	Emitter *teamcity.Emitter

	Logger framework.Logger
}

func (d Dependencies) validate(mode Mode) error {
	var missing []string
	if d.Bus == nil {
		missing = append(missing, "event bus")
	}
	if d.Transport == nil {
		missing = append(missing, "transport")
	}
	if d.Launcher == nil {
		missing = append(missing, "launcher")
	}
	if mode == ModeContinuous && d.Filter == nil {
		missing = append(missing, "tag filter source")
	}
	if mode == ModeContinuous && d.Monitor == nil {
		missing = append(missing, "build change monitor")
	}
	if mode == ModeTeamCity && d.Emitter == nil {
		missing = append(missing, "TeamCity emitter")
	}
	if len(missing) != 0 {
		return fmt.Errorf("%s runner is missing: %s", mode, strings.Join(missing, ", "))
	}
	return nil
}

func (d Dependencies) currentTagFilter() string {
	if d.Filter == nil {
		return ""
	}
	return d.Filter.TagFilter()
}

// Mode selects a run controller.
type Mode string

const (
	ModeOneShot    Mode = "oneshot"
	ModeContinuous Mode = "continuous"
	ModeTeamCity   Mode = "teamcity"
)

// AllModes returns every supported mode.
func AllModes() []Mode {
	return []Mode{ModeOneShot, ModeContinuous, ModeTeamCity}
}

// ParseMode converts a mode name, ignoring case.
func ParseMode(s string) (Mode, error) {
	for _, m := range AllModes() {
		if strings.EqualFold(string(m), s) {
			return m, nil
		}
	}
	return "", fmt.Errorf("unknown run mode %q", s)
}

// New creates the controller for a mode. The continuous controller starts its first run
// immediately.
func New(mode Mode, deps Dependencies) (Runner, error) {
	var r Runner
	var err error
	switch mode {
	case ModeOneShot:
		r, err = NewOneShot(deps)
	case ModeContinuous:
		r, err = NewContinuous(deps)
	case ModeTeamCity:
		r, err = NewTeamCity(deps)
	default:
		return nil, fmt.Errorf("unknown run mode %q", mode)
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}

// announceRun publishes the TestRunStarting event for a new run and returns its ID.
func announceRun(deps Dependencies, logger framework.Logger, tagFilter string) string {
	runID := uuid.NewString()
	if tagFilter == "" {
		logger.Printf("Starting test run %s", runID)
	} else {
		logger.Printf("Starting test run %s with tag filter %q", runID, tagFilter)
	}
	err := deps.Bus.Publish(events.TestRunStarting{
		RunID:     runID,
		Name:      deps.Name,
		Time:      time.Now(),
		TagFilter: tagFilter,
	})
	if err != nil {
		logger.Printf("Error from run-starting listener: %s", err)
	}
	return runID
}

func wrapIfError(err error, operation string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", operation, err)
}
