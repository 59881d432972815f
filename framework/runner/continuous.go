package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/statlight/harness/framework"
	"github.com/statlight/harness/framework/eventbus"
	"github.com/statlight/harness/framework/events"
	"github.com/statlight/harness/framework/opt"
	"github.com/statlight/harness/framework/results"
)

// Continuous reruns the tests every time the build changes. The transport stays up for the
// controller's whole lifetime; the hosted clients are started for each run and stopped when
// it completes.
//
// At most one run is active at a time. Build changes that arrive during a run are dropped.
type Continuous struct {
	deps          Dependencies
	logger        framework.Logger
	token         eventbus.Token
	ctx           context.Context
	cancel        context.CancelFunc
	running       bool
	runID         string
	restoreFilter opt.Maybe[string]
	lastReport    *results.TestReport
	closed        bool
	closing       chan struct{}
	watchDone     chan struct{}
	lock          sync.Mutex
}

// NewContinuous starts the transport, starts the first run, and begins watching for build
// changes.
func NewContinuous(deps Dependencies) (*Continuous, error) {
	if err := deps.validate(ModeContinuous); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Continuous{
		deps:      deps,
		logger:    framework.OrNullLogger(deps.Logger),
		ctx:       ctx,
		cancel:    cancel,
		closing:   make(chan struct{}),
		watchDone: make(chan struct{}),
	}
	c.token = eventbus.Subscribe(deps.Bus, c.onReportSealed)

	if err := deps.Transport.Start(); err != nil {
		c.token.Unsubscribe()
		cancel()
		return nil, fmt.Errorf("starting transport: %w", err)
	}
	c.lock.Lock()
	err := c.startRun(opt.None[string]())
	c.lock.Unlock()
	if err != nil {
		c.token.Unsubscribe()
		cancel()
		return nil, errors.Join(err, wrapIfError(deps.Transport.Stop(), "stopping transport"))
	}

	go c.watch()
	return c, nil
}

// IsRunning reports whether a run is active.
func (c *Continuous) IsRunning() bool {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.running
}

// TagFilter returns the persistent tag filter. During a forced run this is the value that will
// be restored afterward, not the forced one.
func (c *Continuous) TagFilter() string {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.restoreFilter.OrElse(c.deps.Filter.TagFilter())
}

// SetTagFilter changes the persistent tag filter. If a forced run is active, the new value
// takes effect when that run completes.
func (c *Continuous) SetTagFilter(tagFilter string) {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.restoreFilter.IsDefined() {
		c.restoreFilter = opt.Some(tagFilter)
		return
	}
	c.deps.Filter.SetTagFilter(tagFilter)
}

// ForceFilteredTest starts a run immediately using tagFilter. When that run completes the
// persistent filter is put back. It returns ErrRunInProgress if a run is active.
func (c *Continuous) ForceFilteredTest(tagFilter string) error {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.closed {
		return ErrClosed
	}
	return c.startRun(opt.Some(tagFilter))
}

// BuildChanged starts a run with the persistent filter, unless one is already active.
func (c *Continuous) BuildChanged() {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.closed {
		return
	}
	if c.running {
		c.logger.Printf("Ignoring build change: a test run is already in progress")
		return
	}
	if err := c.startRun(opt.None[string]()); err != nil {
		c.logger.Printf("Could not start test run after build change: %s", err)
	}
}

// LastReport returns the report of the most recently completed run, or nil.
func (c *Continuous) LastReport() *results.TestReport {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.lastReport.Clone()
}

// Run blocks until ctx is done or the controller is closed, and returns the last report.
func (c *Continuous) Run(ctx context.Context) (*results.TestReport, error) {
	select {
	case <-ctx.Done():
	case <-c.closing:
	}
	return c.LastReport(), nil
}

// Close stops watching, stops an active run's hosted clients, disposes of the launcher, and
// stops the transport.
func (c *Continuous) Close() error {
	c.lock.Lock()
	if c.closed {
		c.lock.Unlock()
		return nil
	}
	c.closed = true
	close(c.closing)
	c.cancel()
	c.token.Unsubscribe()
	var errs []error
	if c.running {
		c.running = false
		errs = append(errs, wrapIfError(c.deps.Launcher.Stop(), "stopping hosted client"))
	}
	c.restorePersistentFilter()
	c.lock.Unlock()

	<-c.watchDone
	errs = append(errs,
		wrapIfError(c.deps.Launcher.Close(), "closing launcher"),
		wrapIfError(c.deps.Transport.Stop(), "stopping transport"),
	)
	return errors.Join(errs...)
}

// startRun requires the lock. The check of running and the launcher start happen under the same
// lock, so concurrent triggers cannot both start a run.
func (c *Continuous) startRun(forced opt.Maybe[string]) error {
	if c.running {
		return ErrRunInProgress
	}
	previous := c.deps.Filter.TagFilter()
	if forced.IsDefined() {
		c.deps.Filter.SetTagFilter(forced.Value())
	}
	c.running = true
	c.runID = announceRun(c.deps, c.logger, c.deps.Filter.TagFilter())
	if err := c.deps.Launcher.Start(c.ctx); err != nil {
		c.running = false
		if forced.IsDefined() {
			c.deps.Filter.SetTagFilter(previous)
		}
		return fmt.Errorf("starting hosted client: %w", err)
	}
	if forced.IsDefined() {
		c.restoreFilter = opt.Some(previous)
	}
	return nil
}

func (c *Continuous) restorePersistentFilter() {
	if c.restoreFilter.IsDefined() {
		c.deps.Filter.SetTagFilter(c.restoreFilter.Value())
		c.restoreFilter = opt.None[string]()
	}
}

func (c *Continuous) onReportSealed(e events.ReportSealed) {
	c.lock.Lock()
	defer c.lock.Unlock()
	if !c.running || e.Report == nil || e.Report.RunID != c.runID {
		return
	}
	if err := c.deps.Launcher.Stop(); err != nil {
		c.logger.Printf("Error stopping hosted client: %s", err)
	}
	c.running = false
	c.lastReport = e.Report
	c.restorePersistentFilter()
	c.logger.Printf("Test run %s finished: %s", e.Report.RunID, e.Report.FinalResult())
}

func (c *Continuous) watch() {
	defer close(c.watchDone)
	changes := c.deps.Monitor.Changes()
	for {
		select {
		case <-c.closing:
			return
		case _, ok := <-changes:
			if !ok {
				return
			}
			c.BuildChanged()
		}
	}
}
