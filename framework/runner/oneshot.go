package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/statlight/harness/framework"
	"github.com/statlight/harness/framework/eventbus"
	"github.com/statlight/harness/framework/events"
	"github.com/statlight/harness/framework/results"
)

// OneShot performs a single run at a time, synchronously.
type OneShot struct {
	deps            Dependencies
	logger          framework.Logger
	token           eventbus.Token
	pending         *pendingRun
	running         bool
	closed          bool
	closing         chan struct{}
	launcherRunning bool
	launcherClosed  bool
	lock            sync.Mutex
	launcherLock    sync.Mutex
}

// pendingRun is the completion signal of one run. It is never reused.
type pendingRun struct {
	id   string
	done chan *results.TestReport
}

// NewOneShot creates a OneShot controller. Nothing is started until Run is called.
func NewOneShot(deps Dependencies) (*OneShot, error) {
	if err := deps.validate(ModeOneShot); err != nil {
		return nil, err
	}
	o := &OneShot{
		deps:    deps,
		logger:  framework.OrNullLogger(deps.Logger),
		closing: make(chan struct{}),
	}
	o.token = eventbus.Subscribe(deps.Bus, o.onReportSealed)
	return o, nil
}

// Run starts the transport and then the hosted clients, waits for the run to complete, then
// stops the hosted clients and the transport. The controller applies no timeout of its own;
// ctx bounds the wait.
func (o *OneShot) Run(ctx context.Context) (*results.TestReport, error) {
	o.lock.Lock()
	if o.closed {
		o.lock.Unlock()
		return nil, ErrClosed
	}
	if o.running {
		o.lock.Unlock()
		return nil, ErrRunInProgress
	}
	o.running = true
	run := &pendingRun{done: make(chan *results.TestReport, 1)}
	run.id = announceRun(o.deps, o.logger, o.deps.currentTagFilter())
	o.pending = run
	o.lock.Unlock()

	defer func() {
		o.lock.Lock()
		o.running = false
		o.pending = nil
		o.lock.Unlock()
	}()

	if err := o.deps.Transport.Start(); err != nil {
		return nil, fmt.Errorf("starting transport: %w", err)
	}
	if err := o.startLauncher(ctx); err != nil {
		return nil, errors.Join(
			fmt.Errorf("starting hosted client: %w", err),
			wrapIfError(o.deps.Transport.Stop(), "stopping transport"),
		)
	}

	var report *results.TestReport
	var waitErr error
	select {
	case report = <-run.done:
	case <-ctx.Done():
		waitErr = fmt.Errorf("waiting for test run to complete: %w", ctx.Err())
	case <-o.closing:
		waitErr = ErrClosed
	}
	stopErr := o.stopLauncher()
	return report, errors.Join(waitErr, stopErr, wrapIfError(o.deps.Transport.Stop(), "stopping transport"))
}

// Close unsubscribes from the bus, stops the hosted clients if a run is in progress, and
// disposes of the launcher. A Run that is waiting returns ErrClosed.
func (o *OneShot) Close() error {
	o.lock.Lock()
	if o.closed {
		o.lock.Unlock()
		return nil
	}
	o.closed = true
	close(o.closing)
	o.lock.Unlock()

	o.token.Unsubscribe()
	err := o.stopLauncher()

	o.launcherLock.Lock()
	defer o.launcherLock.Unlock()
	o.launcherClosed = true
	return errors.Join(err, wrapIfError(o.deps.Launcher.Close(), "closing launcher"))
}

func (o *OneShot) startLauncher(ctx context.Context) error {
	o.launcherLock.Lock()
	defer o.launcherLock.Unlock()
	if o.launcherClosed {
		return ErrClosed
	}
	if err := o.deps.Launcher.Start(ctx); err != nil {
		return err
	}
	o.launcherRunning = true
	return nil
}

func (o *OneShot) stopLauncher() error {
	o.launcherLock.Lock()
	defer o.launcherLock.Unlock()
	if !o.launcherRunning {
		return nil
	}
	o.launcherRunning = false
	return wrapIfError(o.deps.Launcher.Stop(), "stopping hosted client")
}

func (o *OneShot) onReportSealed(e events.ReportSealed) {
	o.lock.Lock()
	defer o.lock.Unlock()
	if o.pending == nil || e.Report == nil || e.Report.RunID != o.pending.id {
		return
	}
	o.pending.done <- e.Report
	o.pending = nil
}
