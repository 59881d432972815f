package runner

import (
	"context"
	"sync"
	"testing"

	"github.com/statlight/harness/framework"
	"github.com/statlight/harness/framework/aggregator"
	"github.com/statlight/harness/framework/eventbus"
	"github.com/statlight/harness/framework/events"
	"github.com/statlight/harness/framework/helpers"
	"github.com/statlight/harness/framework/results"

	"github.com/stretchr/testify/require"
)

type callLog struct {
	calls []string
	lock  sync.Mutex
}

func (c *callLog) add(call string) {
	c.lock.Lock()
	c.calls = append(c.calls, call)
	c.lock.Unlock()
}

func (c *callLog) get() []string {
	c.lock.Lock()
	defer c.lock.Unlock()
	return append([]string(nil), c.calls...)
}

type fakeTransport struct {
	log      *callLog
	startErr error
	stopErr  error
}

func (f *fakeTransport) Start() error {
	f.log.add("transport.start")
	return f.startErr
}

func (f *fakeTransport) Stop() error {
	f.log.add("transport.stop")
	return f.stopErr
}

type fakeLauncher struct {
	log       *callLog
	started   chan struct{}
	startErr  error
	starts    int
	stops     int
	closes    int
	active    int
	maxActive int
	lock      sync.Mutex
}

func newFakeLauncher(log *callLog) *fakeLauncher {
	return &fakeLauncher{log: log, started: make(chan struct{}, 100)}
}

func (f *fakeLauncher) Start(ctx context.Context) error {
	f.lock.Lock()
	if f.startErr != nil {
		f.lock.Unlock()
		return f.startErr
	}
	f.starts++
	f.active++
	if f.active > f.maxActive {
		f.maxActive = f.active
	}
	f.lock.Unlock()
	f.log.add("launcher.start")
	helpers.NonBlockingSend(f.started, struct{}{})
	return nil
}

func (f *fakeLauncher) Stop() error {
	f.lock.Lock()
	f.stops++
	if f.active > 0 {
		f.active--
	}
	f.lock.Unlock()
	f.log.add("launcher.stop")
	return nil
}

func (f *fakeLauncher) Close() error {
	f.lock.Lock()
	f.closes++
	f.lock.Unlock()
	f.log.add("launcher.close")
	return nil
}

func (f *fakeLauncher) counts() (starts, stops, closes, maxActive int) {
	f.lock.Lock()
	defer f.lock.Unlock()
	return f.starts, f.stops, f.closes, f.maxActive
}

type fakeFilter struct {
	tag  string
	lock sync.Mutex
}

func (f *fakeFilter) TagFilter() string {
	f.lock.Lock()
	defer f.lock.Unlock()
	return f.tag
}

func (f *fakeFilter) SetTagFilter(tag string) {
	f.lock.Lock()
	f.tag = tag
	f.lock.Unlock()
}

type fakeMonitor struct {
	changes chan struct{}
}

func (f *fakeMonitor) Changes() <-chan struct{} { return f.changes }

type fixture struct {
	bus        *eventbus.Bus
	aggregator *aggregator.Aggregator
	log        *callLog
	transport  *fakeTransport
	launcher   *fakeLauncher
	filter     *fakeFilter
	monitor    *fakeMonitor
	logger     *framework.CapturingLogger
}

func newFixture(t *testing.T) *fixture {
	bus := eventbus.New(nil)
	log := &callLog{}
	f := &fixture{
		bus:        bus,
		aggregator: aggregator.New(bus, "Tests.xap", nil),
		log:        log,
		transport:  &fakeTransport{log: log},
		launcher:   newFakeLauncher(log),
		filter:     &fakeFilter{},
		monitor:    &fakeMonitor{changes: make(chan struct{})},
		logger:     &framework.CapturingLogger{},
	}
	t.Cleanup(f.aggregator.Close)
	return f
}

func (f *fixture) deps() Dependencies {
	return Dependencies{
		Bus:       f.bus,
		Name:      "Tests.xap",
		Transport: f.transport,
		Launcher:  f.launcher,
		Filter:    f.filter,
		Monitor:   f.monitor,
		Logger:    f.logger,
	}
}

// completeRun plays the part of the hosted client and the transport: some case results
// followed by the completion of the run.
func (f *fixture) completeRun(t *testing.T, outcomes ...results.OutcomeKind) {
	for i, outcome := range outcomes {
		require.NoError(t, f.bus.Publish(events.TestCaseCompleted{Result: results.TestCaseResult{
			ClassName:  "Suite",
			MethodName: "Case" + string(rune('A'+i)),
			Outcome:    outcome,
		}}))
	}
	require.NoError(t, f.bus.Publish(events.TestRunCompleted{}))
}

func collect[E any](bus *eventbus.Bus) <-chan E {
	ch := make(chan E, 100)
	eventbus.Subscribe(bus, func(e E) { ch <- e })
	return ch
}
