// Package watch notices when the test package is rebuilt.
package watch

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/statlight/harness/framework"
	"github.com/statlight/harness/framework/helpers"

	"github.com/fsnotify/fsnotify"
)

const defaultDebounce = 500 * time.Millisecond

// Monitor watches one file. A build usually writes its output in several steps, so changes
// are reported only once the file has been quiet for the debounce period.
type Monitor struct {
	dir      string
	base     string
	debounce time.Duration
	logger   framework.Logger
	watcher  *fsnotify.Watcher
	changes  chan struct{}
	done     chan struct{}
	once     sync.Once
}

type Option helpers.ConfigOption[Monitor]

type optionDebounce time.Duration

func (o optionDebounce) Configure(m *Monitor) error {
	if o < 0 {
		return errors.New("debounce period cannot be negative")
	}
	m.debounce = time.Duration(o)
	return nil
}

// Debounce sets how long the file must be unchanged before a change is reported.
func Debounce(d time.Duration) Option { return optionDebounce(d) }

type optionLogger struct{ logger framework.Logger }

func (o optionLogger) Configure(m *Monitor) error {
	m.logger = framework.OrNullLogger(o.logger)
	return nil
}

// Logger sets the debug logger.
func Logger(logger framework.Logger) Option { return optionLogger{logger} }

// New starts watching path. The file's directory must exist; the file itself may not exist
// yet.
func New(path string, options ...Option) (*Monitor, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	m := &Monitor{
		dir:      filepath.Dir(abs),
		base:     filepath.Base(abs),
		debounce: defaultDebounce,
		logger:   framework.NullLogger(),
		changes:  make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	if err := helpers.ApplyOptions(m, options...); err != nil {
		return nil, err
	}
	if info, err := os.Stat(m.dir); err != nil || !info.IsDir() {
		return nil, fmt.Errorf("cannot watch %s: directory %s is not available", path, m.dir)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("cannot watch %s: %w", path, err)
	}
	// Watching the directory rather than the file survives builds that replace the file.
	if err := watcher.Add(m.dir); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("cannot watch %s: %w", path, err)
	}
	m.watcher = watcher
	go m.loop()
	m.logger.Printf("Watching %s for changes", abs)
	return m, nil
}

// Changes delivers a value after each debounced change. Changes that happen while a previous
// one has not been received yet are merged into it. The channel is closed by Close.
func (m *Monitor) Changes() <-chan struct{} { return m.changes }

// Close stops watching.
func (m *Monitor) Close() error {
	var err error
	m.once.Do(func() {
		err = m.watcher.Close()
		<-m.done
	})
	return err
}

func (m *Monitor) loop() {
	defer close(m.done)
	defer close(m.changes)

	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case event, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != m.base ||
				!event.Op.Has(fsnotify.Write) && !event.Op.Has(fsnotify.Create) && !event.Op.Has(fsnotify.Rename) {
				continue
			}
			m.logger.Printf("Build output changed: %s", event)
			timer.Reset(m.debounce)
		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			m.logger.Printf("Error while watching %s: %s", m.dir, err)
		case <-timer.C:
			helpers.NonBlockingSend(m.changes, struct{}{})
		}
	}
}
