// Package eventbus is a synchronous, in-process publish/subscribe mechanism. Listeners are
// registered for a specific Go type; publishing a value of that type calls every listener
// that is currently registered for it, in registration order, on the publisher's goroutine.
package eventbus

import (
	"errors"
	"fmt"
	"reflect"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/statlight/harness/framework"
)

// Bus is the event bus. The zero value is not usable; call New.
type Bus struct {
	listeners map[reflect.Type][]*subscription
	lastID    uint64
	logger    framework.Logger
	lock      sync.Mutex
}

type subscription struct {
	id     uint64
	invoke func(interface{})
	active atomic.Bool
}

// Token identifies a registered listener.
type Token struct {
	bus       *Bus
	eventType reflect.Type
	id        uint64
}

// ListenerError describes a listener that panicked while handling an event.
type ListenerError struct {
	EventType string
	Value     interface{}
	Stack     []byte
}

func (e ListenerError) Error() string {
	return fmt.Sprintf("listener for %s failed: %v", e.EventType, e.Value)
}

// New creates a Bus. Listener failures are reported to the logger, which may be nil.
func New(logger framework.Logger) *Bus {
	return &Bus{
		listeners: make(map[reflect.Type][]*subscription),
		logger:    framework.OrNullLogger(logger),
	}
}

// Subscribe registers a listener for events of type E.
func Subscribe[E any](b *Bus, listener func(E)) Token {
	eventType := reflect.TypeOf((*E)(nil)).Elem()
	s := &subscription{
		invoke: func(event interface{}) { listener(event.(E)) },
	}
	s.active.Store(true)

	b.lock.Lock()
	defer b.lock.Unlock()
	b.lastID++
	s.id = b.lastID
	// copy-on-write: a publish that is in progress keeps iterating over its own snapshot
	old := b.listeners[eventType]
	updated := make([]*subscription, 0, len(old)+1)
	updated = append(updated, old...)
	b.listeners[eventType] = append(updated, s)
	return Token{bus: b, eventType: eventType, id: s.id}
}

// Unsubscribe removes the listener. It is safe to call more than once, and safe to call from
// inside any listener, including the one being removed. Publishes that start after it returns
// never call the listener. A publish already in progress skips the listener if Unsubscribe
// returned before that publish reached it, which is always the case when an earlier listener
// of the same publish did the unsubscribing. A Publish running concurrently on another
// goroutine may still deliver one event that it had already begun to deliver.
func (t Token) Unsubscribe() {
	if t.bus == nil {
		return
	}
	b := t.bus
	b.lock.Lock()
	defer b.lock.Unlock()
	old := b.listeners[t.eventType]
	for i, s := range old {
		if s.id == t.id {
			s.active.Store(false)
			updated := make([]*subscription, 0, len(old)-1)
			updated = append(updated, old[:i]...)
			updated = append(updated, old[i+1:]...)
			if len(updated) == 0 {
				delete(b.listeners, t.eventType)
			} else {
				b.listeners[t.eventType] = updated
			}
			return
		}
	}
}

// Publish calls every listener registered for the dynamic type of event. A listener that
// panics does not prevent delivery to the others; every such failure is logged and also
// returned, joined into a single error.
func (b *Bus) Publish(event interface{}) error {
	if event == nil {
		return errors.New("cannot publish a nil event")
	}
	eventType := reflect.TypeOf(event)
	b.lock.Lock()
	snapshot := b.listeners[eventType]
	b.lock.Unlock()

	var errs []error
	for _, s := range snapshot {
		if !s.active.Load() {
			continue
		}
		if err := b.deliver(s, eventType, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ListenerCount returns the number of listeners currently registered for the type of the
// given event value. Components do not consult it; tests use it to check that a component
// has detached from the bus.
func (b *Bus) ListenerCount(event interface{}) int {
	b.lock.Lock()
	defer b.lock.Unlock()
	return len(b.listeners[reflect.TypeOf(event)])
}

func (b *Bus) deliver(s *subscription, eventType reflect.Type, event interface{}) (err error) {
	defer func() {
		if r := recover(); r != nil {
			le := ListenerError{EventType: eventType.String(), Value: r, Stack: debug.Stack()}
			b.logger.Printf("%s\n%s", le.Error(), string(le.Stack))
			err = le
		}
	}()
	s.invoke(event)
	return nil
}
