package events

import (
	"github.com/statlight/harness/framework/eventbus"
	"github.com/statlight/harness/framework/results"
)

// ResultHandler receives live test outcomes as they are reported.
type ResultHandler interface {
	HandleCaseResult(result results.TestCaseResult)
	HandleOtherMessage(message OtherMessage)
}

// AttachHandler subscribes the handler to the case and message events on the bus. The
// returned function removes the subscriptions; it is safe to call more than once.
func AttachHandler(bus *eventbus.Bus, h ResultHandler) (detach func()) {
	tokens := []eventbus.Token{
		eventbus.Subscribe(bus, func(e TestCaseCompleted) { h.HandleCaseResult(e.Result) }),
		eventbus.Subscribe(bus, func(e OtherMessage) { h.HandleOtherMessage(e) }),
	}
	return func() {
		for _, t := range tokens {
			t.Unsubscribe()
		}
	}
}
