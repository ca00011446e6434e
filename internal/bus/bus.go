package bus

import (
	"context"
)

// Handler processes a single delivered event. A non-nil error is logged at
// the dispatch boundary and never propagated to the publisher or to other
// subscribed handlers.
type Handler func(ctx context.Context, evt Event) error

// Bus is the publish/subscribe substrate connecting agents.
//
// Handlers subscribed to an event type are invoked for every published event
// with that type regardless of topic, in the order they were registered.
// Within one backend instance, handlers observe events of a given type in
// publish order; no ordering is guaranteed across types or instances.
type Bus interface {
	Publish(ctx context.Context, topic, eventType string, data map[string]any, source string) error
	Subscribe(eventType string, handler Handler)
}

// EventLog is the optional history capability. Only the in-process backend
// implements it; external backends do not retain a readable log.
type EventLog interface {
	Log() []Event
}

// History returns the event log of a bus when the backend retains one.
// Absence of the capability means "history unavailable", not an error.
func History(b Bus) ([]Event, bool) {
	if l, ok := b.(EventLog); ok {
		return l.Log(), true
	}
	return nil, false
}
