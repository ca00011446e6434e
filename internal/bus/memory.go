package bus

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"crewloop.app/core/common/id"
	"crewloop.app/core/common/logger"
)

// InMemoryBus is the single-node backend. Publishing appends to the shared
// log before dispatching, so an observer reading the log immediately after a
// publish call sees the event. Dispatch is synchronous and serialized, which
// gives FIFO delivery per topic for free.
type InMemoryBus struct {
	mu          sync.Mutex
	subscribers map[string][]Handler
	log         []Event
}

func NewInMemoryBus() *InMemoryBus {
	return &InMemoryBus{
		subscribers: make(map[string][]Handler),
	}
}

func (b *InMemoryBus) Subscribe(eventType string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], handler)
}

func (b *InMemoryBus) Publish(ctx context.Context, topic, eventType string, data map[string]any, source string) error {
	evt := Event{
		ID:        id.New(),
		EventType: eventType,
		Topic:     topic,
		Source:    source,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}

	b.mu.Lock()
	b.log = append(b.log, evt)
	handlers := make([]Handler, len(b.subscribers[eventType]))
	copy(handlers, b.subscribers[eventType])
	b.mu.Unlock()

	ctx = logger.WithLogFields(ctx, logger.LogFields{
		EventType: logger.Ptr(eventType),
		Component: "crewloop.bus.memory",
	})

	for _, handler := range handlers {
		dispatch(ctx, handler, evt)
	}

	return nil
}

// Log returns a snapshot of the append-only event log. The log is bounded by
// process lifetime and is not a durable store.
func (b *InMemoryBus) Log() []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Event, len(b.log))
	copy(out, b.log)
	return out
}

// dispatch invokes one handler with full isolation: an error or panic is
// logged and delivery continues to the remaining handlers.
func dispatch(ctx context.Context, handler Handler, evt Event) {
	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "event handler panicked",
				"panic", r,
				"source", evt.Source,
				"topic", evt.Topic)
		}
	}()

	if err := handler(ctx, evt); err != nil {
		slog.ErrorContext(ctx, "event handler failed",
			"error", err,
			"source", evt.Source,
			"topic", evt.Topic)
	}
}
