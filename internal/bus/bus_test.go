package bus

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"

	"crewloop.app/core/common/id"
)

func TestMain(m *testing.M) {
	if err := id.Init(1); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

func TestPublishAppendsToLog(t *testing.T) {
	b := NewInMemoryBus()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := b.Publish(ctx, TopicAgentEvents, EventTaskCommitted, map[string]any{"n": i}, "test"); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}

	log := b.Log()
	if len(log) != 3 {
		t.Fatalf("log length = %d, want 3", len(log))
	}
	for i, evt := range log {
		if evt.EventType != EventTaskCommitted {
			t.Errorf("event %d type = %q, want %q", i, evt.EventType, EventTaskCommitted)
		}
		if evt.ID == 0 {
			t.Errorf("event %d has zero id", i)
		}
	}
}

func TestFailingHandlerDoesNotAffectLogOrPublisher(t *testing.T) {
	b := NewInMemoryBus()
	ctx := context.Background()

	b.Subscribe(EventTaskCommitted, func(ctx context.Context, evt Event) error {
		return errors.New("boom")
	})

	var delivered int
	b.Subscribe(EventTaskCommitted, func(ctx context.Context, evt Event) error {
		delivered++
		return nil
	})

	if err := b.Publish(ctx, TopicAgentEvents, EventTaskCommitted, nil, "test"); err != nil {
		t.Fatalf("publish returned error despite handler isolation: %v", err)
	}
	if delivered != 1 {
		t.Errorf("second handler delivered %d times, want 1", delivered)
	}
	if got := len(b.Log()); got != 1 {
		t.Errorf("log length = %d, want 1", got)
	}
}

func TestPanickingHandlerIsIsolated(t *testing.T) {
	b := NewInMemoryBus()
	ctx := context.Background()

	b.Subscribe(EventTaskCommitted, func(ctx context.Context, evt Event) error {
		panic("handler bug")
	})

	var delivered int
	b.Subscribe(EventTaskCommitted, func(ctx context.Context, evt Event) error {
		delivered++
		return nil
	})

	if err := b.Publish(ctx, TopicAgentEvents, EventTaskCommitted, nil, "test"); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if delivered != 1 {
		t.Errorf("handler after panicking one delivered %d times, want 1", delivered)
	}
}

func TestHandlersRunInSubscriptionOrder(t *testing.T) {
	b := NewInMemoryBus()
	ctx := context.Background()

	var order []string
	for _, name := range []string{"first", "second", "third"} {
		name := name
		b.Subscribe(EventMilestoneProgress, func(ctx context.Context, evt Event) error {
			order = append(order, name)
			return nil
		})
	}

	if err := b.Publish(ctx, TopicAgentEvents, EventMilestoneProgress, nil, "test"); err != nil {
		t.Fatalf("publish: %v", err)
	}

	want := []string{"first", "second", "third"}
	if len(order) != len(want) {
		t.Fatalf("delivered to %d handlers, want %d", len(order), len(want))
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("delivery %d = %q, want %q", i, order[i], want[i])
		}
	}
}

func TestEventsDeliveredInPublishOrder(t *testing.T) {
	b := NewInMemoryBus()
	ctx := context.Background()

	var seen []string
	b.Subscribe(EventTaskCommitted, func(ctx context.Context, evt Event) error {
		seen = append(seen, evt.Data["task"].(string))
		return nil
	})

	for i := 0; i < 5; i++ {
		task := fmt.Sprintf("task-%d", i)
		if err := b.Publish(ctx, TopicAgentEvents, EventTaskCommitted, map[string]any{"task": task}, "test"); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}

	for i, task := range seen {
		if want := fmt.Sprintf("task-%d", i); task != want {
			t.Errorf("delivery %d = %q, want %q", i, task, want)
		}
	}
}

func TestSubscriberIgnoresOtherEventTypes(t *testing.T) {
	b := NewInMemoryBus()
	ctx := context.Background()

	var delivered int
	b.Subscribe(EventMilestoneComplete, func(ctx context.Context, evt Event) error {
		delivered++
		return nil
	})

	if err := b.Publish(ctx, TopicAgentEvents, EventTaskCommitted, nil, "test"); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if delivered != 0 {
		t.Errorf("handler for %s received %d deliveries of %s", EventMilestoneComplete, delivered, EventTaskCommitted)
	}
}

// busWithoutLog is a Bus backend that retains no history.
type busWithoutLog struct{}

func (busWithoutLog) Publish(ctx context.Context, topic, eventType string, data map[string]any, source string) error {
	return nil
}
func (busWithoutLog) Subscribe(eventType string, handler Handler) {}

func TestHistoryCapability(t *testing.T) {
	if _, available := History(busWithoutLog{}); available {
		t.Error("History reported availability for a backend without a log")
	}

	b := NewInMemoryBus()
	if err := b.Publish(context.Background(), TopicAgentEvents, EventTaskCommitted, nil, "test"); err != nil {
		t.Fatalf("publish: %v", err)
	}
	events, available := History(b)
	if !available {
		t.Fatal("History unavailable for the in-process bus")
	}
	if len(events) != 1 {
		t.Errorf("history length = %d, want 1", len(events))
	}
}

func TestLogReturnsSnapshot(t *testing.T) {
	b := NewInMemoryBus()
	ctx := context.Background()

	if err := b.Publish(ctx, TopicAgentEvents, EventTaskCommitted, nil, "test"); err != nil {
		t.Fatalf("publish: %v", err)
	}

	snapshot := b.Log()
	if err := b.Publish(ctx, TopicAgentEvents, EventTaskCommitted, nil, "test"); err != nil {
		t.Fatalf("publish: %v", err)
	}

	if len(snapshot) != 1 {
		t.Errorf("snapshot grew after later publish: length = %d, want 1", len(snapshot))
	}
}
