package agent

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"crewloop.app/core/common/logger"
	"crewloop.app/core/internal/bus"
)

// Agent is an independently-acting component reacting to published events
// and owning its own persisted state.
type Agent interface {
	ID() string
	// State returns a snapshot copy; callers never observe in-flight writes.
	State() State
	Shutdown(ctx context.Context) error
}

// HandlerFunc is the concrete event handler an agent registers through its
// Base. Errors are accounted (errors metric) and logged, never propagated to
// the bus dispatch loop.
type HandlerFunc func(ctx context.Context, evt bus.Event) error

// Base carries the runtime contract shared by every agent: state keyed by
// (workspace, agent id), metric accounting, memory, and event publishing.
// Concrete agents embed *Base and register handlers in their constructor.
type Base struct {
	workspaceID string
	agentID     string
	bus         bus.Bus
	states      *StateStore

	mu    sync.Mutex
	state State
}

func NewBase(ctx context.Context, workspaceID, agentID string, b bus.Bus, states *StateStore) *Base {
	return &Base{
		workspaceID: workspaceID,
		agentID:     agentID,
		bus:         b,
		states:      states,
		state:       states.Load(ctx, agentID),
	}
}

func (b *Base) ID() string { return b.agentID }

func (b *Base) WorkspaceID() string { return b.workspaceID }

// State returns a snapshot copy of the agent's state.
func (b *Base) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state.clone()
}

// SubscribeToEvent registers handler for an event type, wrapped so that a
// handled event increments events_processed exactly once, a failure
// increments errors exactly once and re-logs instead of crashing, and the
// state file is rewritten after every handled event.
func (b *Base) SubscribeToEvent(eventType string, handler HandlerFunc) {
	b.bus.Subscribe(eventType, func(ctx context.Context, evt bus.Event) error {
		ctx = logger.WithLogFields(ctx, logger.LogFields{
			WorkspaceID: logger.Ptr(b.workspaceID),
			AgentID:     logger.Ptr(b.agentID),
		})

		if err := handler(ctx, evt); err != nil {
			slog.ErrorContext(ctx, "agent failed to handle event",
				"error", err,
				"source", evt.Source)
			b.IncrementMetric(ctx, "errors")
			return nil
		}

		b.IncrementMetric(ctx, "events_processed")
		return nil
	})
}

// IncrementMetric bumps a counter by one and persists the state. Safe to
// call from the agent's own handler; per-agent state is single-writer.
func (b *Base) IncrementMetric(ctx context.Context, name string) {
	b.mu.Lock()
	b.state.Metrics[name]++
	b.state.LastUpdated = time.Now().UTC()
	snapshot := b.state.clone()
	b.mu.Unlock()

	b.persist(ctx, snapshot)
}

// Remember stores a value in the agent's memory and persists the state.
// Keys containing "learning" or "insight" surface in retrospectives.
func (b *Base) Remember(ctx context.Context, key string, value any) {
	b.mu.Lock()
	b.state.Memory[key] = value
	b.state.LastUpdated = time.Now().UTC()
	snapshot := b.state.clone()
	b.mu.Unlock()

	b.persist(ctx, snapshot)
}

// PublishEvent publishes on behalf of this agent and counts it.
func (b *Base) PublishEvent(ctx context.Context, topic, eventType string, data map[string]any) error {
	if err := b.bus.Publish(ctx, topic, eventType, data, b.agentID); err != nil {
		return err
	}
	b.IncrementMetric(ctx, "events_published")
	return nil
}

// Shutdown persists the final state. Persisted state is never deleted here.
func (b *Base) Shutdown(ctx context.Context) error {
	b.mu.Lock()
	snapshot := b.state.clone()
	b.mu.Unlock()
	return b.states.Save(ctx, snapshot)
}

func (b *Base) persist(ctx context.Context, snapshot State) {
	if err := b.states.Save(ctx, snapshot); err != nil {
		slog.ErrorContext(ctx, "failed to persist agent state", "error", err)
	}
}
