package agent

import (
	"context"

	"crewloop.app/core/internal/bus"
)

// tasksPerMilestone is how many committed tasks complete one milestone.
const tasksPerMilestone = 5

// MilestoneAgent tracks committed tasks and closes milestones, which is what
// triggers retrospectives at cycle boundaries.
type MilestoneAgent struct {
	*Base
}

func NewMilestoneAgent(ctx context.Context, workspaceID string, b bus.Bus, states *StateStore) *MilestoneAgent {
	a := &MilestoneAgent{
		Base: NewBase(ctx, workspaceID, "milestone", b, states),
	}
	a.SubscribeToEvent(bus.EventTaskCommitted, a.handleTaskCommitted)
	return a
}

func (a *MilestoneAgent) handleTaskCommitted(ctx context.Context, evt bus.Event) error {
	a.IncrementMetric(ctx, "tasks_tracked")
	tracked := a.State().Metrics["tasks_tracked"]

	if err := a.PublishEvent(ctx, bus.TopicAgentEvents, bus.EventMilestoneProgress, map[string]any{
		"tasks_tracked": tracked,
		"remaining":     tasksPerMilestone - tracked%tasksPerMilestone,
	}); err != nil {
		return err
	}

	if tracked%tasksPerMilestone != 0 {
		return nil
	}

	a.Remember(ctx, "milestone_learning", "cycles close faster when task size stays uniform")

	return a.PublishEvent(ctx, bus.TopicAgentEvents, bus.EventMilestoneComplete, map[string]any{
		"milestone": tracked / tasksPerMilestone,
	})
}
