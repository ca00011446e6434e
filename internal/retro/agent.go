package retro

import (
	"context"
	"log/slog"

	"crewloop.app/core/internal/agent"
	"crewloop.app/core/internal/bus"
)

// Agent runs the retrospective pipeline whenever a milestone completes.
type Agent struct {
	*agent.Base
	pipeline *Pipeline
}

func NewAgent(ctx context.Context, workspaceID string, b bus.Bus, states *agent.StateStore, pipeline *Pipeline) *Agent {
	a := &Agent{
		Base:     agent.NewBase(ctx, workspaceID, "retrospective", b, states),
		pipeline: pipeline,
	}
	a.SubscribeToEvent(bus.EventMilestoneComplete, a.handleMilestoneComplete)
	return a
}

func (a *Agent) handleMilestoneComplete(ctx context.Context, evt bus.Event) error {
	r := a.pipeline.Run(ctx, "milestone_complete")

	a.IncrementMetric(ctx, "retrospectives_run")
	a.Remember(ctx, "last_retrospective", r.RetrospectiveID)

	slog.InfoContext(ctx, "milestone retrospective complete",
		"retrospective_id", r.RetrospectiveID,
		"insights", len(r.Insights),
		"action_items", len(r.ActionItems))
	return nil
}
