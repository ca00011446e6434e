package agent

import (
	"context"

	"crewloop.app/core/internal/bus"
)

var coachTips = []string{
	"Break large milestones into checkpoints you can finish in one sitting.",
	"Commit early and often; small diffs are easier to review and revert.",
	"Write the acceptance criteria before the first line of code.",
	"Close the loop: read the last retrospective before planning the next cycle.",
}

// CoachAgent reacts to progress events with a rotating strategy tip.
type CoachAgent struct {
	*Base
}

func NewCoachAgent(ctx context.Context, workspaceID string, b bus.Bus, states *StateStore) *CoachAgent {
	a := &CoachAgent{
		Base: NewBase(ctx, workspaceID, "coach", b, states),
	}
	a.SubscribeToEvent(bus.EventMilestoneProgress, a.handleProgress)
	return a
}

func (a *CoachAgent) handleProgress(ctx context.Context, evt bus.Event) error {
	tip := coachTips[a.State().Metrics["tips_given"]%len(coachTips)]

	a.IncrementMetric(ctx, "tips_given")
	a.Remember(ctx, "coaching_insight", tip)

	return a.PublishEvent(ctx, bus.TopicAgentEvents, bus.EventCoachTip, map[string]any{
		"tip":         tip,
		"in_reply_to": evt.EventType,
	})
}
