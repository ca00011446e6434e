package agent

import (
	"context"
	"fmt"

	"crewloop.app/core/internal/bus"
)

// SpecAgent reviews specification content when analysis is requested and
// records what it found for later retrospectives.
type SpecAgent struct {
	*Base
}

func NewSpecAgent(ctx context.Context, workspaceID string, b bus.Bus, states *StateStore) *SpecAgent {
	a := &SpecAgent{
		Base: NewBase(ctx, workspaceID, "spec", b, states),
	}
	a.SubscribeToEvent(bus.EventSpecAnalyzeRequested, a.handleAnalyzeRequested)
	return a
}

func (a *SpecAgent) handleAnalyzeRequested(ctx context.Context, evt bus.Event) error {
	summary, _ := evt.Data["summary"].(string)
	if summary == "" {
		return fmt.Errorf("analyze request without summary")
	}

	a.Remember(ctx, "last_analysis", summary)
	a.Remember(ctx, "spec_learning", "specs with explicit acceptance criteria need fewer review rounds")
	return nil
}
