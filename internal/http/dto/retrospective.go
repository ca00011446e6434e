package dto

import (
	"time"

	"crewloop.app/core/internal/retro"
)

type TriggerRetrospectiveRequest struct {
	Trigger string `json:"trigger" binding:"omitempty,max=64"`
}

type TriggerRetrospectiveResponse struct {
	Status        string               `json:"status"`
	Retrospective *retro.Retrospective `json:"retrospective"`
}

// RetrospectiveBrief is the listing view; the full record is served by the
// get endpoint.
type RetrospectiveBrief struct {
	RetrospectiveID  string    `json:"retrospective_id"`
	Timestamp        time.Time `json:"timestamp"`
	Trigger          string    `json:"trigger"`
	InsightsCount    int       `json:"insights_count"`
	ActionItemsCount int       `json:"action_items_count"`
}

type ListRetrospectivesResponse struct {
	Retrospectives []RetrospectiveBrief `json:"retrospectives"`
	Count          int                  `json:"count"`
}

func ToRetrospectiveBrief(r retro.Retrospective) RetrospectiveBrief {
	return RetrospectiveBrief{
		RetrospectiveID:  r.RetrospectiveID,
		Timestamp:        r.Timestamp,
		Trigger:          r.Trigger,
		InsightsCount:    len(r.Insights),
		ActionItemsCount: len(r.ActionItems),
	}
}
