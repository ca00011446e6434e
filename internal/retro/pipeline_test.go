package retro_test

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"crewloop.app/core/common/id"
	"crewloop.app/core/internal/agent"
	"crewloop.app/core/internal/bus"
	"crewloop.app/core/internal/proposal"
	"crewloop.app/core/internal/retro"
	"crewloop.app/core/internal/summarizer"
)

// mockSummarizer captures the payload and returns a scripted result.
type mockSummarizer struct {
	summarizeFn     func(ctx context.Context, payload summarizer.Payload) (string, error)
	capturedPayload *summarizer.Payload
}

func (m *mockSummarizer) Summarize(ctx context.Context, payload summarizer.Payload) (string, error) {
	m.capturedPayload = &payload
	if m.summarizeFn != nil {
		return m.summarizeFn(ctx, payload)
	}
	return "", errors.New("not scripted")
}

var _ = Describe("Pipeline", func() {
	var (
		ctx       context.Context
		states    *agent.StateStore
		eventBus  *bus.InMemoryBus
		retros    *retro.Store
		proposals proposal.Store
		agentIDs  []string
	)

	BeforeEach(func() {
		ctx = context.Background()
		Expect(id.Init(1)).To(Succeed())

		dir := GinkgoT().TempDir()
		var err error
		states, err = agent.NewStateStore(dir)
		Expect(err).NotTo(HaveOccurred())
		eventBus = bus.NewInMemoryBus()
		retros = retro.NewStore(dir)
		proposals, err = proposal.NewFileStore(dir)
		Expect(err).NotTo(HaveOccurred())
		agentIDs = []string{"spec", "git", "coach", "milestone", "retrospective"}
	})

	newPipeline := func(summ summarizer.Summarizer) *retro.Pipeline {
		return retro.NewPipeline(retro.Config{
			WorkspaceID: "ws",
			AgentIDs:    agentIDs,
			States:      states,
			Bus:         eventBus,
			Retros:      retros,
			Proposals:   proposals,
			Summarizer:  summ,
		})
	}

	seedState := func(agentID string, metrics map[string]int, memory map[string]any) {
		Expect(states.Save(ctx, agent.State{
			AgentID:     agentID,
			Metrics:     metrics,
			Memory:      memory,
			LastUpdated: time.Now().UTC(),
		})).To(Succeed())
	}

	Context("with no agent state at all", func() {
		It("still completes with the fallback action item", func() {
			r := newPipeline(nil).Run(ctx, "manual")

			Expect(r).NotTo(BeNil())
			Expect(r.Insights).To(BeEmpty())
			Expect(r.ActionItems).To(HaveLen(1))
			Expect(r.ActionItems[0].Priority).To(Equal(retro.PriorityLow))
			Expect(r.ActionItems[0].Action).To(Equal("Continue current workflow - agents performing well"))
			Expect(r.ActionItems[0].AssignedTo).To(Equal("team"))
		})

		It("persists the retrospective", func() {
			r := newPipeline(nil).Run(ctx, "manual")

			stored, err := retros.Get(ctx, r.RetrospectiveID)
			Expect(err).NotTo(HaveOccurred())
			Expect(stored.Trigger).To(Equal("manual"))
			Expect(stored.ActionItems).To(Equal(r.ActionItems))
		})

		It("derives a proposal from the fallback item using the generic template", func() {
			r := newPipeline(nil).Run(ctx, "manual")

			Expect(r.ProposalID).NotTo(BeEmpty())
			prop, err := proposals.Get(ctx, r.ProposalID)
			Expect(err).NotTo(HaveOccurred())
			Expect(prop.Title).To(Equal("Agent System Improvements (from Retrospective)"))
			Expect(prop.Status).To(Equal(proposal.StatusPending))
			Expect(prop.Description).To(ContainSubstring("Review the relevant agent code"))
			Expect(prop.Metadata).To(HaveKeyWithValue("retrospective_id", r.RetrospectiveID))
			Expect(prop.ProposedChanges).To(HaveLen(1))
			Expect(prop.ProposedChanges[0].FilePath).To(Equal("docs/agent_improvements_" + r.RetrospectiveID + ".md"))
		})

		It("publishes a summary event carrying the proposal id", func() {
			r := newPipeline(nil).Run(ctx, "manual")

			var summaryEvents []bus.Event
			for _, evt := range eventBus.Log() {
				if evt.EventType == bus.EventRetroSummary {
					summaryEvents = append(summaryEvents, evt)
				}
			}
			Expect(summaryEvents).To(HaveLen(1))
			Expect(summaryEvents[0].Topic).To(Equal(bus.TopicRetrospectiveEvents))
			Expect(summaryEvents[0].Data).To(HaveKeyWithValue("retrospective_id", r.RetrospectiveID))
			Expect(summaryEvents[0].Data).To(HaveKeyWithValue("proposal_id", r.ProposalID))
		})
	})

	Context("with agents reporting errors", func() {
		BeforeEach(func() {
			seedState("milestone", map[string]int{"events_processed": 10, "errors": 3}, nil)
		})

		It("emits the error insight with the summed count", func() {
			r := newPipeline(nil).Run(ctx, "manual")

			Expect(r.Insights).To(ContainElement("⚠️ 3 errors occurred across all agents. Review error logs."))
		})

		It("proposes a high-priority error-handling action", func() {
			r := newPipeline(nil).Run(ctx, "manual")

			Expect(r.ActionItems).To(ContainElement(retro.ActionItem{
				Priority:   retro.PriorityHigh,
				Action:     "Review error logs and fix agent error handling",
				AssignedTo: "developer",
			}))
		})

		It("prefers the high-priority items when deriving the proposal", func() {
			r := newPipeline(nil).Run(ctx, "manual")

			prop, err := proposals.Get(ctx, r.ProposalID)
			Expect(err).NotTo(HaveOccurred())
			Expect(prop.Description).To(ContainSubstring("**Priority:** HIGH"))
			Expect(prop.Description).To(ContainSubstring("Review error counters"))
			Expect(prop.Description).NotTo(ContainSubstring("**Priority:** MEDIUM"))
		})
	})

	Context("with idle agents", func() {
		BeforeEach(func() {
			seedState("milestone", map[string]int{"events_processed": 4}, nil)
			seedState("spec", map[string]int{}, nil)
			seedState("coach", map[string]int{}, nil)
		})

		It("lists the idle agents sorted by id", func() {
			r := newPipeline(nil).Run(ctx, "manual")

			Expect(r.Insights).To(ContainElement("⏸️ Idle agents: coach, spec. Consider reviewing their triggers."))
		})

		It("proposes a medium-priority subscription review", func() {
			r := newPipeline(nil).Run(ctx, "manual")

			Expect(r.ActionItems).To(ContainElement(retro.ActionItem{
				Priority:   retro.PriorityMedium,
				Action:     "Review event subscriptions for idle agents",
				AssignedTo: "developer",
			}))
		})
	})

	Context("with recorded learnings", func() {
		BeforeEach(func() {
			seedState("spec", map[string]int{"events_processed": 2},
				map[string]any{"spec_learning": "summaries shrink ambiguity", "last_analysis": "ignored"})
			seedState("coach", map[string]int{"events_processed": 1},
				map[string]any{"coaching_insight": "commit early"})
		})

		It("collects only learning and insight keys", func() {
			r := newPipeline(nil).Run(ctx, "manual")

			Expect(r.AgentLearnings).To(HaveKey("spec"))
			Expect(r.AgentLearnings).To(HaveKey("coach"))
			Expect(r.AgentLearnings["spec"]).To(HaveKey("spec_learning"))
			Expect(r.AgentLearnings["spec"]).NotTo(HaveKey("last_analysis"))
		})

		It("names the learning agents in one insight", func() {
			r := newPipeline(nil).Run(ctx, "manual")

			Expect(r.Insights).To(ContainElement("Agents coach, spec recorded learnings for future reference."))
		})
	})

	Context("with event history on the bus", func() {
		BeforeEach(func() {
			seedState("milestone", map[string]int{"events_processed": 3}, nil)
			for i := 0; i < 3; i++ {
				Expect(eventBus.Publish(ctx, bus.TopicAgentEvents, bus.EventTaskCommitted, nil, "milestone")).To(Succeed())
			}
			Expect(eventBus.Publish(ctx, bus.TopicAgentEvents, bus.EventCoachTip, nil, "coach")).To(Succeed())
		})

		It("summarizes the log and names the most active source", func() {
			r := newPipeline(nil).Run(ctx, "manual")

			Expect(r.EventSummary.TotalEvents).To(Equal(4))
			Expect(r.EventSummary.EventTypes).To(HaveKeyWithValue(bus.EventTaskCommitted, 3))
			Expect(r.EventSummary.MostActiveAgent).To(Equal("milestone"))
			Expect(r.Insights).To(ContainElement("Most active agent: milestone. Strong cross-agent communication observed."))
		})
	})

	Context("narrative synthesis", func() {
		It("uses the summarizer's prose on success", func() {
			summ := &mockSummarizer{
				summarizeFn: func(ctx context.Context, payload summarizer.Payload) (string, error) {
					return "A quiet but productive cycle.", nil
				},
			}

			r := newPipeline(summ).Run(ctx, "manual")

			Expect(r.LLMSummary).To(Equal("A quiet but productive cycle."))
			Expect(summ.capturedPayload).NotTo(BeNil())
			Expect(summ.capturedPayload.ActionItems).To(HaveLen(len(r.ActionItems)))
		})

		It("substitutes the fallback text when the summarizer fails", func() {
			summ := &mockSummarizer{
				summarizeFn: func(ctx context.Context, payload summarizer.Payload) (string, error) {
					return "", errors.New("rate limited")
				},
			}

			r := newPipeline(summ).Run(ctx, "manual")

			Expect(r.LLMSummary).To(Equal(summarizer.FallbackSummary))
		})

		It("produces no narrative without a summarizer", func() {
			r := newPipeline(nil).Run(ctx, "manual")

			Expect(r.LLMSummary).To(BeEmpty())
		})
	})

	Context("without a proposal store", func() {
		It("skips proposal creation and omits the id from the summary event", func() {
			p := retro.NewPipeline(retro.Config{
				WorkspaceID: "ws",
				AgentIDs:    agentIDs,
				States:      states,
				Bus:         eventBus,
				Retros:      retros,
			})

			r := p.Run(ctx, "manual")

			Expect(r.ProposalID).To(BeEmpty())
			log := eventBus.Log()
			Expect(log).NotTo(BeEmpty())
			last := log[len(log)-1]
			Expect(last.EventType).To(Equal(bus.EventRetroSummary))
			Expect(last.Data).NotTo(HaveKey("proposal_id"))
		})
	})
})
