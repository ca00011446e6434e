package service_test

import (
	"context"
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"crewloop.app/core/common/id"
	"crewloop.app/core/internal/bus"
	"crewloop.app/core/internal/proposal"
	"crewloop.app/core/internal/service"
)

// mockCommitter records the invocation and returns a scripted commit.
type mockCommitter struct {
	commitFn     func(ctx context.Context, eventType string, data map[string]any, source string) (string, error)
	capturedData map[string]any
	calls        int
}

func (m *mockCommitter) CommitFromEvent(ctx context.Context, eventType string, data map[string]any, source string) (string, error) {
	m.calls++
	m.capturedData = data
	if m.commitFn != nil {
		return m.commitFn(ctx, eventType, data, source)
	}
	return "", nil
}

var _ = Describe("ApprovalService", func() {
	var (
		ctx       context.Context
		proposals proposal.Store
		eventBus  *bus.InMemoryBus
		committer *mockCommitter
	)

	BeforeEach(func() {
		ctx = context.Background()
		Expect(id.Init(1)).To(Succeed())

		var err error
		proposals, err = proposal.NewFileStore(GinkgoT().TempDir())
		Expect(err).NotTo(HaveOccurred())
		eventBus = bus.NewInMemoryBus()
		committer = &mockCommitter{}
	})

	createProposal := func() string {
		proposalID, err := proposals.Create(ctx, &proposal.Proposal{
			WorkspaceID: "ws",
			AgentID:     "retrospective",
			Title:       "Agent System Improvements (from Retrospective)",
			Description: "Review error handling across agents",
		})
		Expect(err).NotTo(HaveOccurred())
		return proposalID
	}

	Describe("Approve", func() {
		Context("with auto-commit enabled", func() {
			It("records the commit id and publishes the approval event", func() {
				committer.commitFn = func(ctx context.Context, eventType string, data map[string]any, source string) (string, error) {
					return "abc123", nil
				}
				svc := service.NewApprovalService(proposals, committer, eventBus, true)
				proposalID := createProposal()

				updated, err := svc.Approve(ctx, proposalID)

				Expect(err).NotTo(HaveOccurred())
				Expect(updated.Status).To(Equal(proposal.StatusApproved))
				Expect(updated.Metadata).To(HaveKeyWithValue("commit_hash", "abc123"))

				Expect(committer.capturedData).To(HaveKeyWithValue("proposal_id", proposalID))
				Expect(committer.capturedData).To(HaveKeyWithValue("changes_summary", "Review error handling across agents"))

				log := eventBus.Log()
				Expect(log).To(HaveLen(1))
				Expect(log[0].EventType).To(Equal(bus.EventProposalApproved))
				Expect(log[0].Topic).To(Equal(bus.TopicProposalEvents))
				Expect(log[0].Data).To(HaveKeyWithValue("commit_hash", "abc123"))
			})

			It("approves anyway when the committer fails", func() {
				committer.commitFn = func(ctx context.Context, eventType string, data map[string]any, source string) (string, error) {
					return "", errors.New("remote unreachable")
				}
				svc := service.NewApprovalService(proposals, committer, eventBus, true)
				proposalID := createProposal()

				updated, err := svc.Approve(ctx, proposalID)

				Expect(err).NotTo(HaveOccurred())
				Expect(updated.Status).To(Equal(proposal.StatusApproved))
				Expect(updated.Metadata).NotTo(HaveKey("commit_hash"))
			})
		})

		Context("with auto-commit disabled", func() {
			It("never invokes the committer", func() {
				svc := service.NewApprovalService(proposals, committer, eventBus, false)
				proposalID := createProposal()

				updated, err := svc.Approve(ctx, proposalID)

				Expect(err).NotTo(HaveOccurred())
				Expect(updated.Status).To(Equal(proposal.StatusApproved))
				Expect(committer.calls).To(BeZero())
			})
		})

		It("returns ErrNotFound for unknown ids", func() {
			svc := service.NewApprovalService(proposals, committer, eventBus, false)

			_, err := svc.Approve(ctx, "prop-missing")

			Expect(err).To(MatchError(proposal.ErrNotFound))
		})

		It("refuses to approve twice", func() {
			svc := service.NewApprovalService(proposals, committer, eventBus, false)
			proposalID := createProposal()

			_, err := svc.Approve(ctx, proposalID)
			Expect(err).NotTo(HaveOccurred())

			_, err = svc.Approve(ctx, proposalID)
			Expect(errors.Is(err, proposal.ErrInvalidTransition)).To(BeTrue())
		})
	})

	Describe("Reject", func() {
		It("records the reason and skips the committer entirely", func() {
			svc := service.NewApprovalService(proposals, committer, eventBus, true)
			proposalID := createProposal()

			updated, err := svc.Reject(ctx, proposalID, "out of scope for this cycle")

			Expect(err).NotTo(HaveOccurred())
			Expect(updated.Status).To(Equal(proposal.StatusRejected))
			Expect(updated.Metadata).To(HaveKeyWithValue("reason", "out of scope for this cycle"))
			Expect(committer.calls).To(BeZero())
			Expect(eventBus.Log()).To(BeEmpty())
		})

		It("refuses to reject an approved proposal", func() {
			svc := service.NewApprovalService(proposals, committer, eventBus, false)
			proposalID := createProposal()

			_, err := svc.Approve(ctx, proposalID)
			Expect(err).NotTo(HaveOccurred())

			_, err = svc.Reject(ctx, proposalID, "too late")
			Expect(errors.Is(err, proposal.ErrInvalidTransition)).To(BeTrue())
		})
	})
})
