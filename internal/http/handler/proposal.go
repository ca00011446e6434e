package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"crewloop.app/core/internal/http/dto"
	"crewloop.app/core/internal/proposal"
	"crewloop.app/core/internal/service"
)

type ProposalHandler struct {
	workspaces *service.Workspaces
}

func NewProposalHandler(workspaces *service.Workspaces) *ProposalHandler {
	return &ProposalHandler{workspaces: workspaces}
}

func (h *ProposalHandler) List(c *gin.Context) {
	ctx := c.Request.Context()

	ws, ok := resolveWorkspace(c, h.workspaces)
	if !ok {
		return
	}

	var filter *proposal.Status
	if raw := c.Query("status"); raw != "" {
		status := proposal.Status(raw)
		switch status {
		case proposal.StatusPending, proposal.StatusApproved, proposal.StatusRejected:
			filter = &status
		default:
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid status filter"})
			return
		}
	}

	proposals, err := ws.Proposals.List(ctx, filter)
	if err != nil {
		slog.ErrorContext(ctx, "failed to list proposals", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list proposals"})
		return
	}

	c.JSON(http.StatusOK, dto.ListProposalsResponse{
		Proposals: proposals,
		Count:     len(proposals),
	})
}

func (h *ProposalHandler) Get(c *gin.Context) {
	ctx := c.Request.Context()

	ws, ok := resolveWorkspace(c, h.workspaces)
	if !ok {
		return
	}

	prop, err := ws.Proposals.Get(ctx, c.Param("proposal_id"))
	if err != nil {
		writeProposalError(c, err, "failed to read proposal")
		return
	}

	c.JSON(http.StatusOK, prop)
}

func (h *ProposalHandler) Approve(c *gin.Context) {
	ctx := c.Request.Context()

	ws, ok := resolveWorkspace(c, h.workspaces)
	if !ok {
		return
	}

	updated, err := ws.Approvals.Approve(ctx, c.Param("proposal_id"))
	if err != nil {
		writeProposalError(c, err, "failed to approve proposal")
		return
	}

	commit, _ := updated.Metadata["commit_hash"].(string)
	c.JSON(http.StatusOK, dto.ProposalDecisionResponse{
		Status:        string(updated.Status),
		Proposal:      updated,
		CommitHash:    commit,
		AutoCommitted: commit != "",
	})
}

func (h *ProposalHandler) Reject(c *gin.Context) {
	ctx := c.Request.Context()

	ws, ok := resolveWorkspace(c, h.workspaces)
	if !ok {
		return
	}

	var req dto.RejectProposalRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		slog.WarnContext(ctx, "invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	updated, err := ws.Approvals.Reject(ctx, c.Param("proposal_id"), req.Reason)
	if err != nil {
		writeProposalError(c, err, "failed to reject proposal")
		return
	}

	c.JSON(http.StatusOK, dto.ProposalDecisionResponse{
		Status:   string(updated.Status),
		Proposal: updated,
	})
}

func writeProposalError(c *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, proposal.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "proposal not found"})
	case errors.Is(err, proposal.ErrInvalidTransition):
		c.JSON(http.StatusConflict, gin.H{"error": "proposal already resolved"})
	default:
		slog.ErrorContext(c.Request.Context(), fallback, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": fallback})
	}
}
