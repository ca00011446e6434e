package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"crewloop.app/core/internal/http/dto"
	"crewloop.app/core/internal/retro"
	"crewloop.app/core/internal/service"
)

type RetrospectiveHandler struct {
	workspaces *service.Workspaces
}

func NewRetrospectiveHandler(workspaces *service.Workspaces) *RetrospectiveHandler {
	return &RetrospectiveHandler{workspaces: workspaces}
}

// Trigger runs a retrospective immediately. The run never fails; degraded
// sub-steps produce partial data inside the returned record.
func (h *RetrospectiveHandler) Trigger(c *gin.Context) {
	ctx := c.Request.Context()

	ws, ok := resolveWorkspace(c, h.workspaces)
	if !ok {
		return
	}

	var req dto.TriggerRetrospectiveRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		slog.WarnContext(ctx, "invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	trigger := req.Trigger
	if trigger == "" {
		trigger = "manual"
	}

	r := ws.Orchestrator.Pipeline().Run(ctx, trigger)

	c.JSON(http.StatusOK, dto.TriggerRetrospectiveResponse{
		Status:        "success",
		Retrospective: r,
	})
}

func (h *RetrospectiveHandler) List(c *gin.Context) {
	ctx := c.Request.Context()

	ws, ok := resolveWorkspace(c, h.workspaces)
	if !ok {
		return
	}

	retros, err := ws.Retros.List(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to list retrospectives", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list retrospectives"})
		return
	}

	briefs := make([]dto.RetrospectiveBrief, 0, len(retros))
	for _, r := range retros {
		briefs = append(briefs, dto.ToRetrospectiveBrief(r))
	}

	c.JSON(http.StatusOK, dto.ListRetrospectivesResponse{
		Retrospectives: briefs,
		Count:          len(briefs),
	})
}

func (h *RetrospectiveHandler) Get(c *gin.Context) {
	ctx := c.Request.Context()

	ws, ok := resolveWorkspace(c, h.workspaces)
	if !ok {
		return
	}

	r, err := ws.Retros.Get(ctx, c.Param("retrospective_id"))
	if err != nil {
		if errors.Is(err, retro.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "retrospective not found"})
			return
		}
		slog.ErrorContext(ctx, "failed to read retrospective", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read retrospective"})
		return
	}

	c.JSON(http.StatusOK, r)
}
