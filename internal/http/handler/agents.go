package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"crewloop.app/core/internal/service"
)

type AgentsHandler struct {
	workspaces *service.Workspaces
}

func NewAgentsHandler(workspaces *service.Workspaces) *AgentsHandler {
	return &AgentsHandler{workspaces: workspaces}
}

// Status reports each known agent's derived activity state and counters.
func (h *AgentsHandler) Status(c *gin.Context) {
	ws, ok := resolveWorkspace(c, h.workspaces)
	if !ok {
		return
	}

	c.JSON(http.StatusOK, ws.Orchestrator.AgentStatuses())
}
