package handler

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"crewloop.app/core/internal/service"
)

const defaultWorkspaceID = "default"

// resolveWorkspace looks up the request's workspace bundle. On failure it
// writes the error response and reports false.
func resolveWorkspace(c *gin.Context, workspaces *service.Workspaces) (*service.Workspace, bool) {
	ctx := c.Request.Context()

	workspaceID := c.Query("workspace_id")
	if workspaceID == "" {
		workspaceID = defaultWorkspaceID
	}

	ws, err := workspaces.Get(ctx, workspaceID)
	if err != nil {
		slog.ErrorContext(ctx, "failed to resolve workspace", "workspace_id", workspaceID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to resolve workspace"})
		return nil, false
	}
	return ws, true
}
