package router

import (
	"github.com/gin-gonic/gin"

	"crewloop.app/core/internal/http/handler"
	"crewloop.app/core/internal/service"
)

func SetupRoutes(router *gin.Engine, workspaces *service.Workspaces) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	agentsHandler := handler.NewAgentsHandler(workspaces)
	retroHandler := handler.NewRetrospectiveHandler(workspaces)
	proposalHandler := handler.NewProposalHandler(workspaces)

	agents := router.Group("/agents")
	{
		agents.GET("/status", agentsHandler.Status)
		RetrospectiveRouter(agents.Group("/retrospective"), retroHandler)
	}

	ProposalRouter(router.Group("/proposals"), proposalHandler)
}
