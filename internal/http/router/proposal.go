package router

import (
	"github.com/gin-gonic/gin"

	"crewloop.app/core/internal/http/handler"
)

func ProposalRouter(rg *gin.RouterGroup, h *handler.ProposalHandler) {
	rg.GET("", h.List)
	rg.GET("/:proposal_id", h.Get)
	rg.POST("/:proposal_id/approve", h.Approve)
	rg.POST("/:proposal_id/reject", h.Reject)
}
