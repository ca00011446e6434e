package router

import (
	"github.com/gin-gonic/gin"

	"crewloop.app/core/internal/http/handler"
)

func RetrospectiveRouter(rg *gin.RouterGroup, h *handler.RetrospectiveHandler) {
	rg.POST("/trigger", h.Trigger)
	rg.GET("/list", h.List)
	rg.GET("/:retrospective_id", h.Get)
}
