package routes

import (
	"github.com/gin-gonic/gin"

	"shuttle_coordinator/internal/controllers"
)

func WebSocketRoutes(r *gin.Engine) {
	// Authentication happens inside the handler; the JWT arrives as a
	// query parameter because browsers cannot set websocket headers.
	ws := r.Group("/ws")
	{
		ws.GET("/location", controllers.HandleLocationWebSocket)
	}
}
