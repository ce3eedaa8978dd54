package routes

import (
	ginlogger "github.com/gin-contrib/logger"
	"github.com/gin-gonic/gin"

	"shuttle_coordinator/internal/middleware"
)

func SetupRouter() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(ginlogger.SetLogger())
	r.Use(middleware.CORS())

	AuthRoutes(r)
	TemplateRoutes(r)
	TripRoutes(r)
	BookingRoutes(r)
	CheckInRoutes(r)
	WebSocketRoutes(r)

	return r
}
