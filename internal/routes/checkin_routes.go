package routes

import (
	"github.com/gin-gonic/gin"

	"shuttle_coordinator/internal/controllers"
	"shuttle_coordinator/internal/middleware"
)

func CheckInRoutes(r *gin.Engine) {
	checkin := r.Group("/checkin")
	checkin.Use(middleware.RequireRole("driver"))
	{
		checkin.GET("/verify", controllers.VerifyCheckInToken)
		checkin.POST("/confirm", controllers.ConfirmCheckIn)
	}
}
