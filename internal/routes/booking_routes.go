package routes

import (
	"github.com/gin-gonic/gin"

	"shuttle_coordinator/internal/controllers"
	"shuttle_coordinator/internal/middleware"
)

func BookingRoutes(r *gin.Engine) {
	bookings := r.Group("/bookings")
	{
		bookings.GET("", middleware.RequireRole("guest"), controllers.MyBookings)
		bookings.POST("/:id/confirm", middleware.RequireRole("hotel", "frontdesk"), controllers.ConfirmBooking)
		bookings.POST("/:id/release", middleware.RequireRole("guest", "hotel", "frontdesk"), controllers.ReleaseBooking)
		bookings.POST("/:id/token", middleware.RequireRole("guest", "hotel", "frontdesk"), controllers.IssueCheckInToken)
	}
}
