package routes

import (
	"github.com/gin-gonic/gin"

	"shuttle_coordinator/internal/controllers"
	"shuttle_coordinator/internal/middleware"
)

func TripRoutes(r *gin.Engine) {
	trips := r.Group("/trips")
	{
		// Schedule management, hotel side.
		trips.POST("", middleware.RequireRole("hotel", "frontdesk"), controllers.ScheduleTrip)
		trips.GET("", middleware.RequireRole("hotel", "frontdesk"), controllers.ListTrips)
		trips.GET("/:id", middleware.RequireAuth(), controllers.GetTrip)
		trips.POST("/:id/phase", middleware.RequireRole("hotel", "frontdesk"), controllers.OverridePhase)

		// Lifecycle, driver side.
		trips.POST("/:id/start", middleware.RequireRole("driver"), controllers.StartTrip)
		trips.POST("/:id/complete", middleware.RequireRole("driver"), controllers.CompleteTrip)
		trips.POST("/:id/cancel", middleware.RequireRole("driver", "hotel", "frontdesk"), controllers.CancelTrip)
		trips.POST("/:id/segments/next", middleware.RequireRole("driver"), controllers.StartNextSegment)
		trips.POST("/:id/segments/revert", middleware.RequireRole("driver"), controllers.RevertLastSegment)

		// Seats.
		trips.POST("/:id/bookings", middleware.RequireRole("guest"), controllers.HoldSeats)
		trips.GET("/:id/bookings", middleware.RequireRole("hotel", "frontdesk"), controllers.ListBookings)
	}
}
