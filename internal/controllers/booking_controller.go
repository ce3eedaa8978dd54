package controllers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"shuttle_coordinator/internal/config"
	"shuttle_coordinator/internal/domain"
	"shuttle_coordinator/internal/middleware"
	"shuttle_coordinator/internal/models"
	"shuttle_coordinator/internal/publisher"
)

func bookingParam(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid booking ID"})
		return 0, false
	}
	return uint(id), true
}

// HoldSeats reserves seats for the authenticated guest on a trip. Capacity
// is enforced atomically; losing the race for the last seats returns 422
// with no side effects.
func HoldSeats(c *gin.Context) {
	tripID, ok := tripParam(c)
	if !ok {
		return
	}

	var input struct {
		Seats        int    `json:"seats" binding:"required,min=1"`
		Bags         int    `json:"bags" binding:"min=0"`
		FromLocation string `json:"from_location"`
		ToLocation   string `json:"to_location"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid input: " + err.Error()})
		return
	}

	guestID := middleware.CallerID(c)
	booking, err := seatLedger.Hold(c.Request.Context(), tripID, guestID,
		input.Seats, input.Bags, input.FromLocation, input.ToLocation)
	if err != nil {
		if stats != nil && errors.Is(err, domain.ErrCapacityExceeded) {
			stats.HoldsRejected.Inc()
		}
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}

	if stats != nil {
		stats.HoldsGranted.Inc()
	}
	publishBookingChange(booking)
	c.JSON(http.StatusCreated, gin.H{"booking": booking})
}

// ConfirmBooking marks a hold as frontdesk-confirmed.
func ConfirmBooking(c *gin.Context) {
	bookingID, ok := bookingParam(c)
	if !ok {
		return
	}

	booking, err := ds.GetBooking(c.Request.Context(), bookingID)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	if !requireTripAtCallerHotel(c, booking.TripInstanceID) {
		return
	}

	if err := seatLedger.Confirm(c.Request.Context(), bookingID); err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}

	booking, err = ds.GetBooking(c.Request.Context(), bookingID)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	publishBookingChange(booking)
	c.JSON(http.StatusOK, gin.H{"booking": booking})
}

// ReleaseBooking cancels a booking and returns its seats. Guests may
// release their own bookings; hotel staff any booking at their property.
func ReleaseBooking(c *gin.Context) {
	bookingID, ok := bookingParam(c)
	if !ok {
		return
	}

	booking, err := ds.GetBooking(c.Request.Context(), bookingID)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}

	switch middleware.CallerRole(c) {
	case "guest":
		if booking.GuestID != middleware.CallerID(c) {
			c.JSON(http.StatusForbidden, gin.H{"error": "Booking belongs to another guest"})
			return
		}
	default:
		if !requireTripAtCallerHotel(c, booking.TripInstanceID) {
			return
		}
	}

	if err := seatLedger.Release(c.Request.Context(), bookingID); err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}

	booking, err = ds.GetBooking(c.Request.Context(), bookingID)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	publishBookingChange(booking)
	c.JSON(http.StatusOK, gin.H{"booking": booking})
}

// ListBookings returns the live bookings on a trip for hotel staff.
func ListBookings(c *gin.Context) {
	tripID, ok := tripParam(c)
	if !ok {
		return
	}
	if !requireTripAtCallerHotel(c, tripID) {
		return
	}

	bookings, err := ds.ActiveBookingsByTrip(c.Request.Context(), tripID)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}

	held, confirmed, occupied := 0, 0, 0
	for _, b := range bookings {
		switch b.SeatState {
		case models.SeatHeld:
			held += b.Seats
		case models.SeatConfirmed:
			confirmed += b.Seats
		case models.SeatOccupied:
			occupied += b.Seats
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"bookings": bookings,
		"summary": gin.H{
			"held":      held,
			"confirmed": confirmed,
			"occupied":  occupied,
		},
	})
}

// MyBookings returns the authenticated guest's bookings, newest first.
func MyBookings(c *gin.Context) {
	guestID := middleware.CallerID(c)

	var bookings []models.Booking
	if err := config.DB.Where("guest_id = ?", guestID).
		Order("created_at DESC").Find(&bookings).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Error listing bookings: " + err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"bookings": bookings})
}

// publishBookingChange fans the seat-state change out over NATS, best
// effort.
func publishBookingChange(booking *models.Booking) {
	if pub == nil || booking == nil {
		return
	}
	state := booking.SeatState
	if booking.IsCancelled {
		state = "CANCELLED"
	}
	msg := publisher.BookingMessage{
		TripID:    booking.TripInstanceID,
		BookingID: booking.ID,
		SeatState: state,
		Seats:     uint(booking.Seats),
		Timestamp: time.Now(),
	}
	if err := pub.PublishBooking(msg); err != nil {
		logrus.WithError(err).WithField("booking_id", booking.ID).Warn("Booking publish failed.")
	}
}
