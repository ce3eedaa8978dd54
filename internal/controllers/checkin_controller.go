package controllers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"shuttle_coordinator/internal/domain"
	"shuttle_coordinator/internal/middleware"
)

// IssueCheckInToken returns the booking's QR token, minting one on first
// call. Guests may request tokens for their own bookings; hotel staff for
// any booking at their property.
func IssueCheckInToken(c *gin.Context) {
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

	token, err := checkins.IssueForBooking(c.Request.Context(), bookingID)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"token":      token.Token,
		"booking_id": token.BookingID,
		"issued_at":  token.IssuedAt,
		"expires_at": token.ExpiresAt,
	})
}

// VerifyCheckInToken resolves a scanned token for the driver's
// confirmation screen. Read-only: scanning never consumes the token. Only
// the trip's assigned driver can resolve it.
func VerifyCheckInToken(c *gin.Context) {
	value := c.Query("token")
	if value == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing token parameter"})
		return
	}

	driver, err := driverForCaller(c)
	if err != nil {
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
		return
	}

	summary, err := checkins.Verify(c.Request.Context(), value, driver.ID)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"booking": summary})
}

// ConfirmCheckIn consumes the token and boards the passenger, exactly
// once. Retries of the same token return 409 without double-counting.
func ConfirmCheckIn(c *gin.Context) {
	var input struct {
		Token string `json:"token" binding:"required"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid input: " + err.Error()})
		return
	}

	driver, err := driverForCaller(c)
	if err != nil {
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
		return
	}

	summary, err := checkins.Confirm(c.Request.Context(), input.Token, driver.ID)
	if err != nil {
		if stats != nil {
			stats.CheckIns.WithLabelValues(checkInResult(err)).Inc()
		}
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}

	if stats != nil {
		stats.CheckIns.WithLabelValues("ok").Inc()
	}

	booking, err := ds.GetBooking(c.Request.Context(), summary.BookingID)
	if err == nil {
		publishBookingChange(booking)
	}

	c.JSON(http.StatusOK, gin.H{"booking": summary})
}

func checkInResult(err error) string {
	switch {
	case errors.Is(err, domain.ErrExpired):
		return "expired"
	case errors.Is(err, domain.ErrAlreadyConsumed):
		return "consumed"
	default:
		return "invalid"
	}
}
