package controllers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"shuttle_coordinator/internal/config"
	"shuttle_coordinator/internal/middleware"
	"shuttle_coordinator/internal/models"
	"shuttle_coordinator/internal/publisher"
)

// driverForCaller resolves the authenticated user to their driver record.
func driverForCaller(c *gin.Context) (*models.Driver, error) {
	userID := middleware.CallerID(c)

	var driver models.Driver
	if err := config.DB.Where("user_id = ?", userID).First(&driver).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.New("driver profile not found")
		}
		return nil, err
	}
	return &driver, nil
}

// tripParam parses the :id path parameter.
func tripParam(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid trip ID"})
		return 0, false
	}
	return uint(id), true
}

// tripHotelID resolves the hotel that owns a trip through its template.
func tripHotelID(tripID uint) (uint, error) {
	var row struct{ HotelID uint }
	err := config.DB.Model(&models.TripInstance{}).
		Select("trip_templates.hotel_id").
		Joins("JOIN trip_templates ON trip_templates.id = trip_instances.trip_template_id").
		Where("trip_instances.id = ?", tripID).
		Scan(&row).Error
	if err != nil {
		return 0, err
	}
	return row.HotelID, nil
}

// requireTripAtCallerHotel aborts with 403 unless the trip belongs to the
// frontdesk/hotel caller's property.
func requireTripAtCallerHotel(c *gin.Context, tripID uint) bool {
	hotelID, err := hotelForCaller(c)
	if err != nil {
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
		return false
	}
	owner, err := tripHotelID(tripID)
	if err != nil || owner == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "Trip not found"})
		return false
	}
	if owner != hotelID {
		c.JSON(http.StatusForbidden, gin.H{"error": "Trip belongs to another hotel"})
		return false
	}
	return true
}

// ScheduleTrip instantiates a trip template into a dated trip with its
// route legs. Legs are derived from consecutive template stops.
func ScheduleTrip(c *gin.Context) {
	var input struct {
		TemplateID         uint      `json:"template_id" binding:"required"`
		ShuttleID          uint      `json:"shuttle_id" binding:"required"`
		DriverID           uint      `json:"driver_id" binding:"required"`
		ScheduledDate      string    `json:"scheduled_date" binding:"required"` // YYYY-MM-DD
		ScheduledStartTime time.Time `json:"scheduled_start_time" binding:"required"`
		ScheduledEndTime   time.Time `json:"scheduled_end_time"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid input: " + err.Error()})
		return
	}
	if _, err := time.Parse("2006-01-02", input.ScheduledDate); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "scheduled_date must be YYYY-MM-DD"})
		return
	}

	hotelID, err := hotelForCaller(c)
	if err != nil {
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
		return
	}

	var tpl models.TripTemplate
	if err := config.DB.Preload("Stops", func(db *gorm.DB) *gorm.DB {
		return db.Order("seq ASC")
	}).Where("id = ? AND hotel_id = ?", input.TemplateID, hotelID).First(&tpl).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Template not found"})
		return
	}
	if len(tpl.Stops) < 2 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Template needs at least two stops to form route legs"})
		return
	}

	var shuttle models.Shuttle
	if err := config.DB.Where("id = ? AND hotel_id = ?", input.ShuttleID, hotelID).First(&shuttle).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Shuttle not found"})
		return
	}
	if !shuttle.InService {
		c.JSON(http.StatusConflict, gin.H{"error": "Shuttle is out of service"})
		return
	}

	var driver models.Driver
	if err := config.DB.Where("id = ? AND hotel_id = ?", input.DriverID, hotelID).First(&driver).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Driver not found"})
		return
	}

	ctx := c.Request.Context()
	trip := models.TripInstance{
		TripTemplateID:     tpl.ID,
		ScheduledDate:      input.ScheduledDate,
		ScheduledStartTime: input.ScheduledStartTime,
		ScheduledEndTime:   input.ScheduledEndTime,
		Status:             models.TripScheduled,
		Phase:              models.PhaseOutbound,
		DriverID:           driver.ID,
		ShuttleID:          shuttle.ID,
		SeatCapacity:       shuttle.SeatCapacity,
	}
	if err := ds.CreateTrip(ctx, &trip); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Create trip failed: " + err.Error()})
		return
	}

	segments := make([]models.RouteInstance, 0, len(tpl.Stops)-1)
	for i := 0; i < len(tpl.Stops)-1; i++ {
		segments = append(segments, models.RouteInstance{
			TripInstanceID:    trip.ID,
			Seq:               i + 1,
			StartLocationName: tpl.Stops[i].Name,
			EndLocationName:   tpl.Stops[i+1].Name,
		})
	}
	if err := ds.CreateSegments(ctx, segments); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Create route legs failed: " + err.Error()})
		return
	}

	logrus.WithFields(logrus.Fields{
		"trip_id":     trip.ID,
		"template_id": tpl.ID,
		"driver_id":   driver.ID,
		"legs":        len(segments),
	}).Info("Trip scheduled.")

	trip.Segments = segments
	c.JSON(http.StatusCreated, gin.H{"trip": trip})
}

// ListTrips returns the caller's hotel schedule, optionally filtered by
// date and status.
func ListTrips(c *gin.Context) {
	hotelID, err := hotelForCaller(c)
	if err != nil {
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
		return
	}

	query := config.DB.Model(&models.TripInstance{}).
		Joins("JOIN trip_templates ON trip_templates.id = trip_instances.trip_template_id").
		Where("trip_templates.hotel_id = ?", hotelID).
		Preload("Segments", func(db *gorm.DB) *gorm.DB {
			return db.Order("seq ASC")
		}).
		Order("scheduled_start_time ASC")

	if date := c.Query("date"); date != "" {
		query = query.Where("trip_instances.scheduled_date = ?", date)
	}
	if status := c.Query("status"); status != "" {
		query = query.Where("trip_instances.status = ?", status)
	}

	var trips []models.TripInstance
	if err := query.Find(&trips).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Error listing trips: " + err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"trips": trips})
}

// GetTrip returns a single trip with its route legs.
func GetTrip(c *gin.Context) {
	tripID, ok := tripParam(c)
	if !ok {
		return
	}

	var trip models.TripInstance
	if err := config.DB.Preload("Segments", func(db *gorm.DB) *gorm.DB {
		return db.Order("seq ASC")
	}).First(&trip, tripID).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Trip not found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"trip": trip})
}

// StartTrip moves the driver's trip to IN_PROGRESS.
func StartTrip(c *gin.Context) {
	tripID, ok := tripParam(c)
	if !ok {
		return
	}
	driver, err := driverForCaller(c)
	if err != nil {
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
		return
	}

	trip, err := machine.Start(c.Request.Context(), tripID, driver.ID)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"trip": trip})
}

// CompleteTrip moves the driver's trip to COMPLETED once every leg is done.
func CompleteTrip(c *gin.Context) {
	tripID, ok := tripParam(c)
	if !ok {
		return
	}
	driver, err := driverForCaller(c)
	if err != nil {
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
		return
	}

	trip, err := machine.Complete(c.Request.Context(), tripID, driver.ID)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	monitor.Forget(tripID)
	c.JSON(http.StatusOK, gin.H{"trip": trip})
}

// CancelTrip aborts a trip and releases outstanding holds. Drivers may
// cancel their own trip; frontdesk and hotel staff any trip at their hotel.
func CancelTrip(c *gin.Context) {
	tripID, ok := tripParam(c)
	if !ok {
		return
	}

	role := middleware.CallerRole(c)
	var callerID uint
	if role == "driver" {
		driver, err := driverForCaller(c)
		if err != nil {
			c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
			return
		}
		callerID = driver.ID
	} else {
		if !requireTripAtCallerHotel(c, tripID) {
			return
		}
		callerID = middleware.CallerID(c)
	}

	trip, err := machine.Cancel(c.Request.Context(), tripID, callerID, role)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	monitor.Forget(tripID)
	c.JSON(http.StatusOK, gin.H{"trip": trip})
}

// StartNextSegment completes the current leg and activates the next.
func StartNextSegment(c *gin.Context) {
	tripID, ok := tripParam(c)
	if !ok {
		return
	}
	driver, err := driverForCaller(c)
	if err != nil {
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
		return
	}

	segment, message, err := tracker.StartNext(c.Request.Context(), tripID, driver.ID)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"segment": segment, "message": message})
}

// RevertLastSegment walks the trip back one leg, releasing boardings that
// were recorded on it.
func RevertLastSegment(c *gin.Context) {
	tripID, ok := tripParam(c)
	if !ok {
		return
	}
	driver, err := driverForCaller(c)
	if err != nil {
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
		return
	}

	segment, err := tracker.RevertLast(c.Request.Context(), tripID, driver.ID)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"segment": segment})
}

// OverridePhase lets frontdesk staff force the OUTBOUND -> RETURN switch
// when GPS coverage fails the geofence.
func OverridePhase(c *gin.Context) {
	tripID, ok := tripParam(c)
	if !ok {
		return
	}
	if !requireTripAtCallerHotel(c, tripID) {
		return
	}

	var input struct {
		Phase string `json:"phase" binding:"required"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := machine.TransitionPhase(c.Request.Context(), tripID, input.Phase); err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	monitor.Forget(tripID)
	publishPhaseChange(tripID, input.Phase)

	c.JSON(http.StatusOK, gin.H{"trip_id": tripID, "phase": input.Phase})
}

// publishPhaseChange fans the phase switch out over NATS, best effort.
func publishPhaseChange(tripID uint, phase string) {
	if pub == nil {
		return
	}
	hotelID, err := tripHotelID(tripID)
	if err != nil {
		logrus.WithError(err).WithField("trip_id", tripID).Warn("Phase publish skipped, hotel lookup failed.")
		return
	}
	msg := publisher.PhaseMessage{
		TripID:    tripID,
		HotelID:   hotelID,
		Phase:     phase,
		Timestamp: time.Now(),
	}
	if err := pub.PublishPhase(msg); err != nil {
		logrus.WithError(err).WithField("trip_id", tripID).Warn("Phase publish failed.")
	}
}
