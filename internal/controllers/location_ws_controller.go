package controllers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"shuttle_coordinator/internal/config"
	"shuttle_coordinator/internal/domain"
	"shuttle_coordinator/internal/geo"
	"shuttle_coordinator/internal/middleware"
	"shuttle_coordinator/internal/models"
	"shuttle_coordinator/internal/publisher"
)

// upgrader configures the WebSocket connection.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all for development (restrict in production!)
	},
}

// LocationData is the incoming JSON frame from the driver app.
type LocationData struct {
	DriverID  uint      `json:"driver_id"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Accuracy  float64   `json:"accuracy"` // GPS accuracy in meters
	Speed     float64   `json:"speed"`    // Speed in m/s
	Bearing   float64   `json:"bearing"`  // Direction in degrees
	Altitude  float64   `json:"altitude"` // Altitude in meters
	Timestamp time.Time `json:"timestamp"`
}

// UnmarshalJSON tolerates timestamps without a timezone suffix; the driver
// app sometimes omits the trailing Z.
func (ld *LocationData) UnmarshalJSON(data []byte) error {
	type alias LocationData
	aux := &struct {
		Timestamp string `json:"timestamp"`
		*alias
	}{alias: (*alias)(ld)}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	ts := aux.Timestamp
	if len(ts) >= 6 && !(strings.HasSuffix(ts, "Z") || strings.ContainsAny(ts[len(ts)-6:], "+-")) {
		ts += "Z"
	}

	t, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return fmt.Errorf("invalid timestamp %q: %w", aux.Timestamp, err)
	}
	ld.Timestamp = t
	return nil
}

// LocationHub fans live position updates out to the monitoring clients of
// each hotel.
type LocationHub struct {
	hotelClients map[uint]map[*websocket.Conn]bool
	broadcast    chan publisher.PositionMessage
	mu           sync.Mutex
}

func NewLocationHub() *LocationHub {
	hub := &LocationHub{
		hotelClients: make(map[uint]map[*websocket.Conn]bool),
		broadcast:    make(chan publisher.PositionMessage, 100),
	}
	go hub.run()
	return hub
}

func (h *LocationHub) run() {
	for msg := range h.broadcast {
		h.mu.Lock()
		clients := h.hotelClients[msg.HotelID]
		for conn := range clients {
			go func(c *websocket.Conn, m publisher.PositionMessage) {
				if err := c.WriteJSON(m); err != nil {
					if websocket.IsCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
						h.UnregisterClient(m.HotelID, c)
					} else {
						logrus.WithError(err).WithField("hotel_id", m.HotelID).
							Warn("Failed to send position update to monitoring client.")
					}
				}
			}(conn, msg)
		}
		h.mu.Unlock()
	}
}

func (h *LocationHub) RegisterClient(hotelID uint, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.hotelClients[hotelID]; !ok {
		h.hotelClients[hotelID] = make(map[*websocket.Conn]bool)
	}
	h.hotelClients[hotelID][conn] = true
	logrus.WithField("hotel_id", hotelID).Info("Monitoring client registered with LocationHub.")
}

func (h *LocationHub) UnregisterClient(hotelID uint, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if clients, ok := h.hotelClients[hotelID]; ok {
		delete(clients, conn)
		if len(clients) == 0 {
			delete(h.hotelClients, hotelID)
		}
	}
	logrus.WithField("hotel_id", hotelID).Info("Monitoring client unregistered from LocationHub.")
}

// PublishPosition queues a position update for the hotel's monitors.
func (h *LocationHub) PublishPosition(msg publisher.PositionMessage) {
	select {
	case h.broadcast <- msg:
	default:
		logrus.Warn("Location broadcast channel full, dropping message.")
	}
}

var locationHub = NewLocationHub()

// authenticateUserForWebSocket validates the JWT query token and resolves
// the caller to a role plus their hotel and driver associations.
func authenticateUserForWebSocket(c *gin.Context) (userID uint, role string, hotelID uint, driverID uint, err error) {
	tokenString := c.Query("token")
	if tokenString == "" {
		return 0, "", 0, 0, errors.New("missing authentication token")
	}

	claims, err := middleware.ValidateToken(tokenString)
	if err != nil {
		return 0, "", 0, 0, fmt.Errorf("invalid token: %w", err)
	}

	userID = claims.UserID
	role = claims.Role

	switch role {
	case "driver":
		var driver models.Driver
		if err := config.DB.Where("user_id = ?", userID).First(&driver).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return 0, "", 0, 0, fmt.Errorf("driver profile not found for user ID %d", userID)
			}
			return 0, "", 0, 0, fmt.Errorf("database error fetching driver profile: %w", err)
		}
		driverID = driver.ID
		hotelID = driver.HotelID
	case "hotel":
		var hotel models.Hotel
		if err := config.DB.Where("user_id = ?", userID).First(&hotel).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return 0, "", 0, 0, fmt.Errorf("hotel profile not found for user ID %d", userID)
			}
			return 0, "", 0, 0, fmt.Errorf("database error fetching hotel profile: %w", err)
		}
		hotelID = hotel.ID
	case "frontdesk":
		var user models.User
		if err := config.DB.First(&user, userID).Error; err != nil {
			return 0, "", 0, 0, fmt.Errorf("user %d not found: %w", userID, err)
		}
		if user.HotelID == 0 {
			return 0, "", 0, 0, errors.New("frontdesk user has no hotel assigned")
		}
		hotelID = user.HotelID
	case "guest":
		hotelIDString := c.Query("hotel_id")
		if hotelIDString == "" {
			return 0, "", 0, 0, errors.New("missing 'hotel_id' query parameter; guests must specify which hotel's shuttles to watch")
		}
		parsed, err := strconv.ParseUint(hotelIDString, 10, 64)
		if err != nil {
			return 0, "", 0, 0, fmt.Errorf("invalid 'hotel_id' parameter: %w", err)
		}
		hotelID = uint(parsed)
	default:
		return 0, "", 0, 0, errors.New("unauthorized role for WebSocket connection")
	}
	return userID, role, hotelID, driverID, nil
}

// HandleLocationWebSocket is the Gin handler for all live-tracking
// connections. Drivers push positions; hotel staff and guests receive them.
func HandleLocationWebSocket(c *gin.Context) {
	userID, role, hotelID, driverID, authErr := authenticateUserForWebSocket(c)
	if authErr != nil {
		logrus.WithError(authErr).Warnf("WebSocket connection attempt failed for User ID %d, Role %s", userID, role)
		c.JSON(http.StatusUnauthorized, gin.H{"error": authErr.Error()})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logrus.WithError(err).Error("Failed to upgrade WebSocket connection.")
		return
	}
	defer conn.Close()

	if role == "driver" {
		handleDriverWebSocket(conn, driverID, hotelID)
	} else {
		handleMonitorWebSocket(conn, role, hotelID)
	}
}

// handleDriverWebSocket reads position frames from a driver until the
// connection drops.
func handleDriverWebSocket(conn *websocket.Conn, driverID, hotelID uint) {
	logrus.WithFields(logrus.Fields{
		"driver_id": driverID,
		"hotel_id":  hotelID,
	}).Info("Driver WebSocket connection established.")

	if stats != nil {
		stats.ActiveDrivers.Inc()
		defer stats.ActiveDrivers.Dec()
	}

	for {
		messageType, p, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logrus.WithField("driver_id", driverID).Info("Driver WebSocket closed.")
			} else {
				logrus.WithError(err).Errorf("Error reading WebSocket message from Driver ID %d", driverID)
			}
			break
		}
		if messageType == websocket.TextMessage {
			processDriverLocation(conn, p, driverID, hotelID)
		}
	}
}

// handleMonitorWebSocket registers a read-only monitoring client and holds
// the connection open.
func handleMonitorWebSocket(conn *websocket.Conn, role string, hotelID uint) {
	logrus.WithFields(logrus.Fields{
		"role":     role,
		"hotel_id": hotelID,
	}).Info("Monitoring WebSocket connection established.")

	locationHub.RegisterClient(hotelID, conn)
	defer locationHub.UnregisterClient(hotelID, conn)

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logrus.WithError(err).Errorf("Error reading WebSocket message from monitor (Hotel ID %d)", hotelID)
			}
			break
		}
		logrus.WithField("hotel_id", hotelID).Warn("Monitoring client sent unexpected message. Ignoring.")
	}
}

// processDriverLocation validates one position frame, applies the
// significance filter, persists the sample, and drives trip coordination.
func processDriverLocation(driverConn *websocket.Conn, p []byte, authenticatedDriverID, hotelID uint) {
	start := time.Now()
	ctx := context.Background()

	var locData LocationData
	if err := json.Unmarshal(p, &locData); err != nil {
		if stats != nil {
			stats.SamplesDropped.Inc()
		}
		logrus.WithError(err).WithField("driver_id", authenticatedDriverID).
			Error("Error unmarshaling location data from driver.")
		driverConn.WriteJSON(gin.H{"error": "Invalid location data format. Check timestamp format."})
		return
	}

	if !geo.ValidLatLng(locData.Latitude, locData.Longitude) {
		if stats != nil {
			stats.SamplesDropped.Inc()
		}
		driverConn.WriteJSON(gin.H{"error": "Coordinates out of range."})
		return
	}

	// The payload's driver_id must match the authenticated connection.
	if locData.DriverID != authenticatedDriverID {
		logrus.WithFields(logrus.Fields{
			"authenticated_driver_id": authenticatedDriverID,
			"payload_driver_id":       locData.DriverID,
		}).Warn("Driver attempted to send location for a different Driver ID. Denying.")
		driverConn.WriteJSON(gin.H{"error": "Unauthorized location update."})
		return
	}

	if stats != nil {
		stats.SamplesIngested.Inc()
		defer func() { stats.SampleDuration.Observe(time.Since(start).Seconds()) }()
	}

	lastLocation, err := ds.LastLocation(ctx, locData.DriverID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		logrus.WithError(err).Errorf("Error fetching last location for Driver ID %d", locData.DriverID)
		driverConn.WriteJSON(gin.H{"error": "Failed to fetch last location."})
		return
	}

	if lastLocation == nil {
		saveAndCoordinate(ctx, driverConn, locData, 0, locData.Bearing, true, "initial", hotelID)
		return
	}

	distance := geo.Distance(lastLocation.Latitude, lastLocation.Longitude, locData.Latitude, locData.Longitude)
	timeDiff := locData.Timestamp.Sub(lastLocation.Timestamp).Seconds()

	currentSpeed := locData.Speed
	if currentSpeed < 0 {
		currentSpeed = 0
	}

	bearing := geo.Bearing(lastLocation.Latitude, lastLocation.Longitude, locData.Latitude, locData.Longitude)

	isSignificant, eventType := shouldSaveLocation(distance, currentSpeed, timeDiff, lastLocation)
	if isSignificant {
		saveAndCoordinate(ctx, driverConn, locData, distance, bearing, currentSpeed > 0.5, eventType, hotelID)
	} else {
		// Insignificant jitter still feeds the geofence; a shuttle idling
		// just past the boundary must not stall the phase switch.
		observeGeofence(ctx, locData, hotelID)
		driverConn.WriteMessage(websocket.TextMessage, []byte("Location received - no significant change"))
	}
}

// saveAndCoordinate persists the sample, acks the driver, feeds the
// geofence, and fans the position out to monitors and NATS.
func saveAndCoordinate(ctx context.Context, driverConn *websocket.Conn, locData LocationData, distance, bearing float64, isMoving bool, eventType string, hotelID uint) {
	record := models.LocationHistory{
		DriverID:         locData.DriverID,
		Latitude:         locData.Latitude,
		Longitude:        locData.Longitude,
		Accuracy:         locData.Accuracy,
		Speed:            locData.Speed,
		Bearing:          bearing,
		Altitude:         locData.Altitude,
		IsMoving:         isMoving,
		DistanceFromLast: distance,
		Timestamp:        locData.Timestamp,
		EventType:        eventType,
	}

	if err := ds.SaveLocation(ctx, &record); err != nil {
		logrus.WithError(err).Errorf("Failed to save location for Driver ID %d", locData.DriverID)
		driverConn.WriteJSON(gin.H{"error": "Failed to save location."})
		return
	}

	driverConn.WriteJSON(gin.H{
		"status":      "saved",
		"event_type":  eventType,
		"distance":    distance,
		"is_moving":   isMoving,
		"timestamp":   locData.Timestamp.Format(time.RFC3339Nano),
		"sequence_id": record.ID,
	})

	trip := observeGeofence(ctx, locData, hotelID)
	if trip == nil {
		return
	}

	// ETA and fan-out are off the ingest path; a slow routing backend must
	// not block the driver's socket.
	go broadcastPosition(locData, bearing, trip, hotelID)
}

// observeGeofence feeds the sample to the phase monitor when the driver
// has a live trip. Returns the trip, or nil when there is none.
func observeGeofence(ctx context.Context, locData LocationData, hotelID uint) *models.TripInstance {
	trip, err := ds.ActiveTripForDriver(ctx, locData.DriverID)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			logrus.WithError(err).Errorf("Error fetching active trip for Driver ID %d", locData.DriverID)
		}
		return nil
	}

	var tpl models.TripTemplate
	if err := config.DB.First(&tpl, trip.TripTemplateID).Error; err != nil {
		logrus.WithError(err).WithField("trip_id", trip.ID).Error("Template lookup failed for geofence check.")
		return trip
	}

	fence := geo.Fence{CenterLat: tpl.BoundaryLat, CenterLng: tpl.BoundaryLng, RadiusM: tpl.BoundaryRadiusM}
	triggered, err := monitor.Observe(ctx, trip, fence, locData.Latitude, locData.Longitude)
	if err != nil {
		if stats != nil {
			stats.PhaseRetries.Inc()
		}
		return trip
	}
	if triggered {
		if stats != nil {
			stats.PhaseTransitions.Inc()
		}
		trip.Phase = models.PhaseReturn
		publishPhaseChange(trip.ID, models.PhaseReturn)
	}
	return trip
}

// broadcastPosition enriches the sample with an ETA back to the hotel and
// fans it out to the hub and NATS.
func broadcastPosition(locData LocationData, bearing float64, trip *models.TripInstance, hotelID uint) {
	msg := publisher.PositionMessage{
		TripID:    trip.ID,
		ShuttleID: trip.ShuttleID,
		HotelID:   hotelID,
		Timestamp: locData.Timestamp,
		Lat:       locData.Latitude,
		Lng:       locData.Longitude,
		Bearing:   bearing,
		Phase:     trip.Phase,
	}

	if etaProv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		var tpl models.TripTemplate
		if err := config.DB.First(&tpl, trip.TripTemplateID).Error; err == nil {
			est, err := etaProv.Estimate(ctx, locData.Latitude, locData.Longitude, tpl.BoundaryLat, tpl.BoundaryLng)
			if err != nil {
				logrus.WithError(err).WithField("trip_id", trip.ID).Debug("ETA estimate unavailable.")
			} else {
				msg.EtaSeconds = est.DurationSeconds
			}
		}
	}

	locationHub.PublishPosition(msg)

	if pub != nil {
		if err := pub.PublishPosition(hotelID, msg); err != nil {
			logrus.WithError(err).WithField("trip_id", trip.ID).Warn("Position publish failed.")
		}
	}
}

// shouldSaveLocation decides if a location update is significant enough to
// persist, and classifies the movement event.
func shouldSaveLocation(distance, speed, timeDiff float64, lastLocation *models.LocationHistory) (bool, string) {
	const minDistanceForSave = 5.0
	const minTimeDiffForSave = 10.0
	const minSpeedForMoving = 0.5
	const maxSpeedForStopped = 1.0

	if lastLocation == nil || lastLocation.ID == 0 {
		return true, "initial"
	}

	if distance >= minDistanceForSave {
		return true, "move"
	}

	if lastLocation.IsMoving && speed < maxSpeedForStopped && timeDiff >= minTimeDiffForSave {
		return true, "stopped"
	}

	if !lastLocation.IsMoving && speed >= minSpeedForMoving && timeDiff >= minTimeDiffForSave {
		return true, "started"
	}

	const periodicSaveInterval = 60 * time.Second
	if time.Since(lastLocation.Timestamp) >= periodicSaveInterval {
		return true, "periodic"
	}

	return false, "insignificant"
}
