package controllers

import (
	"encoding/binary"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"shuttle_coordinator/internal/config"
	"shuttle_coordinator/internal/geo"
	"shuttle_coordinator/internal/middleware"
	"shuttle_coordinator/internal/models"

	geomt "github.com/twpayne/go-geom"
	gjson "github.com/twpayne/go-geom/encoding/geojson"
	"github.com/twpayne/go-geom/encoding/wkb"
)

// TemplateResponse mirrors models.TripTemplate but carries the geometry as
// a GeoJSON string for API output.
type TemplateResponse struct {
	ID              uint                  `json:"ID"`
	CreatedAt       time.Time             `json:"CreatedAt"`
	UpdatedAt       time.Time             `json:"UpdatedAt"`
	Name            string                `json:"name"`
	Description     string                `json:"description"`
	HotelID         uint                  `json:"hotel_id"`
	BoundaryLat     float64               `json:"boundary_lat"`
	BoundaryLng     float64               `json:"boundary_lng"`
	BoundaryRadiusM float64               `json:"boundary_radius_m"`
	Geometry        string                `json:"geometry"`
	Stops           []models.TemplateStop `json:"stops"`
}

func toTemplateResponse(tpl models.TripTemplate) TemplateResponse {
	jsonGeom, _ := convertWKBToGeoJSON(tpl.Geometry)
	return TemplateResponse{
		ID:              tpl.ID,
		CreatedAt:       tpl.CreatedAt,
		UpdatedAt:       tpl.UpdatedAt,
		Name:            tpl.Name,
		Description:     tpl.Description,
		HotelID:         tpl.HotelID,
		BoundaryLat:     tpl.BoundaryLat,
		BoundaryLng:     tpl.BoundaryLng,
		BoundaryRadiusM: tpl.BoundaryRadiusM,
		Geometry:        jsonGeom,
		Stops:           tpl.Stops,
	}
}

// parseAndConvertGeometry parses a GeoJSON string into WKB bytes.
func parseAndConvertGeometry(raw string) ([]byte, error) {
	if raw == "" {
		return nil, nil
	}
	var g geomt.T
	err := gjson.Unmarshal([]byte(raw), &g)
	if err != nil {
		return nil, err
	}
	return wkb.Marshal(g, binary.LittleEndian)
}

// convertWKBToGeoJSON converts WKB bytes into a GeoJSON string.
func convertWKBToGeoJSON(wkbBytes []byte) (string, error) {
	if len(wkbBytes) == 0 {
		return "", nil
	}
	g, err := wkb.Unmarshal(wkbBytes)
	if err != nil {
		return "", err
	}
	b, err := gjson.Marshal(g)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// hotelForCaller resolves the authenticated user's hotel: owners through
// their Hotel record, frontdesk staff through the HotelID on their user row.
func hotelForCaller(c *gin.Context) (uint, error) {
	userID := middleware.CallerID(c)

	var user models.User
	if err := config.DB.Preload("Hotel").First(&user, userID).Error; err != nil {
		return 0, errors.New("user not authorized")
	}

	switch user.Role {
	case "hotel":
		if user.Hotel == nil {
			return 0, errors.New("hotel profile not found")
		}
		return user.Hotel.ID, nil
	case "frontdesk":
		if user.HotelID == 0 {
			return 0, errors.New("frontdesk user has no hotel assigned")
		}
		return user.HotelID, nil
	default:
		return 0, errors.New("only hotel staff can manage trip templates")
	}
}

// CreateTemplate creates a trip template with its route geometry, geofence
// boundary, and ordered stops.
func CreateTemplate(c *gin.Context) {
	var input struct {
		Name            string  `json:"name" binding:"required"`
		Description     string  `json:"description"`
		Geometry        string  `json:"geometry"` // GeoJSON LineString
		BoundaryLat     float64 `json:"boundary_lat"`
		BoundaryLng     float64 `json:"boundary_lng"`
		BoundaryRadiusM float64 `json:"boundary_radius_m"`
		Stops           []struct {
			Name string  `json:"name"`
			Seq  int     `json:"seq"`
			Lat  float64 `json:"lat"`
			Lng  float64 `json:"lng"`
		} `json:"stops"`
	}

	if err := c.ShouldBindJSON(&input); err != nil {
		logrus.WithError(err).Warn("CreateTemplate: invalid input payload")
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid input: " + err.Error()})
		return
	}

	hotelID, err := hotelForCaller(c)
	if err != nil {
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
		return
	}

	if !geo.ValidLatLng(input.BoundaryLat, input.BoundaryLng) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Boundary center out of range"})
		return
	}
	for _, s := range input.Stops {
		if !geo.ValidLatLng(s.Lat, s.Lng) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Stop coordinates out of range"})
			return
		}
	}

	wkbGeom, err := parseAndConvertGeometry(input.Geometry)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid geometry: " + err.Error()})
		return
	}

	tx := config.DB.Begin()
	if tx.Error != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to start transaction"})
		return
	}

	tpl := models.TripTemplate{
		Name:            input.Name,
		Description:     input.Description,
		HotelID:         hotelID,
		BoundaryLat:     input.BoundaryLat,
		BoundaryLng:     input.BoundaryLng,
		BoundaryRadiusM: input.BoundaryRadiusM,
		Geometry:        wkbGeom,
	}
	if err := tx.Create(&tpl).Error; err != nil {
		tx.Rollback()
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Create template failed: " + err.Error()})
		return
	}

	for _, s := range input.Stops {
		stop := models.TemplateStop{Name: s.Name, Seq: s.Seq, Lat: s.Lat, Lng: s.Lng, TripTemplateID: tpl.ID}
		if err := tx.Create(&stop).Error; err != nil {
			tx.Rollback()
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Create stop failed: " + err.Error()})
			return
		}
	}

	if err := tx.Commit().Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Transaction commit failed: " + err.Error()})
		return
	}

	config.DB.Preload("Stops", func(db *gorm.DB) *gorm.DB {
		return db.Order("seq ASC")
	}).First(&tpl, tpl.ID)
	c.JSON(http.StatusCreated, gin.H{"template": toTemplateResponse(tpl)})
}

// ListTemplates returns all templates + stops for the caller's hotel.
func ListTemplates(c *gin.Context) {
	hotelID, err := hotelForCaller(c)
	if err != nil {
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
		return
	}

	var templates []models.TripTemplate
	config.DB.Preload("Stops", func(db *gorm.DB) *gorm.DB {
		return db.Order("seq ASC")
	}).Where("hotel_id = ?", hotelID).Find(&templates)

	responses := make([]TemplateResponse, 0, len(templates))
	for _, tpl := range templates {
		responses = append(responses, toTemplateResponse(tpl))
	}
	c.JSON(http.StatusOK, gin.H{"templates": responses})
}

// GetTemplate returns a single template + stops for the caller's hotel.
func GetTemplate(c *gin.Context) {
	hotelID, err := hotelForCaller(c)
	if err != nil {
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
		return
	}

	tplID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid template ID"})
		return
	}

	var tpl models.TripTemplate
	if err := config.DB.Preload("Stops", func(db *gorm.DB) *gorm.DB {
		return db.Order("seq ASC")
	}).Where("id = ? AND hotel_id = ?", tplID, hotelID).First(&tpl).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Template not found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"template": toTemplateResponse(tpl)})
}

// UpdateTemplate updates template fields; stops are replaced wholesale when
// provided.
func UpdateTemplate(c *gin.Context) {
	hotelID, err := hotelForCaller(c)
	if err != nil {
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
		return
	}

	tplID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid template ID"})
		return
	}

	var tpl models.TripTemplate
	if err := config.DB.Where("id = ? AND hotel_id = ?", tplID, hotelID).First(&tpl).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Template not found"})
		return
	}

	var input struct {
		Name            *string               `json:"name"`
		Description     *string               `json:"description"`
		Geometry        *string               `json:"geometry"`
		BoundaryLat     *float64              `json:"boundary_lat"`
		BoundaryLng     *float64              `json:"boundary_lng"`
		BoundaryRadiusM *float64              `json:"boundary_radius_m"`
		Stops           []models.TemplateStop `json:"stops"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if input.Name != nil {
		tpl.Name = *input.Name
	}
	if input.Description != nil {
		tpl.Description = *input.Description
	}
	if input.BoundaryLat != nil {
		tpl.BoundaryLat = *input.BoundaryLat
	}
	if input.BoundaryLng != nil {
		tpl.BoundaryLng = *input.BoundaryLng
	}
	if input.BoundaryRadiusM != nil {
		tpl.BoundaryRadiusM = *input.BoundaryRadiusM
	}
	if !geo.ValidLatLng(tpl.BoundaryLat, tpl.BoundaryLng) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Boundary center out of range"})
		return
	}
	if input.Geometry != nil {
		if *input.Geometry == "" {
			tpl.Geometry = nil
		} else {
			wkbGeom, err := parseAndConvertGeometry(*input.Geometry)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid geometry: " + err.Error()})
				return
			}
			tpl.Geometry = wkbGeom
		}
	}

	tx := config.DB.Begin()
	if tx.Error != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to start transaction"})
		return
	}

	if err := tx.Save(&tpl).Error; err != nil {
		tx.Rollback()
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Update failed: " + err.Error()})
		return
	}

	if input.Stops != nil {
		if err := tx.Where("trip_template_id = ?", tpl.ID).Delete(&models.TemplateStop{}).Error; err != nil {
			tx.Rollback()
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to replace stops: " + err.Error()})
			return
		}
		for i := range input.Stops {
			input.Stops[i].ID = 0
			input.Stops[i].TripTemplateID = tpl.ID
		}
		if err := tx.Create(&input.Stops).Error; err != nil {
			tx.Rollback()
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to replace stops: " + err.Error()})
			return
		}
	}

	if err := tx.Commit().Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Transaction commit failed: " + err.Error()})
		return
	}

	config.DB.Preload("Stops", func(db *gorm.DB) *gorm.DB {
		return db.Order("seq ASC")
	}).First(&tpl, tpl.ID)
	c.JSON(http.StatusOK, gin.H{"template": toTemplateResponse(tpl)})
}

// DeleteTemplate removes a template and its stops.
func DeleteTemplate(c *gin.Context) {
	hotelID, err := hotelForCaller(c)
	if err != nil {
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
		return
	}

	tplID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid template ID"})
		return
	}

	var tpl models.TripTemplate
	if err := config.DB.Where("id = ? AND hotel_id = ?", tplID, hotelID).First(&tpl).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Template not found"})
		return
	}

	tx := config.DB.Begin()
	if tx.Error != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to start transaction"})
		return
	}

	if err := tx.Where("trip_template_id = ?", tpl.ID).Delete(&models.TemplateStop{}).Error; err != nil {
		tx.Rollback()
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete stops: " + err.Error()})
		return
	}
	if err := tx.Delete(&tpl).Error; err != nil {
		tx.Rollback()
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete template: " + err.Error()})
		return
	}

	if err := tx.Commit().Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Transaction commit failed: " + err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Template deleted successfully"})
}
