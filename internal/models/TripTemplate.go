package models

import (
	"gorm.io/gorm"
)

// TripTemplate describes a reusable shuttle route operated by a hotel:
// the path geometry, the ordered stops, and the geofence boundary whose
// exit flips an in-progress trip from OUTBOUND to RETURN.
type TripTemplate struct {
	gorm.Model

	Name        string `json:"name" binding:"required"`
	Description string `json:"description"`
	HotelID     uint   `json:"hotel_id"`

	// Geofence boundary, centered on the hotel's service area.
	BoundaryLat     float64 `json:"boundary_lat"`
	BoundaryLng     float64 `json:"boundary_lng"`
	BoundaryRadiusM float64 `json:"boundary_radius_m" gorm:"default:800"`

	// Path geometry stored as a LINESTRING in WKB (SRID 4326).
	// Clients submit and receive GeoJSON; controllers convert.
	Geometry []byte `gorm:"type:bytea"`

	// Associations
	Stops    []TemplateStop `gorm:"foreignKey:TripTemplateID;constraint:OnUpdate:CASCADE,OnDelete:SET NULL;" json:"stops,omitempty"`
	Shuttles []Shuttle      `gorm:"foreignKey:TripTemplateID;constraint:OnUpdate:CASCADE,OnDelete:SET NULL;" json:"shuttles,omitempty"`
}
