package models

import (
	"gorm.io/gorm"
)

// TemplateStop is a pickup/dropoff point along a trip template.
// Seq indicates boarding order along the outbound direction.
type TemplateStop struct {
	gorm.Model

	Name string  `json:"name" binding:"required"`
	Seq  int     `json:"seq" binding:"required"`
	Lat  float64 `json:"lat" binding:"required"`
	Lng  float64 `json:"lng" binding:"required"`

	// Foreign key to template
	TripTemplateID uint `json:"trip_template_id"`
}
