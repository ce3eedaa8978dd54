package models

import (
	"time"

	"gorm.io/gorm"
)

// RouteInstance is one leg of a trip instance's route. Legs are created in
// bulk when the trip is scheduled and only ever completed or reverted
// afterwards, strictly in Seq order.
type RouteInstance struct {
	gorm.Model

	TripInstanceID    uint       `json:"trip_instance_id" gorm:"index"`
	Seq               int        `json:"seq"`
	StartLocationName string     `json:"start_location_name"`
	EndLocationName   string     `json:"end_location_name"`
	SeatsOccupied     int        `json:"seats_occupied"` // boardings recorded while this leg was current
	Completed         bool       `json:"completed"`
	CompletedAt       *time.Time `json:"completed_at,omitempty"`
}
