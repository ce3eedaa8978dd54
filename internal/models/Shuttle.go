// internal/models/shuttle.go
package models

import (
	"gorm.io/gorm"
)

type Shuttle struct {
	gorm.Model
	ShuttleNo           string `json:"shuttle_no"`
	VehicleRegistration string `json:"vehicle_registration"`
	HotelID             uint   `json:"hotel_id"`
	DriverID            uint   `json:"driver_id"`
	SeatCapacity        int    `json:"seat_capacity" gorm:"default:14"`
	InService           bool   `json:"in_service" gorm:"default:true"`
	TripTemplateID      uint   `json:"trip_template_id"`
}
