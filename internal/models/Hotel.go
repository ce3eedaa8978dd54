// internal/models/hotel.go
package models

import (
	"gorm.io/gorm"
)

// Hotel represents a property whose frontdesk schedules shuttle trips
// and whose guests book seats on them.
type Hotel struct {
	gorm.Model
	UserID uint `gorm:"uniqueIndex" json:"user_id"`

	Name    string  `json:"name" binding:"required"`
	Email   string  `gorm:"unique;not null" json:"email" binding:"required,email"`
	Phone   string  `json:"phone"`
	Address string  `json:"address"`
	Lat     float64 `json:"lat"`
	Lng     float64 `json:"lng"`

	Shuttles []Shuttle `gorm:"foreignKey:HotelID" json:"shuttles,omitempty"`
}
