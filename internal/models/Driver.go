// internal/models/driver.go
package models

import (
	"gorm.io/gorm"
)

type Driver struct {
	gorm.Model
	UserID        uint   `json:"user_id" gorm:"unique"` // Foreign key to User
	ShuttleID     uint   `json:"shuttle_id" gorm:"index"`
	User          User   `gorm:"foreignKey:UserID"` // User association
	Name          string `json:"name"`
	Phone         string `json:"phone"`
	LicenseNumber string `json:"license_number"`
	HotelID       uint   `json:"hotel_id"` // Foreign key to Hotel
	Hotel         Hotel  `gorm:"foreignKey:HotelID"`
	// Email, Password and Role live on the User model.
}
