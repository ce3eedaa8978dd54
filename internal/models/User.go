package models

import "gorm.io/gorm"

type User struct {
	gorm.Model
	Name     string `json:"name"`
	Email    string `json:"email" gorm:"unique"`
	Password string `json:"password"`
	Phone    string `json:"phone"`
	Role     string `json:"role"` // "guest", "driver", "frontdesk", "hotel"

	// HotelID associates frontdesk staff with their property. Zero for
	// guests; hotel owners and drivers carry the association on their
	// actor records instead.
	HotelID uint `json:"hotel_id,omitempty"`

	// Actor-specific relations
	Hotel  *Hotel  `gorm:"foreignKey:UserID;constraint:OnUpdate:CASCADE,OnDelete:SET NULL;" json:"hotel,omitempty"`
	Driver *Driver `gorm:"foreignKey:UserID;constraint:OnUpdate:CASCADE,OnDelete:SET NULL;" json:"driver,omitempty"`
}
