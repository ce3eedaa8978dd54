package models

import (
	"time"

	"gorm.io/gorm"
)

// CheckInToken is the single-use credential embedded in a booking's QR code.
// It is consumed exactly once; a consumed token is never reissued.
type CheckInToken struct {
	gorm.Model

	Token      string     `json:"token" gorm:"uniqueIndex;size:64"`
	BookingID  uint       `json:"booking_id" gorm:"index"`
	IssuedAt   time.Time  `json:"issued_at"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	Consumed   bool       `json:"consumed"`
	ConsumedAt *time.Time `json:"consumed_at,omitempty"`
}

// Expired reports whether the token is past its expiry, when one is set.
func (t *CheckInToken) Expired(now time.Time) bool {
	return t.ExpiresAt != nil && now.After(*t.ExpiresAt)
}
