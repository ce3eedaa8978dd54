package models

import (
	"time"

	"gorm.io/gorm"
)

// Seat states form a small lattice rather than independent booleans, so a
// booking can never be OCCUPIED without having been CONFIRMED first.
const (
	SeatHeld      = "HELD"      // capacity provisionally reserved
	SeatConfirmed = "CONFIRMED" // frontdesk confirmed the reservation
	SeatOccupied  = "OCCUPIED"  // passenger checked in by the driver
)

// Booking is a guest's reservation against a trip instance. It doubles as
// the hold handle for the seat ledger.
type Booking struct {
	gorm.Model

	TripInstanceID uint         `json:"trip_instance_id" gorm:"index"`
	TripInstance   TripInstance `gorm:"foreignKey:TripInstanceID" json:"-"`
	GuestID        uint         `json:"guest_id" gorm:"index"`
	Seats          int          `json:"seats"`
	Bags           int          `json:"bags"`
	SeatState      string       `json:"seat_state" gorm:"default:HELD"`
	IsCancelled    bool         `json:"is_cancelled"`
	IsCompleted    bool         `json:"is_completed"`
	FromLocation   string       `json:"from_location"`
	ToLocation     string       `json:"to_location"`

	// Leg the passenger boarded on; set at check-in, cleared on revert.
	BoardedSegmentID *uint `json:"boarded_segment_id,omitempty" gorm:"index"`
}

// ActiveHold reports whether the booking still accounts for held capacity.
func (b *Booking) ActiveHold() bool {
	return !b.IsCancelled && !b.IsCompleted
}

// BookingSummary is the shape returned to scan/verify clients: enough for
// the driver to confirm the right passenger, nothing more.
type BookingSummary struct {
	BookingID    uint       `json:"booking_id"`
	TripID       uint       `json:"trip_id"`
	GuestID      uint       `json:"guest_id"`
	Seats        int        `json:"seats"`
	Bags         int        `json:"bags"`
	SeatState    string     `json:"seat_state"`
	FromLocation string     `json:"from_location"`
	ToLocation   string     `json:"to_location"`
	ConsumedAt   *time.Time `json:"consumed_at,omitempty"`
}
