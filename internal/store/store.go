// Package store defines the typed persistence surface the coordination core
// depends on. Implementations must provide per-row atomic conditional
// updates: every method returning (bool, error) is a compare-and-swap whose
// bool reports whether the condition held and the row was changed.
package store

import (
	"context"
	"time"

	"shuttle_coordinator/internal/models"
)

// TripStore covers trip instance rows and their seat counters.
type TripStore interface {
	GetTrip(ctx context.Context, id uint) (*models.TripInstance, error)
	CreateTrip(ctx context.Context, trip *models.TripInstance) error
	// ActiveTripForDriver returns the driver's SCHEDULED or IN_PROGRESS
	// trip, or domain.ErrNotFound if none exists.
	ActiveTripForDriver(ctx context.Context, driverID uint) (*models.TripInstance, error)

	// Lifecycle transitions, each conditional on the expected current state.
	BeginTrip(ctx context.Context, tripID uint, at time.Time) (bool, error)
	FinishTrip(ctx context.Context, tripID uint, at time.Time) (bool, error)
	AbortTrip(ctx context.Context, tripID uint, at time.Time) (bool, error)
	SwitchPhase(ctx context.Context, tripID uint, from, to string) (bool, error)

	// Seat counters. HoldSeats succeeds only while the trip is active and
	// seat_held + seats stays within seat_capacity; OccupySeats only while
	// seats_occupied + seats stays within seat_held.
	HoldSeats(ctx context.Context, tripID uint, seats int) (bool, error)
	OccupySeats(ctx context.Context, tripID uint, seats int) (bool, error)
	ReleaseSeats(ctx context.Context, tripID uint, held, occupied int) error
}

// SegmentStore covers the ordered route legs owned by a trip instance.
type SegmentStore interface {
	CreateSegments(ctx context.Context, segments []models.RouteInstance) error
	GetSegment(ctx context.Context, id uint) (*models.RouteInstance, error)
	// SegmentsByTrip returns the trip's legs ordered by Seq ascending.
	SegmentsByTrip(ctx context.Context, tripID uint) ([]models.RouteInstance, error)
	SaveSegment(ctx context.Context, segment *models.RouteInstance) error
}

// BookingStore covers guest reservations.
type BookingStore interface {
	GetBooking(ctx context.Context, id uint) (*models.Booking, error)
	CreateBooking(ctx context.Context, booking *models.Booking) error
	ActiveBookingsByTrip(ctx context.Context, tripID uint) ([]models.Booking, error)
	BookingsBoardedOnSegment(ctx context.Context, segmentID uint) ([]models.Booking, error)

	// UpdateSeatState advances a booking along the seat lattice only when
	// it currently sits in the expected state.
	UpdateSeatState(ctx context.Context, bookingID uint, from, to string) (bool, error)
	SetBoardedSegment(ctx context.Context, bookingID uint, segmentID *uint) error
	// MarkCancelled flips the booking to cancelled exactly once.
	MarkCancelled(ctx context.Context, bookingID uint) (bool, error)
}

// TokenStore covers single-use check-in tokens.
type TokenStore interface {
	TokenByValue(ctx context.Context, token string) (*models.CheckInToken, error)
	// UnconsumedTokenForBooking returns the booking's live token, or
	// domain.ErrNotFound.
	UnconsumedTokenForBooking(ctx context.Context, bookingID uint) (*models.CheckInToken, error)
	CreateToken(ctx context.Context, token *models.CheckInToken) error
	// ConsumeToken marks the token consumed exactly once.
	ConsumeToken(ctx context.Context, token string, at time.Time) (bool, error)
}

// LocationStore covers the bounded driver position history.
type LocationStore interface {
	LastLocation(ctx context.Context, driverID uint) (*models.LocationHistory, error)
	SaveLocation(ctx context.Context, sample *models.LocationHistory) error
}

// Store is the full persistence surface.
type Store interface {
	TripStore
	SegmentStore
	BookingStore
	TokenStore
	LocationStore
}
