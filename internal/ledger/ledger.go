// Package ledger maintains per-trip seat accounting under concurrent
// booking traffic. Operations against one trip are serialized by a
// per-trip lock and capacity is enforced by the store's conditional
// updates, so seat_held can never exceed seat_capacity and seats_occupied
// can never exceed seat_held, even when guests, frontdesk and driver act
// on the same booking at once. Capacity violations are reported, never
// clamped.
package ledger

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"shuttle_coordinator/internal/domain"
	"shuttle_coordinator/internal/locks"
	"shuttle_coordinator/internal/models"
	"shuttle_coordinator/internal/store"
)

// Store is the slice of persistence the ledger needs.
type Store interface {
	store.TripStore
	store.BookingStore
}

type Ledger struct {
	store Store
	locks *locks.Keyed
}

func New(s Store) *Ledger {
	return &Ledger{store: s, locks: locks.NewKeyed()}
}

// Hold atomically reserves seats on the trip and creates the booking that
// acts as the hold handle. Fails with ErrCapacityExceeded when the seats
// would overflow capacity, with no side effects.
func (l *Ledger) Hold(ctx context.Context, tripID, guestID uint, seats, bags int, from, to string) (*models.Booking, error) {
	if seats <= 0 {
		return nil, fmt.Errorf("%w: seats must be positive", domain.ErrInvalidState)
	}
	defer l.locks.Acquire(tripID)()

	trip, err := l.store.GetTrip(ctx, tripID)
	if err != nil {
		return nil, err
	}
	if !trip.Active() {
		return nil, domain.ErrInvalidState
	}

	ok, err := l.store.HoldSeats(ctx, tripID, seats)
	if err != nil {
		return nil, fmt.Errorf("hold seats: %w", err)
	}
	if !ok {
		// Distinguish a full shuttle from a trip that went terminal
		// between the read and the conditional update.
		trip, rerr := l.store.GetTrip(ctx, tripID)
		if rerr == nil && !trip.Active() {
			return nil, domain.ErrInvalidState
		}
		return nil, domain.ErrCapacityExceeded
	}

	booking := &models.Booking{
		TripInstanceID: tripID,
		GuestID:        guestID,
		Seats:          seats,
		Bags:           bags,
		SeatState:      models.SeatHeld,
		FromLocation:   from,
		ToLocation:     to,
	}
	if err := l.store.CreateBooking(ctx, booking); err != nil {
		// Give the seats back; the hold never became visible.
		if rerr := l.store.ReleaseSeats(ctx, tripID, seats, 0); rerr != nil {
			logrus.WithError(rerr).WithField("trip_id", tripID).
				Error("Failed to release seats after booking create failure.")
		}
		return nil, fmt.Errorf("create booking: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"trip_id":    tripID,
		"booking_id": booking.ID,
		"seats":      seats,
	}).Info("Seat hold granted.")
	return booking, nil
}

// Confirm marks the hold as frontdesk-confirmed. Counts are untouched; they
// were accounted at hold time. Re-confirming is a no-op.
func (l *Ledger) Confirm(ctx context.Context, bookingID uint) error {
	handle, err := l.store.GetBooking(ctx, bookingID)
	if err != nil {
		return err
	}
	defer l.locks.Acquire(handle.TripInstanceID)()

	ok, err := l.store.UpdateSeatState(ctx, bookingID, models.SeatHeld, models.SeatConfirmed)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}

	booking, err := l.store.GetBooking(ctx, bookingID)
	if err != nil {
		return err
	}
	if booking.IsCancelled {
		return domain.ErrInvalidState
	}
	// Already CONFIRMED or OCCUPIED; both imply a prior confirm.
	return nil
}

// Release returns the booking's seats to the trip. Idempotent: releasing an
// already-released booking is a no-op, not an error.
func (l *Ledger) Release(ctx context.Context, bookingID uint) error {
	handle, err := l.store.GetBooking(ctx, bookingID)
	if err != nil {
		return err
	}
	defer l.locks.Acquire(handle.TripInstanceID)()

	// Re-read under the trip lock. The pre-lock snapshot may predate a
	// check-in that just promoted this booking to OCCUPIED, and the
	// occupied delta below must account for it.
	booking, err := l.store.GetBooking(ctx, bookingID)
	if err != nil {
		return err
	}

	ok, err := l.store.MarkCancelled(ctx, bookingID)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	occupied := 0
	if booking.SeatState == models.SeatOccupied {
		occupied = booking.Seats
	}
	if err := l.store.ReleaseSeats(ctx, booking.TripInstanceID, booking.Seats, occupied); err != nil {
		return fmt.Errorf("release seats: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"trip_id":    booking.TripInstanceID,
		"booking_id": bookingID,
		"seats":      booking.Seats,
	}).Info("Seat hold released.")
	return nil
}

// MarkOccupied records the passenger boarding at driver check-in,
// attributing the occupancy to the given route segment. The seat-state CAS
// makes a double check-in impossible.
func (l *Ledger) MarkOccupied(ctx context.Context, bookingID uint, segmentID *uint) error {
	handle, err := l.store.GetBooking(ctx, bookingID)
	if err != nil {
		return err
	}
	defer l.locks.Acquire(handle.TripInstanceID)()

	booking, err := l.store.GetBooking(ctx, bookingID)
	if err != nil {
		return err
	}
	if booking.IsCancelled {
		return domain.ErrInvalidState
	}

	ok, err := l.store.UpdateSeatState(ctx, bookingID, models.SeatConfirmed, models.SeatOccupied)
	if err != nil {
		return err
	}
	if !ok {
		return domain.ErrInvalidState
	}

	ok, err = l.store.OccupySeats(ctx, booking.TripInstanceID, booking.Seats)
	if err != nil {
		return err
	}
	if !ok {
		// Occupancy would exceed held seats; undo the state change.
		if _, rerr := l.store.UpdateSeatState(ctx, bookingID, models.SeatOccupied, models.SeatConfirmed); rerr != nil {
			logrus.WithError(rerr).WithField("booking_id", bookingID).
				Error("Failed to roll back seat state after occupy failure.")
		}
		return domain.ErrCapacityExceeded
	}

	if segmentID != nil {
		if err := l.store.SetBoardedSegment(ctx, bookingID, segmentID); err != nil {
			return err
		}
	}
	return nil
}

// ReleaseOccupied undoes a boarding without touching the confirmed hold,
// used when a route segment is reverted. Idempotent per booking.
func (l *Ledger) ReleaseOccupied(ctx context.Context, bookingID uint) error {
	booking, err := l.store.GetBooking(ctx, bookingID)
	if err != nil {
		return err
	}
	defer l.locks.Acquire(booking.TripInstanceID)()

	ok, err := l.store.UpdateSeatState(ctx, bookingID, models.SeatOccupied, models.SeatConfirmed)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	if err := l.store.SetBoardedSegment(ctx, bookingID, nil); err != nil {
		return err
	}
	return l.store.ReleaseSeats(ctx, booking.TripInstanceID, 0, booking.Seats)
}

// ReleaseAllForTrip releases every outstanding hold on the trip, used on
// trip cancellation.
func (l *Ledger) ReleaseAllForTrip(ctx context.Context, tripID uint) error {
	bookings, err := l.store.ActiveBookingsByTrip(ctx, tripID)
	if err != nil {
		return err
	}
	for _, b := range bookings {
		if err := l.Release(ctx, b.ID); err != nil {
			return fmt.Errorf("release booking %d: %w", b.ID, err)
		}
	}
	return nil
}
