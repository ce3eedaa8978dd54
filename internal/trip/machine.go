// Package trip owns the trip instance state machine and the ordered route
// segment tracker. Status transitions are monotonic and enforced through
// the store's conditional updates; multi-step operations are serialized per
// trip instance.
package trip

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"shuttle_coordinator/internal/domain"
	"shuttle_coordinator/internal/ledger"
	"shuttle_coordinator/internal/locks"
	"shuttle_coordinator/internal/models"
	"shuttle_coordinator/internal/store"
)

// Store is the slice of persistence the machine needs.
type Store interface {
	store.TripStore
	store.SegmentStore
	store.BookingStore
}

// Machine drives a trip instance through
// SCHEDULED -> IN_PROGRESS -> COMPLETED / CANCELLED, with the OUTBOUND ->
// RETURN phase switch only while IN_PROGRESS.
type Machine struct {
	store  Store
	ledger *ledger.Ledger
	locks  *locks.Keyed
	now    func() time.Time
}

func NewMachine(s Store, l *ledger.Ledger) *Machine {
	return &Machine{
		store:  s,
		ledger: l,
		locks:  locks.NewKeyed(),
		now:    time.Now,
	}
}

// Tracker returns a segment tracker sharing this machine's per-trip locks,
// so segment completion and lifecycle transitions never interleave.
func (m *Machine) Tracker() *Tracker {
	return &Tracker{store: m.store, ledger: m.ledger, locks: m.locks, now: func() time.Time { return m.now() }}
}

// Start moves the trip from SCHEDULED to IN_PROGRESS, stamping the actual
// start time and resetting the phase to OUTBOUND.
func (m *Machine) Start(ctx context.Context, tripID, driverID uint) (*models.TripInstance, error) {
	defer m.locks.Acquire(tripID)()

	trip, err := m.store.GetTrip(ctx, tripID)
	if err != nil {
		return nil, err
	}
	if trip.DriverID != driverID {
		return nil, domain.ErrNotAuthorized
	}

	ok, err := m.store.BeginTrip(ctx, tripID, m.now())
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, domain.ErrInvalidState
	}

	logrus.WithFields(logrus.Fields{"trip_id": tripID, "driver_id": driverID}).Info("Trip started.")
	return m.store.GetTrip(ctx, tripID)
}

// Complete moves the trip from IN_PROGRESS to COMPLETED. Every route
// segment must already be completed; otherwise ErrSegmentsIncomplete.
func (m *Machine) Complete(ctx context.Context, tripID, driverID uint) (*models.TripInstance, error) {
	defer m.locks.Acquire(tripID)()

	trip, err := m.store.GetTrip(ctx, tripID)
	if err != nil {
		return nil, err
	}
	if trip.DriverID != driverID {
		return nil, domain.ErrNotAuthorized
	}
	if trip.Status != models.TripInProgress {
		return nil, domain.ErrInvalidState
	}

	segments, err := m.store.SegmentsByTrip(ctx, tripID)
	if err != nil {
		return nil, err
	}
	for _, seg := range segments {
		if !seg.Completed {
			return nil, domain.ErrSegmentsIncomplete
		}
	}

	ok, err := m.store.FinishTrip(ctx, tripID, m.now())
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, domain.ErrInvalidState
	}

	logrus.WithFields(logrus.Fields{"trip_id": tripID, "driver_id": driverID}).Info("Trip completed.")
	return m.store.GetTrip(ctx, tripID)
}

// Cancel aborts a SCHEDULED or IN_PROGRESS trip and releases every
// outstanding seat hold. The assigned driver or the frontdesk may cancel.
func (m *Machine) Cancel(ctx context.Context, tripID, callerID uint, role string) (*models.TripInstance, error) {
	defer m.locks.Acquire(tripID)()

	trip, err := m.store.GetTrip(ctx, tripID)
	if err != nil {
		return nil, err
	}
	if role == "driver" && trip.DriverID != callerID {
		return nil, domain.ErrNotAuthorized
	}

	ok, err := m.store.AbortTrip(ctx, tripID, m.now())
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, domain.ErrInvalidState
	}

	if err := m.ledger.ReleaseAllForTrip(ctx, tripID); err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{"trip_id": tripID, "caller_id": callerID}).Info("Trip cancelled, holds released.")
	return m.store.GetTrip(ctx, tripID)
}

// TransitionPhase switches the direction of an in-progress trip. Only
// OUTBOUND -> RETURN is legal, and the call is idempotent: asking for the
// phase the trip is already in succeeds without side effects, so repeated
// geofence-exit triggers are harmless.
func (m *Machine) TransitionPhase(ctx context.Context, tripID uint, newPhase string) error {
	if newPhase != models.PhaseReturn {
		return domain.ErrInvalidState
	}

	trip, err := m.store.GetTrip(ctx, tripID)
	if err != nil {
		return err
	}
	if trip.Phase == newPhase {
		return nil
	}
	if trip.Status != models.TripInProgress {
		return domain.ErrInvalidState
	}

	ok, err := m.store.SwitchPhase(ctx, tripID, models.PhaseOutbound, newPhase)
	if err != nil {
		return err
	}
	if !ok {
		// Lost a race; succeed if someone else already switched.
		trip, rerr := m.store.GetTrip(ctx, tripID)
		if rerr == nil && trip.Phase == newPhase {
			return nil
		}
		return domain.ErrInvalidState
	}

	logrus.WithFields(logrus.Fields{"trip_id": tripID, "phase": newPhase}).Info("Trip phase switched.")
	return nil
}
