package trip

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"shuttle_coordinator/internal/domain"
	"shuttle_coordinator/internal/ledger"
	"shuttle_coordinator/internal/locks"
	"shuttle_coordinator/internal/models"
)

// Tracker enforces strict-order completion of a trip's route segments.
// Legs complete strictly by Seq, never by wall-clock arrival; the only
// backward transition is RevertLast on the highest completed Seq.
type Tracker struct {
	store  Store
	ledger *ledger.Ledger
	locks  *locks.Keyed
	now    func() time.Time
}

// Current returns the lowest-Seq incomplete segment, or nil when every leg
// is complete.
func (t *Tracker) Current(ctx context.Context, tripID uint) (*models.RouteInstance, error) {
	segments, err := t.store.SegmentsByTrip(ctx, tripID)
	if err != nil {
		return nil, err
	}
	for i := range segments {
		if !segments[i].Completed {
			return &segments[i], nil
		}
	}
	return nil, nil
}

// StartNext completes the current segment and activates the one after it.
// The returned message is for driver-facing display.
func (t *Tracker) StartNext(ctx context.Context, tripID, driverID uint) (*models.RouteInstance, string, error) {
	defer t.locks.Acquire(tripID)()

	trip, err := t.store.GetTrip(ctx, tripID)
	if err != nil {
		return nil, "", err
	}
	if trip.DriverID != driverID {
		return nil, "", domain.ErrNotAuthorized
	}
	if trip.Status != models.TripInProgress {
		return nil, "", domain.ErrInvalidState
	}

	segments, err := t.store.SegmentsByTrip(ctx, tripID)
	if err != nil {
		return nil, "", err
	}

	var current *models.RouteInstance
	for i := range segments {
		if !segments[i].Completed {
			current = &segments[i]
			break
		}
	}
	if current == nil {
		return nil, "", domain.ErrNoCurrentSegment
	}

	now := t.now()
	current.Completed = true
	current.CompletedAt = &now
	if err := t.store.SaveSegment(ctx, current); err != nil {
		return nil, "", err
	}

	logrus.WithFields(logrus.Fields{
		"trip_id": tripID,
		"seq":     current.Seq,
	}).Info("Route segment completed.")
	return current, fmt.Sprintf("advanced to segment %d", current.Seq+1), nil
}

// RevertLast walks the trip back one leg: the highest-Seq completed segment
// becomes pending again and boardings recorded while it was current are
// released, restoring occupancy without touching confirmed holds. Invoked
// twice quickly it operates on successive segments, never the same one.
func (t *Tracker) RevertLast(ctx context.Context, tripID, driverID uint) (*models.RouteInstance, error) {
	defer t.locks.Acquire(tripID)()

	trip, err := t.store.GetTrip(ctx, tripID)
	if err != nil {
		return nil, err
	}
	if trip.DriverID != driverID {
		return nil, domain.ErrNotAuthorized
	}
	if trip.Status != models.TripInProgress {
		return nil, domain.ErrInvalidState
	}

	segments, err := t.store.SegmentsByTrip(ctx, tripID)
	if err != nil {
		return nil, err
	}

	var last *models.RouteInstance
	for i := range segments {
		if segments[i].Completed {
			last = &segments[i]
		}
	}
	if last == nil {
		return nil, domain.ErrNoCompletedSegment
	}

	boarded, err := t.store.BookingsBoardedOnSegment(ctx, last.ID)
	if err != nil {
		return nil, err
	}
	for _, b := range boarded {
		if err := t.ledger.ReleaseOccupied(ctx, b.ID); err != nil {
			return nil, fmt.Errorf("release occupancy for booking %d: %w", b.ID, err)
		}
	}

	last.Completed = false
	last.CompletedAt = nil
	last.SeatsOccupied = 0
	if err := t.store.SaveSegment(ctx, last); err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"trip_id":   tripID,
		"seq":       last.Seq,
		"boardings": len(boarded),
	}).Info("Route segment reverted.")
	return last, nil
}

// RecordBoarding attributes a check-in to the given segment's counter.
func (t *Tracker) RecordBoarding(ctx context.Context, segmentID uint, seats int) error {
	seg, err := t.store.GetSegment(ctx, segmentID)
	if err != nil {
		return err
	}
	defer t.locks.Acquire(seg.TripInstanceID)()

	seg, err = t.store.GetSegment(ctx, segmentID)
	if err != nil {
		return err
	}
	seg.SeatsOccupied += seats
	return t.store.SaveSegment(ctx, seg)
}
