package trip

import (
	"context"
	"errors"
	"testing"
	"time"

	"shuttle_coordinator/internal/domain"
	"shuttle_coordinator/internal/ledger"
	"shuttle_coordinator/internal/models"
	"shuttle_coordinator/internal/store"
)

const testDriverID = 11

func newFixture(t *testing.T, segmentStops []string) (*store.MemoryStore, *ledger.Ledger, *Machine, *models.TripInstance) {
	t.Helper()
	s := store.NewMemoryStore()
	l := ledger.New(s)
	m := NewMachine(s, l)

	tripRow := &models.TripInstance{
		Status:             models.TripScheduled,
		Phase:              models.PhaseOutbound,
		DriverID:           testDriverID,
		SeatCapacity:       10,
		ScheduledStartTime: time.Now(),
	}
	if err := s.CreateTrip(context.Background(), tripRow); err != nil {
		t.Fatalf("create trip: %v", err)
	}

	var segments []models.RouteInstance
	for i := 0; i+1 < len(segmentStops); i++ {
		segments = append(segments, models.RouteInstance{
			TripInstanceID:    tripRow.ID,
			Seq:               i,
			StartLocationName: segmentStops[i],
			EndLocationName:   segmentStops[i+1],
		})
	}
	if err := s.CreateSegments(context.Background(), segments); err != nil {
		t.Fatalf("create segments: %v", err)
	}
	return s, l, m, tripRow
}

func TestStartTransitionsToInProgress(t *testing.T) {
	_, _, m, tripRow := newFixture(t, []string{"Hotel", "Airport"})
	ctx := context.Background()

	got, err := m.Start(ctx, tripRow.ID, testDriverID)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if got.Status != models.TripInProgress {
		t.Fatalf("status = %q, want IN_PROGRESS", got.Status)
	}
	if got.Phase != models.PhaseOutbound {
		t.Fatalf("phase = %q, want OUTBOUND", got.Phase)
	}
	if got.ActualStartTime == nil {
		t.Fatal("actual start time not stamped")
	}
}

func TestStartRejectsWrongDriver(t *testing.T) {
	_, _, m, tripRow := newFixture(t, []string{"Hotel", "Airport"})

	_, err := m.Start(context.Background(), tripRow.ID, testDriverID+1)
	if !errors.Is(err, domain.ErrNotAuthorized) {
		t.Fatalf("error = %v, want ErrNotAuthorized", err)
	}
}

func TestStartTwiceIsInvalid(t *testing.T) {
	_, _, m, tripRow := newFixture(t, []string{"Hotel", "Airport"})
	ctx := context.Background()

	if _, err := m.Start(ctx, tripRow.ID, testDriverID); err != nil {
		t.Fatalf("first start: %v", err)
	}
	_, err := m.Start(ctx, tripRow.ID, testDriverID)
	if !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("second start = %v, want ErrInvalidState", err)
	}
}

func TestCompleteGatedOnSegments(t *testing.T) {
	_, _, m, tripRow := newFixture(t, []string{"Hotel", "Mall", "Airport"})
	ctx := context.Background()
	tracker := m.Tracker()

	if _, err := m.Start(ctx, tripRow.ID, testDriverID); err != nil {
		t.Fatalf("start: %v", err)
	}

	_, err := m.Complete(ctx, tripRow.ID, testDriverID)
	if !errors.Is(err, domain.ErrSegmentsIncomplete) {
		t.Fatalf("complete with pending segments = %v, want ErrSegmentsIncomplete", err)
	}

	for i := 0; i < 2; i++ {
		if _, _, err := tracker.StartNext(ctx, tripRow.ID, testDriverID); err != nil {
			t.Fatalf("advance %d: %v", i, err)
		}
	}

	got, err := m.Complete(ctx, tripRow.ID, testDriverID)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if got.Status != models.TripCompleted || got.ActualEndTime == nil {
		t.Fatalf("trip not completed cleanly: status=%q end=%v", got.Status, got.ActualEndTime)
	}
}

func TestCancelReleasesHolds(t *testing.T) {
	s, l, m, tripRow := newFixture(t, []string{"Hotel", "Airport"})
	ctx := context.Background()

	if _, err := l.Hold(ctx, tripRow.ID, 1, 4, 0, "Hotel", "Airport"); err != nil {
		t.Fatalf("hold: %v", err)
	}
	if _, err := l.Hold(ctx, tripRow.ID, 2, 3, 0, "Hotel", "Airport"); err != nil {
		t.Fatalf("hold: %v", err)
	}

	got, err := m.Cancel(ctx, tripRow.ID, testDriverID, "driver")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if got.Status != models.TripCancelled {
		t.Fatalf("status = %q, want CANCELLED", got.Status)
	}

	after, _ := s.GetTrip(ctx, tripRow.ID)
	if after.SeatHeld != 0 || after.SeatsOccupied != 0 {
		t.Fatalf("counters after cancel = held %d occupied %d, want 0/0", after.SeatHeld, after.SeatsOccupied)
	}
}

func TestCancelCompletedTripIsInvalid(t *testing.T) {
	_, _, m, tripRow := newFixture(t, []string{"Hotel", "Airport"})
	ctx := context.Background()
	tracker := m.Tracker()

	if _, err := m.Start(ctx, tripRow.ID, testDriverID); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, _, err := tracker.StartNext(ctx, tripRow.ID, testDriverID); err != nil {
		t.Fatalf("advance: %v", err)
	}
	if _, err := m.Complete(ctx, tripRow.ID, testDriverID); err != nil {
		t.Fatalf("complete: %v", err)
	}

	_, err := m.Cancel(ctx, tripRow.ID, testDriverID, "driver")
	if !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("cancel after complete = %v, want ErrInvalidState", err)
	}
}

func TestTransitionPhaseOneWayAndIdempotent(t *testing.T) {
	_, _, m, tripRow := newFixture(t, []string{"Hotel", "Airport"})
	ctx := context.Background()

	// Phase changes only while IN_PROGRESS.
	if err := m.TransitionPhase(ctx, tripRow.ID, models.PhaseReturn); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("phase switch on scheduled trip = %v, want ErrInvalidState", err)
	}

	if _, err := m.Start(ctx, tripRow.ID, testDriverID); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := m.TransitionPhase(ctx, tripRow.ID, models.PhaseReturn); err != nil {
		t.Fatalf("phase switch: %v", err)
	}
	// Repeat trigger from geofence jitter: success, no side effects.
	if err := m.TransitionPhase(ctx, tripRow.ID, models.PhaseReturn); err != nil {
		t.Fatalf("idempotent re-switch = %v, want nil", err)
	}
	// Switching back is never legal.
	if err := m.TransitionPhase(ctx, tripRow.ID, models.PhaseOutbound); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("reverse phase switch = %v, want ErrInvalidState", err)
	}
}
