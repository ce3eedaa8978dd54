package geofence

import (
	"context"
	"testing"

	"shuttle_coordinator/internal/domain"
	"shuttle_coordinator/internal/geo"
	"shuttle_coordinator/internal/models"
)

// fence centered at the origin; points are expressed as latitude offsets,
// 0.001 degrees is roughly 111 m.
var testFence = geo.Fence{CenterLat: 0, CenterLng: 0, RadiusM: 800}

const (
	insideLat  = 0.001 // ~111 m from center
	outsideLat = 0.02  // ~2.2 km from center
)

type fakeMachine struct {
	calls int
	fail  int // fail the first n calls
}

func (f *fakeMachine) TransitionPhase(_ context.Context, _ uint, _ string) error {
	f.calls++
	if f.calls <= f.fail {
		return domain.ErrUpstreamUnavailable
	}
	return nil
}

func activeTrip() *models.TripInstance {
	t := &models.TripInstance{Status: models.TripInProgress, Phase: models.PhaseOutbound}
	t.ID = 1
	return t
}

// Latch property: [inside, outside, outside, outside, inside, outside]
// fires exactly twice, once per exit episode.
func TestLatchFiresOncePerExitEpisode(t *testing.T) {
	machine := &fakeMachine{}
	m := NewMonitor(machine)
	trip := activeTrip()
	ctx := context.Background()

	sequence := []float64{insideLat, outsideLat, outsideLat, outsideLat, insideLat, outsideLat}
	for i, lat := range sequence {
		if _, err := m.Observe(ctx, trip, testFence, lat, 0); err != nil {
			t.Fatalf("sample %d: %v", i, err)
		}
	}

	if machine.calls != 2 {
		t.Fatalf("transition invoked %d times, want exactly 2", machine.calls)
	}
}

// A shuttle that starts the trip already 1200 m out triggers on the very
// first sample.
func TestFirstSampleOutsideTriggers(t *testing.T) {
	machine := &fakeMachine{}
	m := NewMonitor(machine)
	trip := activeTrip()
	ctx := context.Background()

	// ~1.2 km north of an 800 m fence.
	triggered, err := m.Observe(ctx, trip, testFence, 0.0108, 0)
	if err != nil {
		t.Fatalf("observe: %v", err)
	}
	if !triggered {
		t.Fatal("first outside sample did not trigger")
	}
	if machine.calls != 1 {
		t.Fatalf("transition invoked %d times, want 1", machine.calls)
	}

	// Further outside samples stay latched.
	if _, err := m.Observe(ctx, trip, testFence, 0.012, 0); err != nil {
		t.Fatalf("observe: %v", err)
	}
	if machine.calls != 1 {
		t.Fatalf("transition invoked %d times after second sample, want 1", machine.calls)
	}
}

// A failed transition leaves the latch unarmed; the next sample retries.
func TestFailedTransitionRetriesNextSample(t *testing.T) {
	machine := &fakeMachine{fail: 1}
	m := NewMonitor(machine)
	trip := activeTrip()
	ctx := context.Background()

	if _, err := m.Observe(ctx, trip, testFence, outsideLat, 0); err == nil {
		t.Fatal("expected transition error on first sample")
	}
	triggered, err := m.Observe(ctx, trip, testFence, outsideLat, 0)
	if err != nil {
		t.Fatalf("retry sample: %v", err)
	}
	if !triggered {
		t.Fatal("retry sample did not trigger")
	}
	if _, err := m.Observe(ctx, trip, testFence, outsideLat, 0); err != nil {
		t.Fatalf("post-success sample: %v", err)
	}

	if machine.calls != 2 {
		t.Fatalf("transition invoked %d times, want 2 (one failure, one success)", machine.calls)
	}
}

func TestReturnPhaseNeverTriggers(t *testing.T) {
	machine := &fakeMachine{}
	m := NewMonitor(machine)
	trip := activeTrip()
	trip.Phase = models.PhaseReturn
	ctx := context.Background()

	for _, lat := range []float64{insideLat, outsideLat, outsideLat} {
		if _, err := m.Observe(ctx, trip, testFence, lat, 0); err != nil {
			t.Fatalf("observe: %v", err)
		}
	}
	if machine.calls != 0 {
		t.Fatalf("transition invoked %d times for RETURN trip, want 0", machine.calls)
	}
}

func TestTerminalTripClearsState(t *testing.T) {
	machine := &fakeMachine{}
	m := NewMonitor(machine)
	trip := activeTrip()
	ctx := context.Background()

	if _, err := m.Observe(ctx, trip, testFence, insideLat, 0); err != nil {
		t.Fatalf("observe: %v", err)
	}

	trip.Status = models.TripCompleted
	if _, err := m.Observe(ctx, trip, testFence, outsideLat, 0); err != nil {
		t.Fatalf("observe terminal: %v", err)
	}
	if machine.calls != 0 {
		t.Fatalf("transition invoked %d times on terminal trip, want 0", machine.calls)
	}

	m.mu.Lock()
	_, ok := m.states[trip.ID]
	m.mu.Unlock()
	if ok {
		t.Fatal("latch state retained for terminal trip")
	}
}
