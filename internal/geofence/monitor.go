// Package geofence watches live position samples for in-progress trips and
// fires the OUTBOUND -> RETURN phase switch when the shuttle leaves the
// route's circular boundary. GPS jitter near the radius would re-trigger on
// every sample, so the monitor keeps a one-shot latch per trip that only
// re-arms when the vehicle re-enters the boundary.
package geofence

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"shuttle_coordinator/internal/geo"
	"shuttle_coordinator/internal/models"
)

// PhaseMachine is the slice of the trip machine the monitor drives.
type PhaseMachine interface {
	TransitionPhase(ctx context.Context, tripID uint, newPhase string) error
}

type tripState struct {
	attempted bool // one-shot latch, reset on boundary re-entry
}

type Monitor struct {
	machine PhaseMachine

	mu     sync.Mutex
	states map[uint]*tripState
}

func NewMonitor(machine PhaseMachine) *Monitor {
	return &Monitor{machine: machine, states: make(map[uint]*tripState)}
}

// Observe feeds one position sample for the trip. It returns true when the
// sample triggered a successful phase transition. A failed transition
// leaves the latch unarmed so the next sample retries; that is the retry
// policy for this path, and errors are never fatal to the sample stream.
func (m *Monitor) Observe(ctx context.Context, trip *models.TripInstance, fence geo.Fence, lat, lng float64) (bool, error) {
	if trip.Status != models.TripInProgress {
		m.Forget(trip.ID)
		return false, nil
	}

	inside := fence.Contains(lat, lng)

	m.mu.Lock()
	st, ok := m.states[trip.ID]
	if !ok {
		st = &tripState{}
		m.states[trip.ID] = st
	}

	if inside {
		// Re-entry re-arms the latch: exactly one future trigger per exit.
		st.attempted = false
		m.mu.Unlock()
		return false, nil
	}

	// A trip that starts already outside the boundary still counts as a
	// boundary-exit episode, so the latch is the only gate.
	shouldTrigger := trip.Phase == models.PhaseOutbound && !st.attempted
	m.mu.Unlock()

	if !shouldTrigger {
		return false, nil
	}

	if err := m.machine.TransitionPhase(ctx, trip.ID, models.PhaseReturn); err != nil {
		logrus.WithError(err).WithField("trip_id", trip.ID).
			Warn("Geofence phase transition failed, will retry on next sample.")
		return false, err
	}

	m.mu.Lock()
	st.attempted = true
	m.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"trip_id": trip.ID,
		"lat":     lat,
		"lng":     lng,
	}).Info("Shuttle left boundary, trip switched to RETURN.")
	return true, nil
}

// Forget drops the latch state for a trip, used once the trip goes
// terminal or the driver disconnects.
func (m *Monitor) Forget(tripID uint) {
	m.mu.Lock()
	delete(m.states, tripID)
	m.mu.Unlock()
}
