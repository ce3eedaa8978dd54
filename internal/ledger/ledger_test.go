package ledger

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"shuttle_coordinator/internal/domain"
	"shuttle_coordinator/internal/models"
	"shuttle_coordinator/internal/store"
)

func newTestTrip(t *testing.T, s *store.MemoryStore, capacity int) *models.TripInstance {
	t.Helper()
	trip := &models.TripInstance{
		Status:             models.TripScheduled,
		Phase:              models.PhaseOutbound,
		DriverID:           7,
		SeatCapacity:       capacity,
		ScheduledStartTime: time.Now(),
	}
	if err := s.CreateTrip(context.Background(), trip); err != nil {
		t.Fatalf("create trip: %v", err)
	}
	return trip
}

func TestHoldWithinCapacity(t *testing.T) {
	s := store.NewMemoryStore()
	l := New(s)
	trip := newTestTrip(t, s, 10)

	booking, err := l.Hold(context.Background(), trip.ID, 1, 4, 2, "Hotel", "Airport")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if booking.SeatState != models.SeatHeld {
		t.Fatalf("seat state = %q, want HELD", booking.SeatState)
	}

	got, _ := s.GetTrip(context.Background(), trip.ID)
	if got.SeatHeld != 4 {
		t.Fatalf("seat_held = %d, want 4", got.SeatHeld)
	}
}

func TestHoldCapacityExceeded(t *testing.T) {
	s := store.NewMemoryStore()
	l := New(s)
	trip := newTestTrip(t, s, 3)

	if _, err := l.Hold(context.Background(), trip.ID, 1, 3, 0, "Hotel", "Airport"); err != nil {
		t.Fatalf("first hold failed: %v", err)
	}
	_, err := l.Hold(context.Background(), trip.ID, 2, 1, 0, "Hotel", "Airport")
	if !errors.Is(err, domain.ErrCapacityExceeded) {
		t.Fatalf("error = %v, want ErrCapacityExceeded", err)
	}

	got, _ := s.GetTrip(context.Background(), trip.ID)
	if got.SeatHeld != 3 {
		t.Fatalf("failed hold mutated seat_held: %d", got.SeatHeld)
	}
}

// Capacity 10, three concurrent holds of 4, 4 and 3: exactly one must fail
// and the survivors account for 8 held seats.
func TestConcurrentHoldsLastSeats(t *testing.T) {
	s := store.NewMemoryStore()
	l := New(s)
	trip := newTestTrip(t, s, 10)

	sizes := []int{4, 4, 3}
	errs := make([]error, len(sizes))
	var wg sync.WaitGroup
	for i, n := range sizes {
		wg.Add(1)
		go func(i, n int) {
			defer wg.Done()
			_, errs[i] = l.Hold(context.Background(), trip.ID, uint(i+1), n, 0, "Hotel", "Airport")
		}(i, n)
	}
	wg.Wait()

	failures := 0
	for _, err := range errs {
		if errors.Is(err, domain.ErrCapacityExceeded) {
			failures++
		} else if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if failures != 1 {
		t.Fatalf("failures = %d, want exactly 1", failures)
	}

	got, _ := s.GetTrip(context.Background(), trip.ID)
	if got.SeatHeld != 8 {
		t.Fatalf("seat_held = %d, want 8", got.SeatHeld)
	}
}

// Property: under randomized concurrent holds the sum of successful holds
// never exceeds capacity.
func TestConcurrentHoldsNeverOverflow(t *testing.T) {
	const capacity = 14
	rng := rand.New(rand.NewSource(42))

	for round := 0; round < 20; round++ {
		s := store.NewMemoryStore()
		l := New(s)
		trip := newTestTrip(t, s, capacity)

		callers := 8 + rng.Intn(8)
		granted := make([]int, callers)
		var wg sync.WaitGroup
		for i := 0; i < callers; i++ {
			seats := 1 + rng.Intn(5)
			wg.Add(1)
			go func(i, seats int) {
				defer wg.Done()
				if _, err := l.Hold(context.Background(), trip.ID, uint(i+1), seats, 0, "A", "B"); err == nil {
					granted[i] = seats
				}
			}(i, seats)
		}
		wg.Wait()

		sum := 0
		for _, n := range granted {
			sum += n
		}
		got, _ := s.GetTrip(context.Background(), trip.ID)
		if sum > capacity {
			t.Fatalf("round %d: granted %d seats over capacity %d", round, sum, capacity)
		}
		if got.SeatHeld != sum {
			t.Fatalf("round %d: seat_held = %d, granted sum = %d", round, got.SeatHeld, sum)
		}
	}
}

func TestReleaseIdempotent(t *testing.T) {
	s := store.NewMemoryStore()
	l := New(s)
	trip := newTestTrip(t, s, 10)
	ctx := context.Background()

	booking, err := l.Hold(ctx, trip.ID, 1, 4, 0, "Hotel", "Airport")
	if err != nil {
		t.Fatalf("hold: %v", err)
	}

	if err := l.Release(ctx, booking.ID); err != nil {
		t.Fatalf("first release: %v", err)
	}
	if err := l.Release(ctx, booking.ID); err != nil {
		t.Fatalf("second release should be a no-op, got: %v", err)
	}

	got, _ := s.GetTrip(ctx, trip.ID)
	if got.SeatHeld != 0 {
		t.Fatalf("seat_held = %d after double release, want 0", got.SeatHeld)
	}
}

func TestReleaseOccupiedBooking(t *testing.T) {
	s := store.NewMemoryStore()
	l := New(s)
	trip := newTestTrip(t, s, 10)
	ctx := context.Background()

	booking, _ := l.Hold(ctx, trip.ID, 1, 2, 0, "Hotel", "Airport")
	if err := l.Confirm(ctx, booking.ID); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if err := l.MarkOccupied(ctx, booking.ID, nil); err != nil {
		t.Fatalf("mark occupied: %v", err)
	}

	got, _ := s.GetTrip(ctx, trip.ID)
	if got.SeatsOccupied != 2 || got.SeatHeld != 2 {
		t.Fatalf("counters = held %d occupied %d, want 2/2", got.SeatHeld, got.SeatsOccupied)
	}

	if err := l.Release(ctx, booking.ID); err != nil {
		t.Fatalf("release: %v", err)
	}
	got, _ = s.GetTrip(ctx, trip.ID)
	if got.SeatHeld != 0 || got.SeatsOccupied != 0 {
		t.Fatalf("counters after release = held %d occupied %d, want 0/0", got.SeatHeld, got.SeatsOccupied)
	}
}

func TestMarkOccupiedRequiresConfirm(t *testing.T) {
	s := store.NewMemoryStore()
	l := New(s)
	trip := newTestTrip(t, s, 10)
	ctx := context.Background()

	booking, _ := l.Hold(ctx, trip.ID, 1, 2, 0, "Hotel", "Airport")
	err := l.MarkOccupied(ctx, booking.ID, nil)
	if !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("error = %v, want ErrInvalidState for unconfirmed booking", err)
	}

	got, _ := s.GetTrip(ctx, trip.ID)
	if got.SeatsOccupied != 0 {
		t.Fatalf("seats_occupied = %d, want 0", got.SeatsOccupied)
	}
}

func TestConfirmIsRepeatable(t *testing.T) {
	s := store.NewMemoryStore()
	l := New(s)
	trip := newTestTrip(t, s, 10)
	ctx := context.Background()

	booking, _ := l.Hold(ctx, trip.ID, 1, 1, 0, "Hotel", "Airport")
	if err := l.Confirm(ctx, booking.ID); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if err := l.Confirm(ctx, booking.ID); err != nil {
		t.Fatalf("re-confirm should succeed, got: %v", err)
	}

	if err := l.Release(ctx, booking.ID); err != nil {
		t.Fatalf("release: %v", err)
	}
	if err := l.Confirm(ctx, booking.ID); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("confirm after release = %v, want ErrInvalidState", err)
	}
}

func TestReleaseAllForTrip(t *testing.T) {
	s := store.NewMemoryStore()
	l := New(s)
	trip := newTestTrip(t, s, 10)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := l.Hold(ctx, trip.ID, uint(i+1), 2, 0, "Hotel", "Airport"); err != nil {
			t.Fatalf("hold %d: %v", i, err)
		}
	}
	if err := l.ReleaseAllForTrip(ctx, trip.ID); err != nil {
		t.Fatalf("release all: %v", err)
	}

	got, _ := s.GetTrip(ctx, trip.ID)
	if got.SeatHeld != 0 {
		t.Fatalf("seat_held = %d, want 0", got.SeatHeld)
	}
}

// hookedStore lets a test inject a concurrent actor into the window
// between an operation's first booking read and its trip lock.
type hookedStore struct {
	*store.MemoryStore
	mu           sync.Mutex
	onGetBooking func(id uint)
}

func (h *hookedStore) GetBooking(ctx context.Context, id uint) (*models.Booking, error) {
	h.mu.Lock()
	hook := h.onGetBooking
	h.onGetBooking = nil
	h.mu.Unlock()
	if hook != nil {
		hook(id)
	}
	return h.MemoryStore.GetBooking(ctx, id)
}

// Scenario: the driver checks the passenger in while the guest's
// cancellation is in flight. The release must account for the occupancy
// that landed after its first read, leaving seats_occupied <= seat_held
// and both counters drained.
func TestReleaseOverlappingCheckIn(t *testing.T) {
	s := store.NewMemoryStore()
	hs := &hookedStore{MemoryStore: s}
	l := New(hs)
	trip := newTestTrip(t, s, 10)
	ctx := context.Background()

	booking, err := l.Hold(ctx, trip.ID, 1, 2, 0, "Hotel", "Airport")
	if err != nil {
		t.Fatalf("hold: %v", err)
	}
	if err := l.Confirm(ctx, booking.ID); err != nil {
		t.Fatalf("confirm: %v", err)
	}

	hs.mu.Lock()
	hs.onGetBooking = func(id uint) {
		if err := l.MarkOccupied(ctx, id, nil); err != nil {
			t.Errorf("check-in during release window: %v", err)
		}
	}
	hs.mu.Unlock()

	if err := l.Release(ctx, booking.ID); err != nil {
		t.Fatalf("release: %v", err)
	}

	got, _ := s.GetTrip(ctx, trip.ID)
	if got.SeatsOccupied > got.SeatHeld {
		t.Fatalf("seats_occupied %d exceeds seat_held %d", got.SeatsOccupied, got.SeatHeld)
	}
	if got.SeatHeld != 0 || got.SeatsOccupied != 0 {
		t.Fatalf("counters = held %d occupied %d, want 0/0", got.SeatHeld, got.SeatsOccupied)
	}
}

// The mirror interleaving: the cancellation lands first and the late
// check-in must be rejected rather than occupy a released seat.
func TestMarkOccupiedAfterReleaseRejected(t *testing.T) {
	s := store.NewMemoryStore()
	hs := &hookedStore{MemoryStore: s}
	l := New(hs)
	trip := newTestTrip(t, s, 10)
	ctx := context.Background()

	booking, err := l.Hold(ctx, trip.ID, 1, 2, 0, "Hotel", "Airport")
	if err != nil {
		t.Fatalf("hold: %v", err)
	}
	if err := l.Confirm(ctx, booking.ID); err != nil {
		t.Fatalf("confirm: %v", err)
	}

	hs.mu.Lock()
	hs.onGetBooking = func(id uint) {
		if err := l.Release(ctx, id); err != nil {
			t.Errorf("release during check-in window: %v", err)
		}
	}
	hs.mu.Unlock()

	if err := l.MarkOccupied(ctx, booking.ID, nil); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("check-in after cancellation = %v, want ErrInvalidState", err)
	}

	got, _ := s.GetTrip(ctx, trip.ID)
	if got.SeatHeld != 0 || got.SeatsOccupied != 0 {
		t.Fatalf("counters = held %d occupied %d, want 0/0", got.SeatHeld, got.SeatsOccupied)
	}
}
