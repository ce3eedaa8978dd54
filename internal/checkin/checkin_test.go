package checkin

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"shuttle_coordinator/internal/domain"
	"shuttle_coordinator/internal/ledger"
	"shuttle_coordinator/internal/models"
	"shuttle_coordinator/internal/store"
	"shuttle_coordinator/internal/trip"
)

const driverID = 3

func newFixture(t *testing.T) (*store.MemoryStore, *Service, *models.TripInstance, *models.Booking) {
	t.Helper()
	s := store.NewMemoryStore()
	l := ledger.New(s)
	m := trip.NewMachine(s, l)
	svc := New(s, l, m.Tracker(), 0)
	ctx := context.Background()

	tripRow := &models.TripInstance{
		Status:             models.TripScheduled,
		DriverID:           driverID,
		SeatCapacity:       10,
		ScheduledStartTime: time.Now(),
	}
	if err := s.CreateTrip(ctx, tripRow); err != nil {
		t.Fatalf("create trip: %v", err)
	}
	if err := s.CreateSegments(ctx, []models.RouteInstance{
		{TripInstanceID: tripRow.ID, Seq: 0, StartLocationName: "Hotel", EndLocationName: "Airport"},
	}); err != nil {
		t.Fatalf("create segments: %v", err)
	}

	booking, err := l.Hold(ctx, tripRow.ID, 1, 2, 1, "Hotel", "Airport")
	if err != nil {
		t.Fatalf("hold: %v", err)
	}
	if err := l.Confirm(ctx, booking.ID); err != nil {
		t.Fatalf("confirm booking: %v", err)
	}
	if _, err := m.Start(ctx, tripRow.ID, driverID); err != nil {
		t.Fatalf("start trip: %v", err)
	}
	return s, svc, tripRow, booking
}

func TestIssueIsIdempotent(t *testing.T) {
	_, svc, _, booking := newFixture(t)
	ctx := context.Background()

	first, err := svc.IssueForBooking(ctx, booking.ID)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if first.Token == "" {
		t.Fatal("empty token value")
	}

	second, err := svc.IssueForBooking(ctx, booking.ID)
	if err != nil {
		t.Fatalf("re-issue: %v", err)
	}
	if second.Token != first.Token {
		t.Fatalf("re-issue minted a new token: %q vs %q", second.Token, first.Token)
	}
}

func TestIssueRequiresConfirmedBooking(t *testing.T) {
	s, svc, tripRow, _ := newFixture(t)
	ctx := context.Background()

	held := &models.Booking{TripInstanceID: tripRow.ID, GuestID: 9, Seats: 1, SeatState: models.SeatHeld}
	if err := s.CreateBooking(ctx, held); err != nil {
		t.Fatalf("create booking: %v", err)
	}
	if _, err := svc.IssueForBooking(ctx, held.ID); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("issue for held booking = %v, want ErrInvalidState", err)
	}
}

// Scenario: Verify twice with no Confirm leaves the booking unverified and
// seat occupancy unchanged.
func TestVerifyHasNoSideEffects(t *testing.T) {
	s, svc, tripRow, booking := newFixture(t)
	ctx := context.Background()

	token, _ := svc.IssueForBooking(ctx, booking.ID)
	for i := 0; i < 2; i++ {
		summary, err := svc.Verify(ctx, token.Token, driverID)
		if err != nil {
			t.Fatalf("verify %d: %v", i, err)
		}
		if summary.BookingID != booking.ID {
			t.Fatalf("verify resolved wrong booking: %d", summary.BookingID)
		}
	}

	b, _ := s.GetBooking(ctx, booking.ID)
	if b.SeatState != models.SeatConfirmed {
		t.Fatalf("seat state after verifies = %q, want CONFIRMED", b.SeatState)
	}
	tr, _ := s.GetTrip(ctx, tripRow.ID)
	if tr.SeatsOccupied != 0 {
		t.Fatalf("seats_occupied after verifies = %d, want 0", tr.SeatsOccupied)
	}
}

func TestVerifyUnknownToken(t *testing.T) {
	_, svc, _, _ := newFixture(t)
	if _, err := svc.Verify(context.Background(), "no-such-token", driverID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("error = %v, want ErrNotFound", err)
	}
}

func TestConfirmConsumesExactlyOnce(t *testing.T) {
	s, svc, tripRow, booking := newFixture(t)
	ctx := context.Background()

	token, _ := svc.IssueForBooking(ctx, booking.ID)

	summary, err := svc.Confirm(ctx, token.Token, driverID)
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if summary.SeatState != models.SeatOccupied || summary.ConsumedAt == nil {
		t.Fatalf("summary after confirm = %+v", summary)
	}

	// Flaky client retries: every retry fails, occupancy counted once.
	for i := 0; i < 3; i++ {
		if _, err := svc.Confirm(ctx, token.Token, driverID); !errors.Is(err, domain.ErrAlreadyConsumed) {
			t.Fatalf("retry %d = %v, want ErrAlreadyConsumed", i, err)
		}
	}

	tr, _ := s.GetTrip(ctx, tripRow.ID)
	if tr.SeatsOccupied != booking.Seats {
		t.Fatalf("seats_occupied = %d, want %d", tr.SeatsOccupied, booking.Seats)
	}
}

func TestConfirmConcurrentRetries(t *testing.T) {
	s, svc, tripRow, booking := newFixture(t)
	ctx := context.Background()

	token, _ := svc.IssueForBooking(ctx, booking.ID)

	const callers = 6
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.Confirm(ctx, token.Token, driverID)
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
		} else if !errors.Is(err, domain.ErrAlreadyConsumed) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if succeeded != 1 {
		t.Fatalf("confirm succeeded %d times, want exactly 1", succeeded)
	}

	tr, _ := s.GetTrip(ctx, tripRow.ID)
	if tr.SeatsOccupied != booking.Seats {
		t.Fatalf("seats_occupied = %d, want %d", tr.SeatsOccupied, booking.Seats)
	}
}

func TestExpiredToken(t *testing.T) {
	s, _, _, booking := newFixture(t)
	ctx := context.Background()

	l := ledger.New(s)
	m := trip.NewMachine(s, l)
	svc := New(s, l, m.Tracker(), time.Minute)

	token, err := svc.IssueForBooking(ctx, booking.ID)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	svc.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	if _, err := svc.Verify(ctx, token.Token, driverID); !errors.Is(err, domain.ErrExpired) {
		t.Fatalf("verify expired = %v, want ErrExpired", err)
	}
	if _, err := svc.Confirm(ctx, token.Token, driverID); !errors.Is(err, domain.ErrExpired) {
		t.Fatalf("confirm expired = %v, want ErrExpired", err)
	}
}

func TestOnlyAssignedDriverMayCheckIn(t *testing.T) {
	s, svc, tripRow, booking := newFixture(t)
	ctx := context.Background()

	token, err := svc.IssueForBooking(ctx, booking.ID)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	const otherDriver = driverID + 1
	if _, err := svc.Verify(ctx, token.Token, otherDriver); !errors.Is(err, domain.ErrNotAuthorized) {
		t.Fatalf("verify by other driver = %v, want ErrNotAuthorized", err)
	}
	if _, err := svc.Confirm(ctx, token.Token, otherDriver); !errors.Is(err, domain.ErrNotAuthorized) {
		t.Fatalf("confirm by other driver = %v, want ErrNotAuthorized", err)
	}

	// The denied attempts left the token live and the passenger unboarded.
	b, _ := s.GetBooking(ctx, booking.ID)
	if b.SeatState != models.SeatConfirmed {
		t.Fatalf("seat state after denied attempts = %q, want CONFIRMED", b.SeatState)
	}
	tr, _ := s.GetTrip(ctx, tripRow.ID)
	if tr.SeatsOccupied != 0 {
		t.Fatalf("seats_occupied after denied attempts = %d, want 0", tr.SeatsOccupied)
	}

	if _, err := svc.Confirm(ctx, token.Token, driverID); err != nil {
		t.Fatalf("confirm by assigned driver: %v", err)
	}
}

// flakyStore fails ConsumeToken a configured number of times before
// delegating, simulating a transient database outage mid check-in.
type flakyStore struct {
	*store.MemoryStore
	consumeFailures int
}

func (f *flakyStore) ConsumeToken(ctx context.Context, token string, at time.Time) (bool, error) {
	if f.consumeFailures > 0 {
		f.consumeFailures--
		return false, errors.New("connection reset by peer")
	}
	return f.MemoryStore.ConsumeToken(ctx, token, at)
}

// Scenario: the store drops the connection between boarding the passenger
// and consuming the token. The token must stay redeemable and the retry
// must converge with occupancy counted exactly once.
func TestConsumeFailureLeavesTokenRedeemable(t *testing.T) {
	s, _, tripRow, booking := newFixture(t)
	ctx := context.Background()

	flaky := &flakyStore{MemoryStore: s, consumeFailures: 1}
	l := ledger.New(s)
	m := trip.NewMachine(s, l)
	svc := New(flaky, l, m.Tracker(), 0)

	token, err := svc.IssueForBooking(ctx, booking.ID)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	if _, err := svc.Confirm(ctx, token.Token, driverID); err == nil {
		t.Fatal("confirm during outage succeeded, want error")
	} else if errors.Is(err, domain.ErrAlreadyConsumed) {
		t.Fatalf("confirm during outage = %v; the token must stay redeemable", err)
	}

	// The boarding itself landed, the token did not burn.
	b, _ := s.GetBooking(ctx, booking.ID)
	if b.SeatState != models.SeatOccupied {
		t.Fatalf("seat state after failed confirm = %q, want OCCUPIED", b.SeatState)
	}
	tok, _ := s.TokenByValue(ctx, token.Token)
	if tok.Consumed {
		t.Fatal("token consumed despite the confirm failing")
	}

	// A re-scan resolves to the same token, and the retry completes.
	again, err := svc.IssueForBooking(ctx, booking.ID)
	if err != nil {
		t.Fatalf("re-issue during interrupted check-in: %v", err)
	}
	if again.Token != token.Token {
		t.Fatalf("re-issue minted a new token: %q vs %q", again.Token, token.Token)
	}

	summary, err := svc.Confirm(ctx, token.Token, driverID)
	if err != nil {
		t.Fatalf("retry confirm: %v", err)
	}
	if summary.SeatState != models.SeatOccupied || summary.ConsumedAt == nil {
		t.Fatalf("summary after retry = %+v", summary)
	}

	tr, _ := s.GetTrip(ctx, tripRow.ID)
	if tr.SeatsOccupied != booking.Seats {
		t.Fatalf("seats_occupied = %d, want %d", tr.SeatsOccupied, booking.Seats)
	}
	segs, _ := s.SegmentsByTrip(ctx, tripRow.ID)
	if segs[0].SeatsOccupied != booking.Seats {
		t.Fatalf("segment boardings = %d, want %d", segs[0].SeatsOccupied, booking.Seats)
	}
}

func TestIssueRefusedAfterCompleteCheckIn(t *testing.T) {
	_, svc, _, booking := newFixture(t)
	ctx := context.Background()

	token, err := svc.IssueForBooking(ctx, booking.ID)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := svc.Confirm(ctx, token.Token, driverID); err != nil {
		t.Fatalf("confirm: %v", err)
	}

	if _, err := svc.IssueForBooking(ctx, booking.ID); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("issue after complete check-in = %v, want ErrInvalidState", err)
	}
}
