package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"shuttle_coordinator/internal/domain"
	"shuttle_coordinator/internal/models"
)

// MemoryStore implements Store with in-process maps. It mirrors the
// conditional-update semantics of the Postgres store under a single mutex,
// which makes every method linearizable. Used by the service tests and for
// running the server without a database.
type MemoryStore struct {
	mu sync.Mutex

	nextID    uint
	trips     map[uint]*models.TripInstance
	segments  map[uint]*models.RouteInstance
	bookings  map[uint]*models.Booking
	tokens    map[string]*models.CheckInToken
	locations map[uint][]models.LocationHistory
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		nextID:    1,
		trips:     make(map[uint]*models.TripInstance),
		segments:  make(map[uint]*models.RouteInstance),
		bookings:  make(map[uint]*models.Booking),
		tokens:    make(map[string]*models.CheckInToken),
		locations: make(map[uint][]models.LocationHistory),
	}
}

func (s *MemoryStore) allocID() uint {
	id := s.nextID
	s.nextID++
	return id
}

func (s *MemoryStore) GetTrip(_ context.Context, id uint) (*models.TripInstance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	trip, ok := s.trips[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *trip
	return &cp, nil
}

func (s *MemoryStore) CreateTrip(_ context.Context, trip *models.TripInstance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if trip.ID == 0 {
		trip.ID = s.allocID()
	}
	if trip.Status == "" {
		trip.Status = models.TripScheduled
	}
	if trip.Phase == "" {
		trip.Phase = models.PhaseOutbound
	}
	cp := *trip
	s.trips[trip.ID] = &cp
	return nil
}

func (s *MemoryStore) ActiveTripForDriver(_ context.Context, driverID uint) (*models.TripInstance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var found *models.TripInstance
	for _, trip := range s.trips {
		if trip.DriverID != driverID || !trip.Active() {
			continue
		}
		if found == nil || trip.ScheduledStartTime.Before(found.ScheduledStartTime) {
			found = trip
		}
	}
	if found == nil {
		return nil, domain.ErrNotFound
	}
	cp := *found
	return &cp, nil
}

func (s *MemoryStore) BeginTrip(_ context.Context, tripID uint, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	trip, ok := s.trips[tripID]
	if !ok || trip.Status != models.TripScheduled {
		return false, nil
	}
	trip.Status = models.TripInProgress
	trip.Phase = models.PhaseOutbound
	t := at
	trip.ActualStartTime = &t
	return true, nil
}

func (s *MemoryStore) FinishTrip(_ context.Context, tripID uint, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	trip, ok := s.trips[tripID]
	if !ok || trip.Status != models.TripInProgress {
		return false, nil
	}
	trip.Status = models.TripCompleted
	t := at
	trip.ActualEndTime = &t
	return true, nil
}

func (s *MemoryStore) AbortTrip(_ context.Context, tripID uint, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	trip, ok := s.trips[tripID]
	if !ok || !trip.Active() {
		return false, nil
	}
	trip.Status = models.TripCancelled
	t := at
	trip.ActualEndTime = &t
	return true, nil
}

func (s *MemoryStore) SwitchPhase(_ context.Context, tripID uint, from, to string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	trip, ok := s.trips[tripID]
	if !ok || trip.Status != models.TripInProgress || trip.Phase != from {
		return false, nil
	}
	trip.Phase = to
	return true, nil
}

func (s *MemoryStore) HoldSeats(_ context.Context, tripID uint, seats int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	trip, ok := s.trips[tripID]
	if !ok || !trip.Active() || trip.SeatHeld+seats > trip.SeatCapacity {
		return false, nil
	}
	trip.SeatHeld += seats
	return true, nil
}

func (s *MemoryStore) OccupySeats(_ context.Context, tripID uint, seats int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	trip, ok := s.trips[tripID]
	if !ok || trip.SeatsOccupied+seats > trip.SeatHeld {
		return false, nil
	}
	trip.SeatsOccupied += seats
	return true, nil
}

func (s *MemoryStore) ReleaseSeats(_ context.Context, tripID uint, held, occupied int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	trip, ok := s.trips[tripID]
	if !ok {
		return domain.ErrNotFound
	}
	trip.SeatHeld -= held
	if trip.SeatHeld < 0 {
		trip.SeatHeld = 0
	}
	trip.SeatsOccupied -= occupied
	if trip.SeatsOccupied < 0 {
		trip.SeatsOccupied = 0
	}
	return nil
}

func (s *MemoryStore) CreateSegments(_ context.Context, segments []models.RouteInstance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range segments {
		if segments[i].ID == 0 {
			segments[i].ID = s.allocID()
		}
		cp := segments[i]
		s.segments[cp.ID] = &cp
	}
	return nil
}

func (s *MemoryStore) GetSegment(_ context.Context, id uint) (*models.RouteInstance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seg, ok := s.segments[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *seg
	return &cp, nil
}

func (s *MemoryStore) SegmentsByTrip(_ context.Context, tripID uint) ([]models.RouteInstance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.RouteInstance
	for _, seg := range s.segments {
		if seg.TripInstanceID == tripID {
			out = append(out, *seg)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

func (s *MemoryStore) SaveSegment(_ context.Context, segment *models.RouteInstance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if segment.ID == 0 {
		segment.ID = s.allocID()
	}
	cp := *segment
	s.segments[cp.ID] = &cp
	return nil
}

func (s *MemoryStore) GetBooking(_ context.Context, id uint) (*models.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	booking, ok := s.bookings[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *booking
	return &cp, nil
}

func (s *MemoryStore) CreateBooking(_ context.Context, booking *models.Booking) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if booking.ID == 0 {
		booking.ID = s.allocID()
	}
	if booking.SeatState == "" {
		booking.SeatState = models.SeatHeld
	}
	cp := *booking
	s.bookings[booking.ID] = &cp
	return nil
}

func (s *MemoryStore) ActiveBookingsByTrip(_ context.Context, tripID uint) ([]models.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Booking
	for _, b := range s.bookings {
		if b.TripInstanceID == tripID && b.ActiveHold() {
			out = append(out, *b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) BookingsBoardedOnSegment(_ context.Context, segmentID uint) ([]models.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Booking
	for _, b := range s.bookings {
		if b.BoardedSegmentID != nil && *b.BoardedSegmentID == segmentID && b.SeatState == models.SeatOccupied {
			out = append(out, *b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) UpdateSeatState(_ context.Context, bookingID uint, from, to string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	booking, ok := s.bookings[bookingID]
	if !ok || booking.IsCancelled || booking.SeatState != from {
		return false, nil
	}
	booking.SeatState = to
	return true, nil
}

func (s *MemoryStore) SetBoardedSegment(_ context.Context, bookingID uint, segmentID *uint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	booking, ok := s.bookings[bookingID]
	if !ok {
		return domain.ErrNotFound
	}
	booking.BoardedSegmentID = segmentID
	return nil
}

func (s *MemoryStore) MarkCancelled(_ context.Context, bookingID uint) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	booking, ok := s.bookings[bookingID]
	if !ok || booking.IsCancelled || booking.IsCompleted {
		return false, nil
	}
	booking.IsCancelled = true
	return true, nil
}

func (s *MemoryStore) TokenByValue(_ context.Context, token string) (*models.CheckInToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tokens[token]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (s *MemoryStore) UnconsumedTokenForBooking(_ context.Context, bookingID uint) (*models.CheckInToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var found *models.CheckInToken
	for _, t := range s.tokens {
		if t.BookingID != bookingID || t.Consumed {
			continue
		}
		if found == nil || t.IssuedAt.After(found.IssuedAt) {
			found = t
		}
	}
	if found == nil {
		return nil, domain.ErrNotFound
	}
	cp := *found
	return &cp, nil
}

func (s *MemoryStore) CreateToken(_ context.Context, token *models.CheckInToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if token.ID == 0 {
		token.ID = s.allocID()
	}
	cp := *token
	s.tokens[token.Token] = &cp
	return nil
}

func (s *MemoryStore) ConsumeToken(_ context.Context, token string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tokens[token]
	if !ok || t.Consumed {
		return false, nil
	}
	t.Consumed = true
	ts := at
	t.ConsumedAt = &ts
	return true, nil
}

func (s *MemoryStore) LastLocation(_ context.Context, driverID uint) (*models.LocationHistory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	history := s.locations[driverID]
	if len(history) == 0 {
		return nil, domain.ErrNotFound
	}
	cp := history[len(history)-1]
	return &cp, nil
}

// maxLocationHistory bounds per-driver sample retention; only the most
// recent sample is needed for geofence/ETA work, the rest is diagnostics.
const maxLocationHistory = 100

func (s *MemoryStore) SaveLocation(_ context.Context, sample *models.LocationHistory) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sample.ID == 0 {
		sample.ID = s.allocID()
	}
	history := append(s.locations[sample.DriverID], *sample)
	if len(history) > maxLocationHistory {
		history = history[len(history)-maxLocationHistory:]
	}
	s.locations[sample.DriverID] = history
	return nil
}
