package store

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"shuttle_coordinator/internal/domain"
	"shuttle_coordinator/internal/models"
)

// GormStore implements Store on top of a Postgres connection. Conditional
// updates are expressed as single UPDATE statements with the expectation in
// the WHERE clause; RowsAffected == 0 means the condition did not hold.
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

var activeStatuses = []string{models.TripScheduled, models.TripInProgress}

func (s *GormStore) GetTrip(ctx context.Context, id uint) (*models.TripInstance, error) {
	var trip models.TripInstance
	err := s.db.WithContext(ctx).First(&trip, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &trip, nil
}

func (s *GormStore) CreateTrip(ctx context.Context, trip *models.TripInstance) error {
	return s.db.WithContext(ctx).Create(trip).Error
}

func (s *GormStore) ActiveTripForDriver(ctx context.Context, driverID uint) (*models.TripInstance, error) {
	var trip models.TripInstance
	err := s.db.WithContext(ctx).
		Where("driver_id = ? AND status IN ?", driverID, activeStatuses).
		Order("scheduled_start_time asc").
		First(&trip).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &trip, nil
}

func (s *GormStore) BeginTrip(ctx context.Context, tripID uint, at time.Time) (bool, error) {
	res := s.db.WithContext(ctx).Model(&models.TripInstance{}).
		Where("id = ? AND status = ?", tripID, models.TripScheduled).
		Updates(map[string]interface{}{
			"status":            models.TripInProgress,
			"phase":             models.PhaseOutbound,
			"actual_start_time": at,
		})
	return res.RowsAffected > 0, res.Error
}

func (s *GormStore) FinishTrip(ctx context.Context, tripID uint, at time.Time) (bool, error) {
	res := s.db.WithContext(ctx).Model(&models.TripInstance{}).
		Where("id = ? AND status = ?", tripID, models.TripInProgress).
		Updates(map[string]interface{}{
			"status":          models.TripCompleted,
			"actual_end_time": at,
		})
	return res.RowsAffected > 0, res.Error
}

func (s *GormStore) AbortTrip(ctx context.Context, tripID uint, at time.Time) (bool, error) {
	res := s.db.WithContext(ctx).Model(&models.TripInstance{}).
		Where("id = ? AND status IN ?", tripID, activeStatuses).
		Updates(map[string]interface{}{
			"status":          models.TripCancelled,
			"actual_end_time": at,
		})
	return res.RowsAffected > 0, res.Error
}

func (s *GormStore) SwitchPhase(ctx context.Context, tripID uint, from, to string) (bool, error) {
	res := s.db.WithContext(ctx).Model(&models.TripInstance{}).
		Where("id = ? AND status = ? AND phase = ?", tripID, models.TripInProgress, from).
		Update("phase", to)
	return res.RowsAffected > 0, res.Error
}

func (s *GormStore) HoldSeats(ctx context.Context, tripID uint, seats int) (bool, error) {
	res := s.db.WithContext(ctx).Model(&models.TripInstance{}).
		Where("id = ? AND status IN ? AND seat_held + ? <= seat_capacity", tripID, activeStatuses, seats).
		Update("seat_held", gorm.Expr("seat_held + ?", seats))
	return res.RowsAffected > 0, res.Error
}

func (s *GormStore) OccupySeats(ctx context.Context, tripID uint, seats int) (bool, error) {
	res := s.db.WithContext(ctx).Model(&models.TripInstance{}).
		Where("id = ? AND seats_occupied + ? <= seat_held", tripID, seats).
		Update("seats_occupied", gorm.Expr("seats_occupied + ?", seats))
	return res.RowsAffected > 0, res.Error
}

func (s *GormStore) ReleaseSeats(ctx context.Context, tripID uint, held, occupied int) error {
	return s.db.WithContext(ctx).Model(&models.TripInstance{}).
		Where("id = ?", tripID).
		Updates(map[string]interface{}{
			"seat_held":      gorm.Expr("GREATEST(seat_held - ?, 0)", held),
			"seats_occupied": gorm.Expr("GREATEST(seats_occupied - ?, 0)", occupied),
		}).Error
}

func (s *GormStore) CreateSegments(ctx context.Context, segments []models.RouteInstance) error {
	if len(segments) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Create(&segments).Error
}

func (s *GormStore) GetSegment(ctx context.Context, id uint) (*models.RouteInstance, error) {
	var segment models.RouteInstance
	err := s.db.WithContext(ctx).First(&segment, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &segment, nil
}

func (s *GormStore) SegmentsByTrip(ctx context.Context, tripID uint) ([]models.RouteInstance, error) {
	var segments []models.RouteInstance
	err := s.db.WithContext(ctx).
		Where("trip_instance_id = ?", tripID).
		Order("seq asc").
		Find(&segments).Error
	return segments, err
}

func (s *GormStore) SaveSegment(ctx context.Context, segment *models.RouteInstance) error {
	return s.db.WithContext(ctx).Save(segment).Error
}

func (s *GormStore) GetBooking(ctx context.Context, id uint) (*models.Booking, error) {
	var booking models.Booking
	err := s.db.WithContext(ctx).First(&booking, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &booking, nil
}

func (s *GormStore) CreateBooking(ctx context.Context, booking *models.Booking) error {
	return s.db.WithContext(ctx).Create(booking).Error
}

func (s *GormStore) ActiveBookingsByTrip(ctx context.Context, tripID uint) ([]models.Booking, error) {
	var bookings []models.Booking
	err := s.db.WithContext(ctx).
		Where("trip_instance_id = ? AND is_cancelled = false AND is_completed = false", tripID).
		Find(&bookings).Error
	return bookings, err
}

func (s *GormStore) BookingsBoardedOnSegment(ctx context.Context, segmentID uint) ([]models.Booking, error) {
	var bookings []models.Booking
	err := s.db.WithContext(ctx).
		Where("boarded_segment_id = ? AND seat_state = ?", segmentID, models.SeatOccupied).
		Find(&bookings).Error
	return bookings, err
}

func (s *GormStore) UpdateSeatState(ctx context.Context, bookingID uint, from, to string) (bool, error) {
	res := s.db.WithContext(ctx).Model(&models.Booking{}).
		Where("id = ? AND seat_state = ? AND is_cancelled = false", bookingID, from).
		Update("seat_state", to)
	return res.RowsAffected > 0, res.Error
}

func (s *GormStore) SetBoardedSegment(ctx context.Context, bookingID uint, segmentID *uint) error {
	return s.db.WithContext(ctx).Model(&models.Booking{}).
		Where("id = ?", bookingID).
		Update("boarded_segment_id", segmentID).Error
}

func (s *GormStore) MarkCancelled(ctx context.Context, bookingID uint) (bool, error) {
	res := s.db.WithContext(ctx).Model(&models.Booking{}).
		Where("id = ? AND is_cancelled = false AND is_completed = false", bookingID).
		Update("is_cancelled", true)
	return res.RowsAffected > 0, res.Error
}

func (s *GormStore) TokenByValue(ctx context.Context, token string) (*models.CheckInToken, error) {
	var t models.CheckInToken
	err := s.db.WithContext(ctx).Where("token = ?", token).First(&t).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *GormStore) UnconsumedTokenForBooking(ctx context.Context, bookingID uint) (*models.CheckInToken, error) {
	var t models.CheckInToken
	err := s.db.WithContext(ctx).
		Where("booking_id = ? AND consumed = false", bookingID).
		Order("issued_at desc").
		First(&t).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *GormStore) CreateToken(ctx context.Context, token *models.CheckInToken) error {
	return s.db.WithContext(ctx).Create(token).Error
}

func (s *GormStore) ConsumeToken(ctx context.Context, token string, at time.Time) (bool, error) {
	res := s.db.WithContext(ctx).Model(&models.CheckInToken{}).
		Where("token = ? AND consumed = false", token).
		Updates(map[string]interface{}{
			"consumed":    true,
			"consumed_at": at,
		})
	return res.RowsAffected > 0, res.Error
}

func (s *GormStore) LastLocation(ctx context.Context, driverID uint) (*models.LocationHistory, error) {
	var loc models.LocationHistory
	err := s.db.WithContext(ctx).
		Where("driver_id = ?", driverID).
		Order("created_at desc").
		First(&loc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &loc, nil
}

func (s *GormStore) SaveLocation(ctx context.Context, sample *models.LocationHistory) error {
	return s.db.WithContext(ctx).Create(sample).Error
}
