// Package checkin issues and redeems the single-use passenger verification
// tokens embedded in booking QR codes. The protocol is two-step by design:
// Verify is a read-only lookup for the driver's confirmation screen, and
// only an explicit Confirm consumes the token and counts the boarding, so
// scanning alone never double-books a seat.
package checkin

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"shuttle_coordinator/internal/domain"
	"shuttle_coordinator/internal/ledger"
	"shuttle_coordinator/internal/models"
	"shuttle_coordinator/internal/store"
	"shuttle_coordinator/internal/trip"
)

// Store is the slice of persistence the service needs.
type Store interface {
	store.TripStore
	store.BookingStore
	store.TokenStore
}

type Service struct {
	store   Store
	ledger  *ledger.Ledger
	tracker *trip.Tracker
	ttl     time.Duration
	now     func() time.Time
}

// New builds the service. ttl of zero issues non-expiring tokens.
func New(s Store, l *ledger.Ledger, tracker *trip.Tracker, ttl time.Duration) *Service {
	return &Service{store: s, ledger: l, tracker: tracker, ttl: ttl, now: time.Now}
}

// IssueForBooking returns the booking's check-in token, generating one on
// first call. Issuance is idempotent: while an unconsumed token exists,
// every re-scan of the same QR resolves to it rather than minting orphans.
func (s *Service) IssueForBooking(ctx context.Context, bookingID uint) (*models.CheckInToken, error) {
	booking, err := s.store.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if booking.IsCancelled {
		return nil, domain.ErrInvalidState
	}
	if booking.SeatState == models.SeatHeld {
		return nil, fmt.Errorf("%w: booking not yet confirmed", domain.ErrInvalidState)
	}

	existing, err := s.store.UnconsumedTokenForBooking(ctx, bookingID)
	if err == nil {
		return existing, nil
	}
	if err != domain.ErrNotFound {
		return nil, err
	}
	if booking.SeatState == models.SeatOccupied {
		// Boarded with no live token means the check-in ran to
		// completion; minting again would let one booking board twice.
		return nil, fmt.Errorf("%w: passenger already checked in", domain.ErrInvalidState)
	}

	value, err := newTokenValue()
	if err != nil {
		return nil, fmt.Errorf("generate token: %w", err)
	}
	token := &models.CheckInToken{
		Token:     value,
		BookingID: bookingID,
		IssuedAt:  s.now(),
	}
	if s.ttl > 0 {
		exp := token.IssuedAt.Add(s.ttl)
		token.ExpiresAt = &exp
	}
	if err := s.store.CreateToken(ctx, token); err != nil {
		return nil, err
	}

	logrus.WithField("booking_id", bookingID).Info("Check-in token issued.")
	return token, nil
}

// Verify resolves a scanned token to its booking summary without consuming
// it. Scanning has no side effects. Only the trip's assigned driver may
// resolve the token.
func (s *Service) Verify(ctx context.Context, value string, driverID uint) (*models.BookingSummary, error) {
	token, err := s.store.TokenByValue(ctx, value)
	if err != nil {
		return nil, err
	}
	if token.Expired(s.now()) {
		return nil, domain.ErrExpired
	}

	booking, err := s.store.GetBooking(ctx, token.BookingID)
	if err != nil {
		return nil, err
	}
	if err := s.authorizeDriver(ctx, booking.TripInstanceID, driverID); err != nil {
		return nil, err
	}
	return s.summary(ctx, token)
}

// Confirm consumes the token and records the boarding, exactly once. A
// second Confirm on the same token fails with ErrAlreadyConsumed and never
// double-counts seat occupancy, however often a flaky client retries. Only
// the trip's assigned driver may confirm.
func (s *Service) Confirm(ctx context.Context, value string, driverID uint) (*models.BookingSummary, error) {
	token, err := s.store.TokenByValue(ctx, value)
	if err != nil {
		return nil, err
	}
	if token.Expired(s.now()) {
		return nil, domain.ErrExpired
	}

	booking, err := s.store.GetBooking(ctx, token.BookingID)
	if err != nil {
		return nil, err
	}
	if err := s.authorizeDriver(ctx, booking.TripInstanceID, driverID); err != nil {
		return nil, err
	}
	if booking.IsCancelled || booking.SeatState == models.SeatHeld {
		return nil, domain.ErrInvalidState
	}

	// Attribute the boarding to the leg currently being driven.
	var segmentID *uint
	current, err := s.tracker.Current(ctx, booking.TripInstanceID)
	if err == nil && current != nil {
		segmentID = &current.ID
	}

	// Board before burning the token. If the store fails past this point
	// the token stays redeemable and the retry picks up where this
	// attempt stopped; the seat-state CAS keeps the boarding itself
	// exactly-once.
	if err := s.ledger.MarkOccupied(ctx, booking.ID, segmentID); err != nil {
		if !errors.Is(err, domain.ErrInvalidState) {
			return nil, fmt.Errorf("mark occupied: %w", err)
		}
		fresh, rerr := s.store.GetBooking(ctx, booking.ID)
		if rerr != nil {
			return nil, rerr
		}
		if fresh.IsCancelled || fresh.SeatState != models.SeatOccupied {
			return nil, err
		}
		// An earlier attempt boarded the passenger but failed before
		// consuming the token; finish that attempt.
		segmentID = fresh.BoardedSegmentID
	}

	ok, err := s.store.ConsumeToken(ctx, value, s.now())
	if err != nil {
		return nil, fmt.Errorf("consume token: %w", err)
	}
	if !ok {
		return nil, domain.ErrAlreadyConsumed
	}

	if segmentID != nil {
		if err := s.tracker.RecordBoarding(ctx, *segmentID, booking.Seats); err != nil {
			logrus.WithError(err).WithField("booking_id", booking.ID).
				Warn("Failed to record boarding on segment counter.")
		}
	}

	logrus.WithFields(logrus.Fields{
		"booking_id": booking.ID,
		"trip_id":    booking.TripInstanceID,
	}).Info("Passenger checked in.")
	return s.summary(ctx, token)
}

func (s *Service) authorizeDriver(ctx context.Context, tripID, driverID uint) error {
	trip, err := s.store.GetTrip(ctx, tripID)
	if err != nil {
		return err
	}
	if trip.DriverID != driverID {
		return domain.ErrNotAuthorized
	}
	return nil
}

func (s *Service) summary(ctx context.Context, token *models.CheckInToken) (*models.BookingSummary, error) {
	booking, err := s.store.GetBooking(ctx, token.BookingID)
	if err != nil {
		return nil, err
	}
	// Re-read so the summary reflects the consumption just performed.
	fresh, err := s.store.TokenByValue(ctx, token.Token)
	if err != nil {
		return nil, err
	}
	return &models.BookingSummary{
		BookingID:    booking.ID,
		TripID:       booking.TripInstanceID,
		GuestID:      booking.GuestID,
		Seats:        booking.Seats,
		Bags:         booking.Bags,
		SeatState:    booking.SeatState,
		FromLocation: booking.FromLocation,
		ToLocation:   booking.ToLocation,
		ConsumedAt:   fresh.ConsumedAt,
	}, nil
}

func newTokenValue() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
