package controllers

import (
	"errors"
	"net/http"

	"shuttle_coordinator/internal/checkin"
	"shuttle_coordinator/internal/domain"
	"shuttle_coordinator/internal/eta"
	"shuttle_coordinator/internal/geofence"
	"shuttle_coordinator/internal/ledger"
	"shuttle_coordinator/internal/metrics"
	"shuttle_coordinator/internal/publisher"
	"shuttle_coordinator/internal/store"
	"shuttle_coordinator/internal/trip"
)

// Shared handler dependencies, wired once at startup. The publisher may be
// nil when NATS is not configured; handlers must guard.
var (
	ds         store.Store
	seatLedger *ledger.Ledger
	machine    *trip.Machine
	tracker    *trip.Tracker
	checkins   *checkin.Service
	monitor    *geofence.Monitor
	etaProv    eta.Provider
	pub        *publisher.NATSPublisher
	stats      *metrics.Collector
)

// Setup wires the handler package. Call before mounting routes.
func Setup(
	s store.Store,
	l *ledger.Ledger,
	m *trip.Machine,
	svc *checkin.Service,
	mon *geofence.Monitor,
	provider eta.Provider,
	p *publisher.NATSPublisher,
	collector *metrics.Collector,
) {
	ds = s
	seatLedger = l
	machine = m
	tracker = m.Tracker()
	checkins = svc
	monitor = mon
	etaProv = provider
	pub = p
	stats = collector
}

// statusFor maps coordination errors onto HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrNotAuthorized):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrInvalidState),
		errors.Is(err, domain.ErrSegmentsIncomplete),
		errors.Is(err, domain.ErrNoCurrentSegment),
		errors.Is(err, domain.ErrNoCompletedSegment),
		errors.Is(err, domain.ErrAlreadyConsumed):
		return http.StatusConflict
	case errors.Is(err, domain.ErrCapacityExceeded):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrExpired):
		return http.StatusGone
	case errors.Is(err, domain.ErrUpstreamUnavailable):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
