package domain

import "errors"

// Core error taxonomy. State-machine and ledger violations are returned to
// the caller verbatim, never silently corrected; controllers translate them
// to HTTP statuses.
var (
	// ErrInvalidState means the requested transition is not legal from the
	// entity's current state.
	ErrInvalidState = errors.New("invalid state for requested transition")

	// ErrNotAuthorized means the caller is not the assigned driver/owner.
	ErrNotAuthorized = errors.New("caller is not authorized for this resource")

	// ErrCapacityExceeded means a seat hold would overflow the shuttle.
	ErrCapacityExceeded = errors.New("seat capacity exceeded")

	// Token errors.
	ErrNotFound        = errors.New("not found")
	ErrExpired         = errors.New("token expired")
	ErrAlreadyConsumed = errors.New("token already consumed")

	// Segment navigation errors.
	ErrSegmentsIncomplete = errors.New("trip has incomplete segments")
	ErrNoCurrentSegment   = errors.New("no current segment")
	ErrNoCompletedSegment = errors.New("no completed segment")

	// ErrUpstreamUnavailable marks transient failures of external
	// capabilities (routing/ETA provider, location transport). Callers
	// retry with backoff; trip and booking state is never failed by it.
	ErrUpstreamUnavailable = errors.New("upstream provider unavailable")
)
