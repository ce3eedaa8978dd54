// Package eta estimates remaining drive time for in-progress trips. The
// port is deliberately coordinate-based: shuttles report GPS positions, so
// there is no geocoding step anywhere in this service.
package eta

import "context"

// Estimate is one routed leg between two positions.
type Estimate struct {
	DurationSeconds int
	DistanceMeters  int
}

// Provider computes a drive-time estimate between two positions. Adapters
// must return domain.ErrUpstreamUnavailable (wrapped is fine) when the
// backing service cannot be reached, so callers can degrade gracefully.
type Provider interface {
	Estimate(ctx context.Context, fromLat, fromLng, toLat, toLng float64) (Estimate, error)
}
