package eta

import (
	"context"

	"shuttle_coordinator/internal/geo"
)

// MockProvider derives estimates from straight-line distance at a fixed
// average speed. Used in tests and as a fallback when no routing backend
// is configured.
type MockProvider struct {
	// SpeedMPS defaults to a city-traffic 8 m/s when zero.
	SpeedMPS float64
}

func (p *MockProvider) Estimate(_ context.Context, fromLat, fromLng, toLat, toLng float64) (Estimate, error) {
	speed := p.SpeedMPS
	if speed <= 0 {
		speed = 8
	}

	meters := geo.Distance(fromLat, fromLng, toLat, toLng)
	return Estimate{
		DurationSeconds: int(meters / speed),
		DistanceMeters:  int(meters),
	}, nil
}
