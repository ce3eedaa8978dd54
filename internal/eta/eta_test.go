package eta

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"shuttle_coordinator/internal/domain"
)

const directionsBody = `{"routes":[{"summary":{"distance":5321.4,"duration":612.7}}]}`

func TestORSProviderEstimate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v2/directions/driving-car" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "test-key" {
			t.Errorf("authorization header = %q", got)
		}
		w.Write([]byte(directionsBody))
	}))
	defer srv.Close()

	p, err := NewORSProvider("test-key", srv.URL)
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}

	est, err := p.Estimate(context.Background(), -1.28, 36.82, -1.30, 36.78)
	if err != nil {
		t.Fatalf("estimate: %v", err)
	}
	if est.DurationSeconds != 613 {
		t.Errorf("duration = %d, want 613", est.DurationSeconds)
	}
	if est.DistanceMeters != 5321 {
		t.Errorf("distance = %d, want 5321", est.DistanceMeters)
	}
}

func TestORSProviderRetriesTransientFailure(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(directionsBody))
	}))
	defer srv.Close()

	p, err := NewORSProvider("test-key", srv.URL)
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}

	if _, err := p.Estimate(context.Background(), 0, 0, 1, 1); err != nil {
		t.Fatalf("estimate after retry: %v", err)
	}
	if got := calls.Load(); got != 2 {
		t.Errorf("server saw %d calls, want 2", got)
	}
}

func TestORSProviderMapsFailureToUpstreamUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no key", http.StatusForbidden)
	}))
	defer srv.Close()

	p, err := NewORSProvider("bad-key", srv.URL)
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}

	_, err = p.Estimate(context.Background(), 0, 0, 1, 1)
	if !errors.Is(err, domain.ErrUpstreamUnavailable) {
		t.Fatalf("error = %v, want ErrUpstreamUnavailable", err)
	}
}

func TestMockProviderScalesWithDistance(t *testing.T) {
	p := &MockProvider{SpeedMPS: 10}

	// ~111 km along the equator.
	est, err := p.Estimate(context.Background(), 0, 0, 0, 1)
	if err != nil {
		t.Fatalf("estimate: %v", err)
	}
	if est.DistanceMeters < 110000 || est.DistanceMeters > 112500 {
		t.Errorf("distance = %d, want ~111 km", est.DistanceMeters)
	}
	if est.DurationSeconds != est.DistanceMeters/10 {
		t.Errorf("duration = %d, want distance/speed", est.DurationSeconds)
	}
}
