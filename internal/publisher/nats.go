// Package publisher fans trip telemetry out over NATS so hotel dashboards
// and downstream consumers do not have to hold a websocket open against
// this service.
package publisher

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
)

type PublisherMetrics interface {
	NATSPublishedInc()
	NATSPublishErrInc()
	PublishObserve(d time.Duration)
	NATSSetConnected(connected bool)
}

type NATSPublisher struct {
	nc      *nats.Conn
	metrics PublisherMetrics
}

func NewNATSPublisher(url string, m PublisherMetrics) (*NATSPublisher, error) {
	nc, err := nats.Connect(url,
		nats.Name("shuttle-coordinator"),
		nats.DisconnectHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(false)
			}
			logrus.Warn("NATS disconnected.")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(true)
			}
			logrus.Info("NATS reconnected.")
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(false)
			}
			logrus.Info("NATS connection closed.")
		}),
	)
	if err != nil {
		return nil, err
	}
	if m != nil {
		m.NATSSetConnected(true)
	}
	return &NATSPublisher{nc: nc, metrics: m}, nil
}

func (p *NATSPublisher) Close() {
	if p.nc != nil {
		p.nc.Drain()
		p.nc.Close()
	}
}

// PositionMessage is one GPS sample enriched with the live ETA when one
// could be computed.
type PositionMessage struct {
	TripID     uint      `json:"tripId"`
	ShuttleID  uint      `json:"shuttleId"`
	HotelID    uint      `json:"hotelId"`
	Timestamp  time.Time `json:"timestamp"`
	Lat        float64   `json:"lat"`
	Lng        float64   `json:"lng"`
	Bearing    float64   `json:"bearing"`
	Phase      string    `json:"phase"`
	EtaSeconds int       `json:"etaSeconds,omitempty"`
}

// PhaseMessage announces an OUTBOUND -> RETURN switch.
type PhaseMessage struct {
	TripID    uint      `json:"tripId"`
	HotelID   uint      `json:"hotelId"`
	Phase     string    `json:"phase"`
	Timestamp time.Time `json:"timestamp"`
}

// BookingMessage announces seat-state changes on a trip.
type BookingMessage struct {
	TripID    uint      `json:"tripId"`
	BookingID uint      `json:"bookingId"`
	SeatState string    `json:"seatState"`
	Seats     uint      `json:"seats"`
	Timestamp time.Time `json:"timestamp"`
}

func (p *NATSPublisher) PublishPosition(hotelID uint, msg PositionMessage) error {
	subject := fmt.Sprintf("shuttle.positions.%d.%d", hotelID, msg.TripID)
	return p.publish(subject, msg)
}

func (p *NATSPublisher) PublishPhase(msg PhaseMessage) error {
	subject := fmt.Sprintf("shuttle.trips.%d.phase", msg.TripID)
	return p.publish(subject, msg)
}

func (p *NATSPublisher) PublishBooking(msg BookingMessage) error {
	subject := fmt.Sprintf("shuttle.trips.%d.bookings", msg.TripID)
	return p.publish(subject, msg)
}

func (p *NATSPublisher) publish(subject string, msg any) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	start := time.Now()
	err = p.nc.Publish(subject, b)
	if p.metrics != nil {
		p.metrics.PublishObserve(time.Since(start))
		if err != nil {
			p.metrics.NATSPublishErrInc()
		} else {
			p.metrics.NATSPublishedInc()
		}
	}
	return err
}
