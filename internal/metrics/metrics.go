package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

type Collector struct {
	reg *prometheus.Registry

	ActiveDrivers prometheus.Gauge

	SamplesIngested prometheus.Counter
	SamplesDropped  prometheus.Counter

	PhaseTransitions prometheus.Counter
	PhaseRetries     prometheus.Counter

	HoldsGranted  prometheus.Counter
	HoldsRejected prometheus.Counter
	CheckIns      *prometheus.CounterVec // result label: ok|expired|consumed|invalid

	NATSPublished   prometheus.Counter
	NATSPublishErrs prometheus.Counter
	NATSConnected   prometheus.Gauge

	SampleDuration  prometheus.Histogram
	PublishDuration prometheus.Histogram
}

func NewCollector() *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		reg: reg,
		ActiveDrivers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "shuttle_active_driver_sockets",
			Help: "Number of drivers currently streaming positions.",
		}),
		SamplesIngested: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shuttle_position_samples_total",
			Help: "Total position samples accepted from drivers.",
		}),
		SamplesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shuttle_position_samples_dropped_total",
			Help: "Total position samples rejected as malformed or out of range.",
		}),
		PhaseTransitions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shuttle_phase_transitions_total",
			Help: "Total OUTBOUND to RETURN transitions fired by the geofence.",
		}),
		PhaseRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shuttle_phase_transition_retries_total",
			Help: "Total geofence transition attempts that failed and will retry.",
		}),
		HoldsGranted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shuttle_seat_holds_granted_total",
			Help: "Total seat holds granted.",
		}),
		HoldsRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shuttle_seat_holds_rejected_total",
			Help: "Total seat holds rejected for capacity.",
		}),
		CheckIns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shuttle_checkins_total",
			Help: "Total check-in confirmations by result.",
		}, []string{"result"}),
		NATSPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shuttle_nats_published_total",
			Help: "Total NATS messages published.",
		}),
		NATSPublishErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shuttle_nats_publish_errors_total",
			Help: "Total NATS publish errors.",
		}),
		NATSConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "shuttle_nats_connected",
			Help: "1 if NATS connection is established, 0 otherwise.",
		}),
		SampleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "shuttle_sample_processing_seconds",
			Help:    "Duration of position sample processing, geofence included.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 15),
		}),
		PublishDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "shuttle_publish_duration_seconds",
			Help:    "Duration to marshal and publish a NATS message.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 15),
		}),
	}

	reg.MustRegister(
		c.ActiveDrivers,
		c.SamplesIngested, c.SamplesDropped,
		c.PhaseTransitions, c.PhaseRetries,
		c.HoldsGranted, c.HoldsRejected, c.CheckIns,
		c.NATSPublished, c.NATSPublishErrs, c.NATSConnected,
		c.SampleDuration, c.PublishDuration,
	)

	return c
}

// PublisherMetrics adapter methods.

func (c *Collector) NATSPublishedInc()  { c.NATSPublished.Inc() }
func (c *Collector) NATSPublishErrInc() { c.NATSPublishErrs.Inc() }
func (c *Collector) PublishObserve(d time.Duration) {
	c.PublishDuration.Observe(d.Seconds())
}
func (c *Collector) NATSSetConnected(connected bool) {
	if connected {
		c.NATSConnected.Set(1)
	} else {
		c.NATSConnected.Set(0)
	}
}

func (c *Collector) Handler() http.Handler { return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{}) }

// Serve starts an HTTP server exposing /metrics on the given address.
func (c *Collector) Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.WithError(err).Error("Metrics server stopped.")
		}
	}()
	logrus.WithField("addr", addr).Info("Metrics listening.")
	return srv
}
