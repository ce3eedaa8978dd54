package main

import (
	"log"
	"time"

	"github.com/sirupsen/logrus"

	"shuttle_coordinator/internal/checkin"
	"shuttle_coordinator/internal/config"
	"shuttle_coordinator/internal/controllers"
	"shuttle_coordinator/internal/eta"
	"shuttle_coordinator/internal/geofence"
	"shuttle_coordinator/internal/ledger"
	"shuttle_coordinator/internal/logger"
	"shuttle_coordinator/internal/metrics"
	"shuttle_coordinator/internal/publisher"
	"shuttle_coordinator/internal/routes"
	"shuttle_coordinator/internal/store"
	"shuttle_coordinator/internal/trip"
)

func main() {
	// Initialize structured logging to file
	logger.Setup()

	// Connect to the database
	config.InitDB()

	st := store.NewGormStore(config.DB)
	seatLedger := ledger.New(st)
	machine := trip.NewMachine(st, seatLedger)
	monitor := geofence.NewMonitor(machine)

	tokenTTL := config.GetEnvDuration("CHECKIN_TOKEN_TTL", 12*time.Hour)
	checkins := checkin.New(st, seatLedger, machine.Tracker(), tokenTTL)

	collector := metrics.NewCollector()
	collector.Serve(config.GetEnv("METRICS_ADDR", ":9100"))

	var etaProvider eta.Provider
	if apiKey := config.GetEnv("ORS_API_KEY", ""); apiKey != "" {
		p, err := eta.NewORSProvider(apiKey, config.GetEnv("ORS_BASE_URL", ""))
		if err != nil {
			log.Fatalf("eta provider: %v", err)
		}
		etaProvider = p
	} else {
		logrus.Info("No ORS_API_KEY configured, using straight-line ETA estimates.")
		etaProvider = &eta.MockProvider{}
	}

	var pub *publisher.NATSPublisher
	if natsURL := config.GetEnv("NATS_URL", ""); natsURL != "" {
		p, err := publisher.NewNATSPublisher(natsURL, collector)
		if err != nil {
			log.Fatalf("nats connect: %v", err)
		}
		defer p.Close()
		pub = p
	} else {
		logrus.Info("No NATS_URL configured, telemetry fan-out disabled.")
	}

	controllers.Setup(st, seatLedger, machine, checkins, monitor, etaProvider, pub, collector)

	r := routes.SetupRouter()

	addr := config.GetEnv("LISTEN_ADDR", "0.0.0.0:8080")
	log.Printf("Server running at %s", addr)
	log.Fatal(r.Run(addr))
}
