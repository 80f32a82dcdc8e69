package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"time"

	"devscope-relay/internal/config"
	"devscope-relay/internal/hub"
	"devscope-relay/internal/identity"
	"devscope-relay/internal/observability/logging"
	"devscope-relay/internal/observability/metrics"
	"devscope-relay/internal/pending"
	"devscope-relay/internal/service"
	"devscope-relay/internal/store"
	httptransport "devscope-relay/internal/transport/http"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	logger := logging.NewLogger(logging.Config{
		ServiceName: identity.ServiceName,
		Environment: cfg.Environment,
		Level:       cfg.LogLevel,
	})
	slog.SetDefault(logger)

	metrics.MustRegister("relay")

	db, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{})
	if err != nil {
		log.Fatalf("gorm open: %v", err)
	}

	st := store.New(db)
	if err := st.AutoMigrate(context.Background()); err != nil {
		log.Fatalf("automigrate: %v", err)
	}

	signer, err := identity.NewFromBase64(cfg.IdentityKey)
	if err != nil {
		log.Fatalf("identity signer: %v", err)
	}

	var queue pending.Queue
	switch cfg.PendingBackend {
	case "redis":
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		queue = pending.NewRedisQueue(rdb, cfg.PendingMax)
	default:
		queue = pending.NewMemoryQueue(cfg.PendingMax)
	}

	connections := hub.New()
	pairings := service.NewPairingService(st, cfg.PairingTTL)
	devices := service.NewDeviceService(st, connections)
	relay := service.NewRelayService(st, connections, queue)

	router := httptransport.NewRouter(httptransport.Deps{
		Pairing:      pairings,
		Devices:      devices,
		Relay:        relay,
		Signer:       signer,
		Hub:          connections,
		Queue:        queue,
		APIKey:       cfg.RelayAPIKey,
		CORSOrigins:  cfg.CORSOrigins,
		StreamBuffer: 2 * cfg.PendingMax,
	})

	// Expiry is lazy on every read; the janitor only keeps the table from
	// accumulating dead rows.
	go func() {
		ticker := time.NewTicker(cfg.JanitorInterval)
		defer ticker.Stop()
		for range ticker.C {
			purged, err := pairings.PurgeExpired(context.Background(), cfg.PairingRetention)
			if err != nil {
				slog.Warn("pairing purge failed", "error", err)
				continue
			}
			if purged > 0 {
				slog.Info("purged stale pairings", "count", purged)
			}
		}
	}()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	slog.Info("relay listening", "addr", cfg.Addr, "fingerprint", signer.Fingerprint(), "pending_backend", cfg.PendingBackend)
	log.Fatal(srv.ListenAndServe())
}
