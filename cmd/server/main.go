package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	_ "github.com/lib/pq"

	"github.com/example/ride-dispatch/internal/config"
	"github.com/example/ride-dispatch/internal/dispatch"
	"github.com/example/ride-dispatch/internal/geo"
	"github.com/example/ride-dispatch/internal/geocode"
	httpapi "github.com/example/ride-dispatch/internal/http"
	"github.com/example/ride-dispatch/internal/ingest"
	"github.com/example/ride-dispatch/internal/location"
	"github.com/example/ride-dispatch/internal/logging"
	"github.com/example/ride-dispatch/internal/payments"
	"github.com/example/ride-dispatch/internal/registry"
	"github.com/example/ride-dispatch/internal/storage"
)

func main() {
	cfg, err := config.LoadServerConfig()
	if err != nil {
		panic(err)
	}
	logger := logging.NewLogger(cfg.LogLevel)

	if cfg.PGDSN != "" && cfg.RunMigrations {
		if err := runMigrations(cfg.PGDSN); err != nil {
			logger.Error("migration failed", "error", err)
			os.Exit(1)
		}
		logger.Info("migrations applied")
	}

	var spatial geo.Geo
	if cfg.RedisAddr != "" {
		spatial = geo.NewRedisGeo(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisGeoKey)
	} else {
		spatial = geo.NewIndex()
	}

	var store storage.RideStore
	if cfg.PGDSN != "" {
		ps, err := storage.NewPostgresStore(cfg.PGDSN)
		if err != nil {
			logger.Error("postgres unavailable", "error", err)
			os.Exit(1)
		}
		store = ps
	} else {
		store = storage.NewMemoryStore()
		logger.Warn("PG_DSN not set, using in-memory ride store")
	}

	reg := registry.New(spatial)
	wsreg := dispatch.NewWSRegistry()

	nominatim := geocode.NewNominatimClient(cfg.NominatimBaseURL, cfg.NominatimUserAgent, cfg.GeocodeTimeout)
	geocoder := &geocode.CachedGeocoder{Inner: nominatim, Cache: geocode.NewCache(cfg.GeocodeCacheTTL)}

	var locations *ingest.LocationProducer
	var movements *ingest.MovementProducer
	if len(cfg.KafkaBrokers) > 0 {
		locations = ingest.NewLocationProducer(cfg.KafkaBrokers, cfg.KafkaLocationTopic)
		movements = ingest.NewMovementProducer(cfg.KafkaBrokers, cfg.KafkaMovementTopic)
		defer locations.Close()
		defer movements.Close()
	}

	engine := &dispatch.Engine{
		Store:        store,
		Geo:          spatial,
		Geocoder:     geocoder,
		Profiles:     reg,
		Notifier:     dispatch.NewPushNotifier(cfg.PushEndpoint, wsreg),
		RadiusKm:     cfg.MatchRadiusKm,
		FareCents:    cfg.FareCents,
		FareCurrency: cfg.FareCurrency,
		Logger:       logger,
	}
	if cfg.StripeAPIKey != "" {
		engine.Payments = payments.NewStripeClient(cfg.StripeAPIKey)
	}

	updater := &location.Updater{Store: store, Reverse: nominatim, Logger: logger}
	if movements != nil {
		updater.Trigger = movements
	}

	var sink httpapi.DriverLocationSink
	if locations != nil {
		sink = locations
	}
	srv := httpapi.NewServer(engine, updater, reg, wsreg, sink, logger)

	httpSrv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      srv,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("ride-dispatch listening", "addr", cfg.HTTPAddr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server stopped", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
}

func runMigrations(dsn string) error {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return err
	}
	defer db.Close()

	b, err := os.ReadFile(filepath.Join("migrations", "001_create_rides.sql"))
	if err != nil {
		return err
	}
	_, err = db.Exec(string(b))
	return err
}
