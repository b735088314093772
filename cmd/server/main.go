package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	_ "github.com/lib/pq"

	"github.com/sentra-io/devicetrust/internal/client"
	"github.com/sentra-io/devicetrust/internal/config"
	"github.com/sentra-io/devicetrust/internal/handler"
	"github.com/sentra-io/devicetrust/internal/middleware"
	"github.com/sentra-io/devicetrust/internal/repository"
	"github.com/sentra-io/devicetrust/internal/service"
	"github.com/sentra-io/devicetrust/internal/telemetry"
	"github.com/sentra-io/devicetrust/internal/util/logger"
)

var version = "development"

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logger.Fatal("Config load failed: %v", err)
	}

	logger.ReplaceGlobal(&logger.Config{
		Level:  cfg.Logger.Level,
		Format: cfg.Logger.Format,
	})
	defer logger.Sync()

	logger.Info("Starting devicetrust %s (env=%s)", version, cfg.Env)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Store: Postgres when configured, in-memory for local development.
	var (
		store repository.Store
		db    *sql.DB
	)
	if cfg.DatabaseURL != "" {
		db, err = sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			logger.Fatal("DB open error: %v", err)
		}
		defer db.Close()
		if err := db.PingContext(ctx); err != nil {
			logger.Fatal("DB ping failed: %v", err)
		}
		pg := repository.NewPostgresStore(db)
		if err := pg.EnsureSchema(ctx); err != nil {
			logger.Fatal("Schema setup failed: %v", err)
		}
		pg.StartEventWorker(ctx)
		store = pg
	} else {
		logger.Warn("No database_url configured, using in-memory store")
		store = repository.NewMemoryStore()
	}

	// Redis is optional; the engine degrades to store-only lookups.
	var rdb *client.RedisClient
	if cfg.Redis.Address != "" {
		rdb, err = client.NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			logger.Warn("Redis unavailable, continuing without cache: %v", err)
			rdb = nil
		} else {
			defer rdb.Close()
		}
	}

	shipper, err := telemetry.NewKafkaEventShipper(cfg.Kafka)
	if err != nil {
		logger.Fatal("Kafka shipper init error: %v", err)
	}
	shipper.Start()
	defer shipper.Stop(context.Background())

	var cacher service.RedisCacher
	if rdb != nil {
		cacher = rdb
	}
	svc := service.NewSecurityService(store, cacher, shipper, service.SecurityConfig{
		HourlyAttemptLimit: cfg.Security.HourlyAttemptLimit,
		DailyAttemptLimit:  cfg.Security.DailyAttemptLimit,
		CompareSampleSize:  cfg.Security.CompareSampleSize,
		StoreTimeout:       cfg.Security.StoreTimeout,
		CacheTTL:           cfg.Security.CacheTTL,
		BlockDurations: service.BlockDurations{
			Short:    cfg.Security.ShortBlockDuration,
			Long:     cfg.Security.LongBlockDuration,
			Critical: cfg.Security.CriticalBlockDuration,
		},
		ExtraVPNRanges: cfg.Fingerprint.ExtraVPNRanges,
	})

	evalHandler := handler.NewEvaluateHandler(svc)
	adminHandler := handler.NewAdminHandler(svc)
	healthHandler := handler.NewHealthHandler(db, rdb)

	requestLimiter := middleware.NewRequestLimiter(middleware.RequestLimiterConfig{
		RatePerInterval:       cfg.HTTPLimits.RequestsPerMinute,
		Interval:              time.Minute,
		Burst:                 cfg.HTTPLimits.Burst,
		Redis:                 rdb,
		TrustedProxyIPHeaders: cfg.Fingerprint.TrustedProxyIPHeaders,
		TrustedProxyCIDRs:     cfg.Fingerprint.TrustedProxyCIDRs,
	})

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(middleware.SecureHeaders(middleware.DefaultHeadersConfig()))
	r.Use(middleware.ClientIP(middleware.ClientIPConfig{
		TrustedProxyIPHeaders: cfg.Fingerprint.TrustedProxyIPHeaders,
		TrustedProxyCIDRs:     cfg.Fingerprint.TrustedProxyCIDRs,
	}))
	r.Use(middleware.RequestLogger)
	if cfg.HTTPLimits.RequestsPerMinute > 0 {
		r.Use(requestLimiter.Handler)
	}

	r.Get("/healthz", healthHandler.ServeHTTP)

	r.Route("/v1", func(r chi.Router) {
		r.Post("/evaluate", evalHandler.Evaluate)
		r.Post("/outcome", evalHandler.Outcome)

		r.Route("/admin", func(r chi.Router) {
			r.Use(middleware.AdminAuth(cfg.Admin.JWTSigningKey))
			r.Post("/unblock", adminHandler.Unblock)
			r.Get("/devices/{fingerprintID}", adminHandler.Device)
			r.Get("/devices/{fingerprintID}/events", adminHandler.Events)
		})
	})

	port := cfg.Port
	if port == 0 {
		port = 8080
	}
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      r,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("Listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP server error: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown error: %v", err)
	}
}
