package main

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/bookwiselabs/bookwise/libs/config"
	"github.com/bookwiselabs/bookwise/libs/db"
	"github.com/bookwiselabs/bookwise/libs/httpx"
	"github.com/bookwiselabs/bookwise/libs/kafkax"
	otelx "github.com/bookwiselabs/bookwise/libs/otel"
	"github.com/bookwiselabs/bookwise/libs/runtime"
	"github.com/bookwiselabs/bookwise/services/booking-service/internal/handlers"
	"github.com/bookwiselabs/bookwise/services/booking-service/internal/outbox"
	"github.com/bookwiselabs/bookwise/services/booking-service/internal/storage"
)

func main() {
	_ = godotenv.Load()

	service := config.String("SERVICE_NAME", "booking-service")
	port, err := config.Port("PORT", "8083")
	if err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(service)

	ctx, stop := runtime.SignalContext()
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	dbURL, err := config.RequiredString("DATABASE_URL")
	if err != nil {
		panic(err)
	}
	pool, err := db.Open(ctx, dbURL)
	if err != nil {
		logger.Error("db connection failed", "err", err)
		panic(err)
	}
	defer pool.Close()

	// The scope feeds both the application check and the exclusion
	// constraint; building them from one value keeps the two layers agreed
	// on which overlaps are legal.
	locationScoped := config.String("BOOKING_OVERLAP_SCOPE", "worker") == "worker+location"

	if err := storage.Migrate(ctx, pool, locationScoped); err != nil {
		logger.Error("schema migration failed", "err", err)
		panic(err)
	}

	repo := storage.NewAppointmentRepository(pool)
	outboxRepo := outbox.NewRepository(pool)

	outboxPublisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
		Brokers:   config.String("KAFKA_BROKERS", ""),
		PollEvery: config.Duration("OUTBOX_POLL_INTERVAL", 2*time.Second),
		BatchSize: config.Int("OUTBOX_BATCH_SIZE", 50),
	})
	go outboxPublisher.Run(ctx)

	defaults := handlers.OverlapDefaults{
		Buffer:         config.Duration("BOOKING_BUFFER", 0),
		LocationScoped: locationScoped,
	}
	logger.Info("conflict gate configured", "buffer", defaults.Buffer.String(), "location_scoped", defaults.LocationScoped)

	appointmentHandler := handlers.NewAppointmentHandler(repo, outboxRepo, logger, defaults)

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(config.String("KAFKA_BROKERS", ""))},
	)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/v1/appointments", appointmentHandler.Create)
	mux.HandleFunc("/v1/appointments/update", appointmentHandler.Update)
	mux.HandleFunc("/v1/appointments/cancel", appointmentHandler.Cancel)
	mux.HandleFunc("/v1/appointments/delete", appointmentHandler.Delete)
	mux.HandleFunc("/v1/appointments/list", appointmentHandler.List)
	mux.HandleFunc("/v1/appointments/slots", appointmentHandler.Slots)

	rateLimitMW := rateLimiter(logger)

	handler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithBodyLimit(int64(config.Int("MAX_BODY_BYTES", 1<<20))),
		httpx.WithCORS(httpx.CORSPolicy{
			AllowedOrigins: strings.Split(config.String("ALLOWED_ORIGINS", ""), ","),
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete},
			AllowedHeaders: []string{"Content-Type", httpx.RequestIDHeader},
		}),
		rateLimitMW,
	)
	handler = otelhttp.NewHandler(handler, "booking")

	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "err", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
	logger.Info("http server stopped")
}

// rateLimiter prefers the Redis fixed-window limiter so concurrent API
// replicas share one counter; without Redis it falls back to per-process.
func rateLimiter(logger *slog.Logger) httpx.Middleware {
	limitPerMinute := config.Int("RATE_LIMIT_PER_MINUTE", 120)
	if limitPerMinute <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}

	if addr := strings.TrimSpace(config.String("REDIS_ADDR", "")); addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: config.String("REDIS_PASSWORD", ""),
			DB:       config.Int("REDIS_DB", 0),
		})
		rl := httpx.NewRedisRateLimiter(rdb, limitPerMinute, time.Minute, config.String("RATE_LIMIT_PREFIX", "rl"))
		failOpen := config.String("RATE_LIMIT_FAIL_OPEN", "true") != "false"
		logger.Info("rate limiting enabled (redis)", "per_minute", limitPerMinute, "redis_addr", addr)
		return rl.Middleware(logger, failOpen)
	}

	logger.Info("rate limiting enabled (in-memory)", "per_minute", limitPerMinute)
	return httpx.NewRateLimiter(limitPerMinute, time.Minute).Middleware()
}
