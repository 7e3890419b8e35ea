package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"

	"github.com/vnmchuo/persona-parley/config"
	"github.com/vnmchuo/persona-parley/internal/api"
	"github.com/vnmchuo/persona-parley/internal/logging"
	"github.com/vnmchuo/persona-parley/internal/queue"
	"github.com/vnmchuo/persona-parley/internal/store"
	"github.com/vnmchuo/persona-parley/internal/telemetry"
	"github.com/vnmchuo/persona-parley/pkg/ratelimit"
)

const serviceName = "parley-api"

func main() {
	// 1. Load config
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		logrus.Fatalf("failed to init logger: %v", err)
	}

	// 2. Init telemetry
	shutdownTracer, err := telemetry.InitTracer(telemetry.Settings{
		ServiceName:  serviceName,
		ExporterType: cfg.OTELExporterType,
		Endpoint:     cfg.OTELExporterEndpoint,
	}, logger)
	if err != nil {
		logger.Fatalf("failed to init tracer: %v", err)
	}
	defer shutdownTracer()

	// 3. Connect PostgreSQL
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, cfg.PostgresDSN)
	if err != nil {
		logger.Fatalf("failed to connect postgres: %v", err)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		logger.Fatalf("failed to ping postgres: %v", err)
	}
	logger.Info("PostgreSQL connected")

	// 4. Connect Redis
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer rdb.Close()

	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Fatalf("failed to ping redis: %v", err)
	}
	logger.Info("Redis connected")

	// 5. Result store
	durable := store.NewPostgresStore(pool)
	if err := durable.Migrate(ctx); err != nil {
		logger.Fatalf("failed to migrate result store: %v", err)
	}
	results := store.NewCachedStore(durable, rdb, cfg.ResultCacheTTL)

	// 6. Queue and rate limiter
	jobs := queue.NewRedisQueue(rdb, cfg.QueueKeyPrefix, queue.WithLease(cfg.JobLease))
	limiter := ratelimit.NewLimiter(rdb, cfg.SubmitRateLimitPerMinute)

	// 7. Router
	tracer := otel.GetTracerProvider().Tracer(serviceName)
	handler := api.NewHandler(jobs, results, cfg.APIKeySet(), logger, tracer)
	router := api.NewRouter(handler, logger, api.RouterConfig{
		AllowedOrigins: cfg.CORSAllowedOrigins,
		Limiter:        limiter,
		Queue:          jobs,
	})

	// 8. Graceful shutdown
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.WithField("port", cfg.Port).Info("Persona Parley API starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("server error: %v", err)
		}
	}()

	<-quit
	logger.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("forced shutdown: %v", err)
		return
	}
	logger.Info("Server stopped")
}
