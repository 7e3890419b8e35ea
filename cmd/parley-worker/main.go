package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"

	"github.com/vnmchuo/persona-parley/config"
	"github.com/vnmchuo/persona-parley/internal/logging"
	"github.com/vnmchuo/persona-parley/internal/notify"
	"github.com/vnmchuo/persona-parley/internal/prompt"
	"github.com/vnmchuo/persona-parley/internal/provider"
	"github.com/vnmchuo/persona-parley/internal/provider/claude"
	"github.com/vnmchuo/persona-parley/internal/provider/gemini"
	"github.com/vnmchuo/persona-parley/internal/provider/openai"
	"github.com/vnmchuo/persona-parley/internal/queue"
	"github.com/vnmchuo/persona-parley/internal/store"
	"github.com/vnmchuo/persona-parley/internal/telemetry"
	"github.com/vnmchuo/persona-parley/internal/usage"
	"github.com/vnmchuo/persona-parley/internal/worker"
)

const serviceName = "parley-worker"

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

	// 3. Stop on SIGINT or SIGTERM
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 4. Connect PostgreSQL
	pool, err := pgxpool.New(ctx, cfg.PostgresDSN)
	if err != nil {
		logger.Fatalf("failed to connect postgres: %v", err)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		logger.Fatalf("failed to ping postgres: %v", err)
	}
	logger.Info("PostgreSQL connected")

	// 5. Connect Redis
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer rdb.Close()

	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Fatalf("failed to ping redis: %v", err)
	}
	logger.Info("Redis connected")

	// 6. Result and usage stores
	durable := store.NewPostgresStore(pool)
	if err := durable.Migrate(ctx); err != nil {
		logger.Fatalf("failed to migrate result store: %v", err)
	}
	usageStore := usage.NewPostgresStore(pool)
	if err := usageStore.Migrate(ctx); err != nil {
		logger.Fatalf("failed to migrate usage store: %v", err)
	}
	results := store.NewCachedStore(durable, rdb, cfg.ResultCacheTTL)

	// 7. Providers
	providers := buildProviders(cfg, logger)
	if len(providers) == 0 {
		logger.Warn("No provider API key configured; every job will fail")
	}

	tracer := otel.GetTracerProvider().Tracer(serviceName)
	models := provider.NewClient(providers, tracer)

	// 8. Processor options, completion events when NATS is configured
	opts := []worker.Option{
		worker.WithUsage(usageStore),
		worker.WithLogger(logger),
		worker.WithTracer(tracer),
	}
	if cfg.NATSURL != "" {
		nc, err := nats.Connect(cfg.NATSURL, nats.Name(serviceName))
		if err != nil {
			logger.Fatalf("failed to connect to NATS: %v", err)
		}
		defer nc.Drain()
		logger.WithField("subject", cfg.CompletionSubject).Info("Publishing completion events")
		opts = append(opts, worker.WithNotifier(notify.New(nc, cfg.CompletionSubject, logger)))
	}

	// 9. Queue and processor
	jobs := queue.NewRedisQueue(rdb, cfg.QueueKeyPrefix, queue.WithLease(cfg.JobLease))
	processor := worker.NewProcessor(models, results, jobs, worker.Config{
		MaxAttempts:  cfg.JobMaxAttempts,
		RetryBackoff: cfg.JobRetryBackoff,
		JobTimeout:   cfg.JobTimeout,
		Prompt: prompt.Settings{
			Model:       cfg.Model,
			Temperature: cfg.Temperature,
		},
	}, opts...)

	// 10. Run until the context ends
	runner := worker.NewRunner(jobs, jobs, processor, logger, worker.RunnerConfig{
		Concurrency:  cfg.WorkerConcurrency,
		ReapInterval: cfg.ReapInterval,
	})
	if err := runner.Run(ctx); err != nil {
		logger.Errorf("worker stopped: %v", err)
		return
	}
	logger.Info("Worker stopped")
}

// buildProviders returns a provider for every vendor with a configured key.
func buildProviders(cfg *config.Config, logger *logrus.Logger) []provider.Provider {
	client := &http.Client{Timeout: cfg.ProviderTimeout}

	var providers []provider.Provider
	if cfg.OpenAIAPIKey != "" {
		providers = append(providers, openai.New(cfg.OpenAIAPIKey, client))
	}
	if cfg.GeminiAPIKey != "" {
		providers = append(providers, gemini.New(cfg.GeminiAPIKey, client))
	}
	if cfg.AnthropicAPIKey != "" {
		providers = append(providers, claude.New(cfg.AnthropicAPIKey, client))
	}
	for _, p := range providers {
		logger.WithField("provider", p.Name()).Info("Provider enabled")
	}
	return providers
}
