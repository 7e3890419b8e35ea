package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	// Server
	Port               string   `env:"PORT" envDefault:"8080"`
	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:"," envDefault:"http://localhost:3000"`

	// Storage
	PostgresDSN    string        `env:"POSTGRES_DSN,required"`
	RedisAddr      string        `env:"REDIS_ADDR,required"`
	ResultCacheTTL time.Duration `env:"RESULT_CACHE_TTL" envDefault:"10m"`

	// Providers
	OpenAIAPIKey    string        `env:"OPENAI_API_KEY"`
	GeminiAPIKey    string        `env:"GEMINI_API_KEY"`
	AnthropicAPIKey string        `env:"ANTHROPIC_API_KEY"`
	Model           string        `env:"MODEL" envDefault:"gpt-4"`
	Temperature     float64       `env:"TEMPERATURE" envDefault:"0.7"`
	ProviderTimeout time.Duration `env:"PROVIDER_TIMEOUT" envDefault:"60s"`

	// Jobs
	QueueKeyPrefix    string        `env:"QUEUE_KEY_PREFIX" envDefault:"parley:jobs"`
	JobLease          time.Duration `env:"JOB_LEASE" envDefault:"2m"`
	JobMaxAttempts    int           `env:"JOB_MAX_ATTEMPTS" envDefault:"2"`
	JobRetryBackoff   time.Duration `env:"JOB_RETRY_BACKOFF" envDefault:"1s"`
	JobTimeout        time.Duration `env:"JOB_TIMEOUT" envDefault:"90s"`
	WorkerConcurrency int           `env:"WORKER_CONCURRENCY" envDefault:"4"`
	ReapInterval      time.Duration `env:"REAP_INTERVAL" envDefault:"15s"`

	// Completion events. Empty NATS_URL disables them.
	NATSURL           string `env:"NATS_URL"`
	CompletionSubject string `env:"COMPLETION_SUBJECT" envDefault:"jobs.complete"`

	// Rate Limiting
	SubmitRateLimitPerMinute int `env:"SUBMIT_RATE_LIMIT_PER_MINUTE" envDefault:"60"`

	// Observability
	OTELExporterType     string `env:"OTEL_EXPORTER_TYPE" envDefault:"stdout"` // "stdout" or "otlp"
	OTELExporterEndpoint string `env:"OTEL_EXPORTER_ENDPOINT" envDefault:"localhost:4317"`
	LogLevel             string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat            string `env:"LOG_FORMAT" envDefault:"text"` // "text" or "json"
}

// Load reads configuration from the process environment, after loading a
// .env file if one is present.
func Load() (*Config, error) {
	// Non-fatal if missing
	_ = godotenv.Load()
	return parse(env.Options{})
}

// LoadFrom parses configuration from an explicit environment map.
func LoadFrom(environ map[string]string) (*Config, error) {
	return parse(env.Options{Environment: environ})
}

func parse(opts env.Options) (*Config, error) {
	cfg := &Config{}
	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	var errs []error
	if c.JobMaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("JOB_MAX_ATTEMPTS must be at least 1, got %d", c.JobMaxAttempts))
	}
	if c.WorkerConcurrency < 1 {
		errs = append(errs, fmt.Errorf("WORKER_CONCURRENCY must be at least 1, got %d", c.WorkerConcurrency))
	}
	if c.JobLease <= 0 {
		errs = append(errs, errors.New("JOB_LEASE must be positive"))
	}
	if c.JobTimeout <= 0 {
		errs = append(errs, errors.New("JOB_TIMEOUT must be positive"))
	}
	if c.ReapInterval <= 0 {
		errs = append(errs, errors.New("REAP_INTERVAL must be positive"))
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		errs = append(errs, fmt.Errorf("TEMPERATURE must be between 0 and 2, got %v", c.Temperature))
	}
	if c.OTELExporterType != "stdout" && c.OTELExporterType != "otlp" {
		errs = append(errs, fmt.Errorf("OTEL_EXPORTER_TYPE must be stdout or otlp, got %q", c.OTELExporterType))
	}
	return errors.Join(errs...)
}

// APIKeySet reports whether at least one model provider has a credential.
func (c *Config) APIKeySet() bool {
	return c.OpenAIAPIKey != "" || c.GeminiAPIKey != "" || c.AnthropicAPIKey != ""
}
