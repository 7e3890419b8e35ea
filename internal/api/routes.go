package api

import (
	"context"
	"net"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/sirupsen/logrus"

	"github.com/vnmchuo/persona-parley/pkg/ratelimit"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

type RouterConfig struct {
	AllowedOrigins []string
	// Limiter throttles submissions per client address. Nil disables it.
	Limiter *ratelimit.Limiter
	// Queue backs /readyz. Nil reports ready unconditionally.
	Queue Pinger
}

func NewRouter(h *Handler, logger *logrus.Logger, cfg RouterConfig) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.RequestLogger(&chimiddleware.DefaultLogFormatter{Logger: logger, NoColor: true}))
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "persona-parley"})
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if cfg.Queue != nil {
			if err := cfg.Queue.Ping(r.Context()); err != nil {
				logger.WithError(err).Warn("Readiness check failed")
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "job queue unavailable"})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	})

	r.Group(func(r chi.Router) {
		if cfg.Limiter != nil {
			r.Use(RateLimit(cfg.Limiter, logger))
		}
		r.Post("/personas", h.HandlePersonas)
		r.Post("/ask_debate", h.HandleAskDebate)
		r.Post("/generate_suggestions", h.HandleSuggestions)
	})

	r.Get("/results/{job_id}", h.HandleResult)
	r.Get("/check_api_key", h.HandleCheckAPIKey)

	return r
}

// RateLimit rejects submissions from clients over their quota with 429.
// A limiter error is treated as a rejection.
func RateLimit(l *ratelimit.Limiter, logger *logrus.Logger) func(http.Handler) http.Handler {
	retryAfter := strconv.Itoa(int(l.RetryAfter().Seconds()))
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			client := clientAddr(r)
			allowed, err := l.Allow(r.Context(), client)
			if err != nil {
				logger.WithError(err).WithField("client", client).Warn("Rate limiter unavailable")
			}
			if err != nil || !allowed {
				w.Header().Set("Retry-After", retryAfter)
				writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "rate limit exceeded"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
