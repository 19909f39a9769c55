package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/fuomag9/integration-broker/internal/config"
	"github.com/fuomag9/integration-broker/internal/integrations"
)

// Pinger reports whether a backing service is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// NewRouter creates a new HTTP router
func NewRouter(cfg *config.Config, registry *integrations.Registry, limiter *RateLimiter, cache Pinger, logger zerolog.Logger) http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	if cfg.RateLimit.TrustProxyHeaders {
		r.Use(middleware.RealIP)
	}
	r.Use(RequestLogger(logger))
	r.Use(Recoverer)
	r.Use(Metrics)
	r.Use(SecurityHeadersMiddleware(cfg))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	if limiter == nil {
		limiter = NewRateLimiter(rate.Limit(cfg.RateLimit.RequestsPerSecond), cfg.RateLimit.Burst)
	}

	r.Get("/", HandlePing())
	r.Get("/health", HandleHealth(cache))
	r.Handle("/metrics", promhttp.Handler())

	r.Get("/integrations", HandleListIntegrations(registry))
	r.Route("/integrations/{provider}", func(r chi.Router) {
		r.Use(ConnectorMiddleware(registry))

		r.Group(func(r chi.Router) {
			r.Use(RateLimitMiddleware(limiter))
			r.Post("/authorize", HandleAuthorize())
			r.Get("/oauth2callback", HandleOAuthCallback())
		})

		r.Post("/credentials", HandleGetCredentials())
		r.Post("/load", HandleLoadItems())
	})

	return r
}

// HandlePing answers the liveness check the front-end uses
func HandlePing() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"Ping": "Pong"})
	}
}

// HandleHealth reports OK when the cache answers
func HandleHealth(cache Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := cache.Ping(ctx); err != nil {
			zerolog.Ctx(r.Context()).Warn().Err(err).Msg("health check: cache unreachable")
			http.Error(w, "cache unavailable", http.StatusServiceUnavailable)
			return
		}

		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}
}
