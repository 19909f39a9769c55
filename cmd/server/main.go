package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/fuomag9/integration-broker/internal/api"
	"github.com/fuomag9/integration-broker/internal/cache"
	"github.com/fuomag9/integration-broker/internal/config"
	"github.com/fuomag9/integration-broker/internal/integrations"
	"github.com/fuomag9/integration-broker/internal/logging"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	logger := logging.NewLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Connect to Redis
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	store, err := cache.Connect(connectCtx, cfg.Redis, logger)
	cancel()
	if err != nil {
		logger.Fatal().Err(err).Str("addr", cfg.Redis.Addr()).Msg("failed to connect to redis")
	}
	defer store.Close()

	registry := integrations.NewRegistryFromConfig(cfg, store, logger)
	if len(registry.Names()) == 0 {
		logger.Warn().Msg("no integrations enabled")
	}

	limiter := api.NewRateLimiter(rate.Limit(cfg.RateLimit.RequestsPerSecond), cfg.RateLimit.Burst)
	limiter.CleanupOldLimiters(ctx, 10*time.Minute, 30*time.Minute)

	router := api.NewRouter(cfg, registry, limiter, store, logger)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.HTTPClientTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info().
			Int("port", cfg.Port).
			Strs("integrations", registry.Names()).
			Msg("server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server failed to start")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server forced to shutdown")
		return
	}

	logger.Info().Msg("server exited")
}
