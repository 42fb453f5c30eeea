package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/tracker/internal/api"
	"github.com/eldtechnologies/tracker/internal/api/middleware"
	"github.com/eldtechnologies/tracker/internal/config"
	"github.com/eldtechnologies/tracker/internal/handlers"
	"github.com/eldtechnologies/tracker/internal/metrics"
	"github.com/eldtechnologies/tracker/internal/nat"
	"github.com/eldtechnologies/tracker/internal/store"
)

func main() {
	// Initialize logger before config so config errors are structured too
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	if cfg.IsDevelopment() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
			With().
			Timestamp().
			Logger()
	}
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		logger.Fatal().Err(err).Str("log_level", cfg.LogLevel).Msg("invalid log level")
	}
	logger = logger.Level(level)

	ctx := context.Background()
	instanceID := uuid.Must(uuid.NewV7()).String()

	// Initialize store
	var (
		st          store.Store
		redisClient *redis.Client
	)
	switch cfg.StoreBackend {
	case config.BackendRedis:
		redisStore, err := store.NewRedisStore(ctx, logger, cfg.RedisURL, cfg.PeerTimeout)
		if err != nil {
			logger.Fatal().Err(err).Msg("redis connection failed")
		}
		redisClient = redisStore.Client()
		st = redisStore
		logger.Info().Msg("connected to Redis")
	default:
		st = store.NewMemoryStore(store.WithPeerTimeout(cfg.PeerTimeout))
	}
	defer st.Close()

	// Start the janitor for empty swarms and mailboxes
	janitorCtx, stopJanitor := context.WithCancel(ctx)
	defer stopJanitor()
	if cfg.ReclaimInterval > 0 {
		go runJanitor(janitorCtx, logger, st, cfg.ReclaimInterval)
	}

	h := handlers.NewHandler(st, cfg.PublicTrackers, cfg.StoreBackend, instanceID)
	router := api.NewRouter(logger, h, api.RouterOptions{
		MaxBodyBytes: cfg.MaxBodyBytes,
		RedisClient:  redisClient,
		RateLimit: middleware.RateLimiterConfig{
			Whitelist:        cfg.RateLimitWhitelist,
			AutoBlockEnabled: cfg.AutoBlockEnabled,
		},
	})

	// Create server
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Forward the port on the gateway; failure only costs reachability
	var forwarder *nat.Forwarder
	if cfg.UPnPEnabled {
		forwarder = nat.NewForwarder(logger, cfg.UPnPTimeout)
		go forwardPort(ctx, logger, forwarder, cfg)
	}

	// Start server in goroutine
	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("env", cfg.Env).
			Str("backend", cfg.StoreBackend).
			Str("instance", instanceID).
			Dur("peer_timeout", cfg.PeerTimeout).
			Msg("starting tracker")

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed to start")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server...")

	// Graceful shutdown with 30 second timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server forced to shutdown")
	}

	if forwarder != nil {
		if err := forwarder.Close(); err != nil {
			logger.Warn().Err(err).Msg("failed to remove port mapping")
		}
	}

	logger.Info().Msg("server stopped")
}

func forwardPort(ctx context.Context, logger zerolog.Logger, f *nat.Forwarder, cfg *config.Config) {
	port, err := cfg.PortNumber()
	if err != nil {
		logger.Warn().Err(err).Msg("port forwarding skipped")
		return
	}
	if _, err := f.Forward(ctx, port); err != nil {
		logger.Warn().Err(err).Int("port", port).Msg("port forwarding failed")
	}
}

func runJanitor(ctx context.Context, logger zerolog.Logger, st store.Store, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := st.Reclaim(ctx)
			if err != nil {
				logger.Warn().Err(err).Msg("reclaim failed")
				continue
			}
			if removed > 0 {
				metrics.ReclaimedEntries.Add(float64(removed))
				logger.Debug().Int("removed", removed).Msg("reclaimed empty swarms and mailboxes")
			}
		}
	}
}
