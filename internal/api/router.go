package api

import (
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/tracker/internal/api/middleware"
	"github.com/eldtechnologies/tracker/internal/handlers"
)

// RouterOptions carries what the router needs beyond the handler itself.
type RouterOptions struct {
	MaxBodyBytes int64

	// RedisClient enables rate limiting when set.
	RedisClient *redis.Client
	RateLimit   middleware.RateLimiterConfig
}

// NewRouter creates and configures the HTTP router.
func NewRouter(logger zerolog.Logger, h *handlers.Handler, opts RouterOptions) *chi.Mux {
	r := chi.NewRouter()

	// Metrics middleware (first to capture all requests)
	r.Use(middleware.Metrics)

	// Security middleware (order matters!)
	r.Use(middleware.SecurityHeaders)
	if opts.MaxBodyBytes > 0 {
		r.Use(middleware.MaxBodySize(opts.MaxBodyBytes))
	}
	r.Use(middleware.ValidateRequest)

	// Standard middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logger(logger))
	r.Use(chimw.Recoverer)

	if opts.RedisClient != nil {
		limiter := middleware.NewRateLimiter(opts.RedisClient, logger, opts.RateLimit)
		r.Use(limiter.Middleware)
	}

	// CORS - allow all origins (peers call from anywhere)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		ExposedHeaders:   []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Metrics endpoint (for Prometheus scraping)
	r.Handle("/metrics", promhttp.Handler())

	r.Get("/", h.Root)
	r.Get("/health", h.Health)

	// Swarm registry
	r.Post("/announce", h.Announce)
	r.Get("/get_peers", h.GetPeers)

	// Mailboxes
	r.Post("/send_message", h.SendMessage)
	r.Get("/get_messages", h.GetMessages)
	r.Post("/send_private_message", h.SendPrivateMessage)
	r.Get("/get_private_messages", h.GetPrivateMessages)

	// Users and directory
	r.Post("/register_user", h.RegisterUser)
	r.Get("/public_trackers", h.PublicTrackers)

	return r
}
