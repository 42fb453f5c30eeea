package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/eldtechnologies/tracker/internal/models"
)

// Store backends.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// Config holds all configuration for the application.
type Config struct {
	Port     string
	Env      string
	LogLevel string

	StoreBackend string
	RedisURL     string

	PeerTimeout     time.Duration
	ReclaimInterval time.Duration // Zero disables the janitor
	MaxBodyBytes    int64

	PublicTrackers []models.Tracker

	// Gateway port forwarding
	UPnPEnabled bool
	UPnPTimeout time.Duration

	// Rate limiting
	RateLimitWhitelist []string // IPs or CIDRs exempt from rate limiting
	AutoBlockEnabled   bool     // Enable auto-blocking after repeated violations
}

// Load reads configuration from environment variables.
// In development, it loads from .env file if present.
func Load() (*Config, error) {
	// Load .env file if it exists (for development)
	_ = godotenv.Load()

	cfg := &Config{
		Port:             getEnv("PORT", "9000"),
		Env:              getEnv("ENV", "development"),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
		StoreBackend:     strings.ToLower(getEnv("STORE_BACKEND", BackendMemory)),
		RedisURL:         os.Getenv("REDIS_URL"),
		UPnPEnabled:      getEnv("UPNP_ENABLED", "true") == "true",
		AutoBlockEnabled: getEnv("AUTO_BLOCK_ENABLED", "false") == "true",
	}

	var err error
	if cfg.PeerTimeout, err = getDuration("PEER_TIMEOUT", 60*time.Second); err != nil {
		return nil, err
	}
	if cfg.ReclaimInterval, err = getDuration("RECLAIM_INTERVAL", 0); err != nil {
		return nil, err
	}
	if cfg.UPnPTimeout, err = getDuration("UPNP_TIMEOUT", 3*time.Second); err != nil {
		return nil, err
	}

	cfg.MaxBodyBytes, err = strconv.ParseInt(getEnv("MAX_BODY_BYTES", "65536"), 10, 64)
	if err != nil || cfg.MaxBodyBytes <= 0 {
		return nil, fmt.Errorf("invalid MAX_BODY_BYTES %q", os.Getenv("MAX_BODY_BYTES"))
	}

	cfg.PublicTrackers, err = parseTrackers(getEnv("PUBLIC_TRACKERS", "http://127.0.0.1:9000|Local test tracker"))
	if err != nil {
		return nil, err
	}

	// Parse whitelist (comma-separated IPs or CIDRs)
	if whitelist := os.Getenv("RATE_LIMIT_WHITELIST"); whitelist != "" {
		for _, entry := range strings.Split(whitelist, ",") {
			entry = strings.TrimSpace(entry)
			if entry != "" {
				cfg.RateLimitWhitelist = append(cfg.RateLimitWhitelist, entry)
			}
		}
	}

	switch cfg.StoreBackend {
	case BackendMemory:
	case BackendRedis:
		if cfg.RedisURL == "" {
			return nil, fmt.Errorf("REDIS_URL is required for the %s backend", BackendRedis)
		}
	default:
		return nil, fmt.Errorf("unknown STORE_BACKEND %q", cfg.StoreBackend)
	}

	return cfg, nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// PortNumber returns Port as an integer for gateway mapping.
func (c *Config) PortNumber() (int, error) {
	n, err := strconv.Atoi(c.Port)
	if err != nil || n <= 0 || n > 65535 {
		return 0, fmt.Errorf("invalid port %q", c.Port)
	}
	return n, nil
}

// parseTrackers parses "url|description" entries separated by commas.
func parseTrackers(raw string) ([]models.Tracker, error) {
	trackers := []models.Tracker{}
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		url, desc, _ := strings.Cut(entry, "|")
		url = strings.TrimSpace(url)
		if url == "" {
			return nil, fmt.Errorf("invalid PUBLIC_TRACKERS entry %q", entry)
		}
		trackers = append(trackers, models.Tracker{URL: url, Description: strings.TrimSpace(desc)})
	}
	return trackers, nil
}

func getDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
