package middleware

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/tracker/internal/metrics"
)

// RouteLimit is a per-IP request budget over a fixed window.
type RouteLimit struct {
	Requests int
	Window   time.Duration
}

// DefaultRouteLimits are keyed by "METHOD /path". Peers re-announce well
// inside the expiry window and poll their mailbox, so reads get generous
// budgets.
var DefaultRouteLimits = map[string]RouteLimit{
	"POST /announce":             {120, time.Minute},
	"GET /get_peers":             {240, time.Minute},
	"POST /send_message":         {120, time.Minute},
	"GET /get_messages":          {240, time.Minute},
	"POST /send_private_message": {120, time.Minute},
	"GET /get_private_messages":  {240, time.Minute},
	"POST /register_user":        {30, time.Hour},
	"GET /public_trackers":       {60, time.Minute},
}

// RateLimiterConfig holds configuration for the rate limiter.
type RateLimiterConfig struct {
	Whitelist        []string // IPs or CIDRs exempt from rate limiting
	AutoBlockEnabled bool     // Block IPs that keep exceeding their budget

	Limits     map[string]RouteLimit // nil means DefaultRouteLimits
	BlockAfter int                   // violations within an hour before a block, default 10
	BlockFor   time.Duration         // default 24h
}

// RateLimiter enforces RouteLimits per client IP with counters in Redis.
// When Redis fails the request is let through and the failure is logged
// and counted.
type RateLimiter struct {
	client     *redis.Client
	logger     zerolog.Logger
	limits     map[string]RouteLimit
	exempt     []netip.Prefix
	autoBlock  bool
	blockAfter int
	blockFor   time.Duration
}

// NewRateLimiter creates a new rate limiter.
func NewRateLimiter(client *redis.Client, logger zerolog.Logger, cfg RateLimiterConfig) *RateLimiter {
	rl := &RateLimiter{
		client:     client,
		logger:     logger.With().Str("component", "ratelimit").Logger(),
		limits:     cfg.Limits,
		autoBlock:  cfg.AutoBlockEnabled,
		blockAfter: cfg.BlockAfter,
		blockFor:   cfg.BlockFor,
	}
	if rl.limits == nil {
		rl.limits = DefaultRouteLimits
	}
	if rl.blockAfter <= 0 {
		rl.blockAfter = 10
	}
	if rl.blockFor <= 0 {
		rl.blockFor = 24 * time.Hour
	}

	for _, entry := range cfg.Whitelist {
		prefix, err := parsePrefix(entry)
		if err != nil {
			rl.logger.Warn().Str("entry", entry).Err(err).Msg("invalid whitelist entry")
			continue
		}
		rl.exempt = append(rl.exempt, prefix)
	}
	if len(rl.exempt) > 0 {
		rl.logger.Info().Int("entries", len(rl.exempt)).Msg("rate limit whitelist configured")
	}

	return rl
}

// parsePrefix accepts a CIDR or a bare address.
func parsePrefix(entry string) (netip.Prefix, error) {
	if strings.Contains(entry, "/") {
		p, err := netip.ParsePrefix(entry)
		return p.Masked(), err
	}
	addr, err := netip.ParseAddr(entry)
	if err != nil {
		return netip.Prefix{}, err
	}
	return netip.PrefixFrom(addr, addr.BitLen()), nil
}

func (rl *RateLimiter) isWhitelisted(ip string) bool {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, p := range rl.exempt {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// clientIP reads RemoteAddr, which chi's RealIP middleware has already
// replaced with the forwarded address when one was sent.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func windowKey(route, ip string) string {
	return fmt.Sprintf("tracker:ratelimit:%s:%s", route, ip)
}

func violationsKey(ip string) string {
	return "tracker:violations:" + ip
}

func blockKey(ip string) string {
	return "tracker:blocked:" + ip
}

// windowScript counts a request in the current window, starting the window
// on the first request. Returns the count and the window's remaining ms.
var windowScript = redis.NewScript(`
local n = redis.call('INCR', KEYS[1])
if n == 1 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
local ttl = redis.call('PTTL', KEYS[1])
if ttl < 0 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
	ttl = tonumber(ARGV[1])
end
return {n, ttl}
`)

// violationScript records one violation and, at the threshold, sets the
// block key and clears the tally. Returns 1 when the IP was just blocked.
var violationScript = redis.NewScript(`
local n = redis.call('INCR', KEYS[1])
if n == 1 then
	redis.call('EXPIRE', KEYS[1], 3600)
end
if n >= tonumber(ARGV[1]) then
	redis.call('SET', KEYS[2], 'repeated rate limit violations', 'PX', ARGV[2])
	redis.call('DEL', KEYS[1])
	return 1
end
return 0
`)

// usage is the state of one route window after counting a request.
type usage struct {
	count int64
	reset time.Duration
}

func (rl *RateLimiter) take(ctx context.Context, route, ip string, limit RouteLimit) (usage, error) {
	res, err := windowScript.Run(ctx, rl.client, []string{windowKey(route, ip)}, limit.Window.Milliseconds()).Int64Slice()
	if err != nil {
		return usage{}, err
	}
	if len(res) != 2 {
		return usage{}, fmt.Errorf("window script returned %d values", len(res))
	}
	return usage{count: res[0], reset: time.Duration(res[1]) * time.Millisecond}, nil
}

func (rl *RateLimiter) blocked(ctx context.Context, ip string) (bool, error) {
	n, err := rl.client.Exists(ctx, blockKey(ip)).Result()
	return n > 0, err
}

// recordViolation feeds auto-blocking when it is enabled.
func (rl *RateLimiter) recordViolation(ctx context.Context, ip string) {
	if !rl.autoBlock {
		return
	}
	justBlocked, err := violationScript.Run(ctx, rl.client,
		[]string{violationsKey(ip), blockKey(ip)},
		rl.blockAfter, rl.blockFor.Milliseconds(),
	).Int()
	if err != nil {
		rl.redisFailed(err, "record violation")
		return
	}
	if justBlocked == 1 {
		rl.logger.Warn().
			Str("type", "security").
			Str("event", "ip_auto_blocked").
			Str("ip", ip).
			Dur("duration", rl.blockFor).
			Msg("IP auto-blocked for repeated violations")
	}
}

func (rl *RateLimiter) redisFailed(err error, op string) {
	metrics.RedisErrors.WithLabelValues("ratelimit").Inc()
	rl.logger.Error().Err(err).Str("op", op).Msg("rate limit check failed, allowing request")
}

// Middleware returns the rate limiting middleware.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route := r.Method + " " + r.URL.Path
		limit, ok := rl.limits[route]
		ip := clientIP(r)
		if !ok || rl.isWhitelisted(ip) {
			next.ServeHTTP(w, r)
			return
		}
		ctx := r.Context()

		isBlocked, err := rl.blocked(ctx, ip)
		if err != nil {
			rl.redisFailed(err, "block check")
			next.ServeHTTP(w, r)
			return
		}
		if isBlocked {
			metrics.BlockedRequests.WithLabelValues("ip_blocked").Inc()
			rl.logger.Warn().
				Str("type", "security").
				Str("event", "blocked_request").
				Str("ip", ip).
				Str("route", route).
				Msg("blocked IP attempted request")
			jsonError(w, http.StatusForbidden, "temporarily blocked")
			return
		}

		u, err := rl.take(ctx, route, ip, limit)
		if err != nil {
			rl.redisFailed(err, "count request")
			next.ServeHTTP(w, r)
			return
		}

		remaining := int64(limit.Requests) - u.count
		if remaining < 0 {
			remaining = 0
		}
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit.Requests))
		w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(time.Now().Add(u.reset).Unix(), 10))

		if u.count > int64(limit.Requests) {
			retry := int64((u.reset + time.Second - 1) / time.Second)
			w.Header().Set("Retry-After", strconv.FormatInt(retry, 10))

			metrics.RateLimitHits.WithLabelValues(r.URL.Path).Inc()
			rl.logger.Warn().
				Str("type", "security").
				Str("event", "rate_limit_exceeded").
				Str("ip", ip).
				Str("route", route).
				Int64("count", u.count).
				Msg("rate limit exceeded")

			rl.recordViolation(ctx, ip)
			jsonError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}

		next.ServeHTTP(w, r)
	})
}
