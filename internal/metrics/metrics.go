package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tracker_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tracker_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Swarm metrics
	Announces = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tracker_announces_total",
			Help: "Total peer announces",
		},
	)

	PeersExpired = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tracker_peers_expired_total",
			Help: "Total peer records removed by the expiry sweep",
		},
	)

	// Mailbox metrics
	MessagesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tracker_messages_sent_total",
			Help: "Total messages queued",
		},
		[]string{"kind"}, // "peer" or "private"
	)

	MessagesDrained = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tracker_messages_drained_total",
			Help: "Total messages delivered by mailbox drains",
		},
		[]string{"kind"},
	)

	UsersRegistered = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tracker_user_registrations_total",
			Help: "Total username registrations, including repeats",
		},
	)

	// Rate limit metrics
	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tracker_rate_limit_hits_total",
			Help: "Total rate limit hits",
		},
		[]string{"endpoint"},
	)

	BlockedRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tracker_blocked_requests_total",
			Help: "Total blocked requests",
		},
		[]string{"reason"},
	)

	// Infrastructure metrics
	RedisLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tracker_redis_latency_seconds",
			Help:    "Redis operation latency",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05},
		},
	)

	RedisErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tracker_redis_errors_total",
			Help: "Redis calls that failed, by caller",
		},
		[]string{"component"},
	)

	// Records read back from Redis that could not be decoded and were skipped
	DecodeFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tracker_decode_failures_total",
			Help: "Stored records skipped because they could not be decoded",
		},
		[]string{"record"},
	)

	ReclaimedEntries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tracker_reclaimed_entries_total",
			Help: "Total empty swarms and mailboxes dropped by the janitor",
		},
	)
)
