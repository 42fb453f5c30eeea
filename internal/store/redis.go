package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/tracker/internal/metrics"
	"github.com/eldtechnologies/tracker/internal/models"
)

const keyPrefix = "tracker:"

// RedisStore keeps tracker state in Redis so several tracker processes can
// share one swarm view.
type RedisStore struct {
	client  *redis.Client
	logger  zerolog.Logger
	timeout time.Duration
	nowFn   func() time.Time
	ids     *idSource
}

// NewRedisStore creates a new Redis store.
func NewRedisStore(ctx context.Context, logger zerolog.Logger, redisURL string, peerTimeout time.Duration) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return newRedisStore(client, logger, peerTimeout), nil
}

func newRedisStore(client *redis.Client, logger zerolog.Logger, peerTimeout time.Duration) *RedisStore {
	if peerTimeout <= 0 {
		peerTimeout = DefaultPeerTimeout
	}
	return &RedisStore{
		client:  client,
		logger:  logger.With().Str("component", "redis_store").Logger(),
		timeout: peerTimeout,
		nowFn:   time.Now,
		ids:     newIDSource(),
	}
}

// Client exposes the underlying connection for the rate limiter.
func (s *RedisStore) Client() *redis.Client {
	return s.client
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks the Redis connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	start := time.Now()
	defer observeRedis(start)
	return s.client.Ping(ctx).Err()
}

// swarmKey returns the key for a swarm's peer hash.
func swarmKey(chatID string) string {
	return fmt.Sprintf("%sswarm:%s", keyPrefix, chatID)
}

// mailboxKey returns the key for a recipient's message list.
func mailboxKey(recipient string) string {
	return fmt.Sprintf("%smailbox:%s", keyPrefix, recipient)
}

// usersKey returns the key of the username set.
func usersKey() string {
	return keyPrefix + "users"
}

func observeRedis(start time.Time) {
	metrics.RedisLatency.Observe(time.Since(start).Seconds())
}

var errNoLastSeen = errors.New("peer record has no last_seen_ms")

// redisPeer is the hash field value; last seen is kept in milliseconds so the
// sweep script can compare it without parsing timestamps.
type redisPeer struct {
	PeerID     string `json:"peer_id"`
	IP         string `json:"ip"`
	Port       string `json:"port"`
	PubKey     string `json:"pubkey"`
	LastSeenMS int64  `json:"last_seen_ms"`
}

// Announce upserts the peer into the swarm hash.
func (s *RedisStore) Announce(ctx context.Context, chatID string, peer models.Peer) error {
	start := time.Now()
	defer observeRedis(start)

	data, err := json.Marshal(redisPeer{
		PeerID:     peer.PeerID,
		IP:         peer.IP,
		Port:       peer.Port,
		PubKey:     peer.PubKey,
		LastSeenMS: s.nowFn().UnixMilli(),
	})
	if err != nil {
		return err
	}
	if err := s.client.HSet(ctx, swarmKey(chatID), peer.PeerID, data).Err(); err != nil {
		return fmt.Errorf("announce %s/%s: %w", chatID, peer.PeerID, err)
	}
	return nil
}

// sweepScript removes stale peers and returns the live ones in a single
// atomic step. ARGV[1] is now in ms, ARGV[2] the timeout in ms. The first
// element of the reply is the expired count.
var sweepScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local timeout = tonumber(ARGV[2])
local fields = redis.call('HGETALL', KEYS[1])
local live = {}
local expired = 0
for i = 1, #fields, 2 do
	local ok, rec = pcall(cjson.decode, fields[i + 1])
	local seen = ok and type(rec) == 'table' and rec.last_seen_ms and tonumber(rec.last_seen_ms)
	if not seen then
		-- Dropped, but handed back so the caller can report it.
		redis.call('HDEL', KEYS[1], fields[i])
		table.insert(live, fields[i + 1])
	elseif now - seen >= timeout then
		redis.call('HDEL', KEYS[1], fields[i])
		expired = expired + 1
	else
		table.insert(live, fields[i + 1])
	end
end
table.insert(live, 1, tostring(expired))
return live
`)

// GetPeers sweeps the swarm hash and lists the surviving peers by peer ID.
func (s *RedisStore) GetPeers(ctx context.Context, chatID string) ([]models.Peer, error) {
	start := time.Now()
	defer observeRedis(start)

	res, err := sweepScript.Run(ctx, s.client,
		[]string{swarmKey(chatID)},
		s.nowFn().UnixMilli(), s.timeout.Milliseconds(),
	).StringSlice()
	if err != nil {
		return nil, fmt.Errorf("get peers %s: %w", chatID, err)
	}

	peers := make([]models.Peer, 0, len(res))
	for i, raw := range res {
		if i == 0 {
			var expired int
			if _, err := fmt.Sscan(raw, &expired); err == nil && expired > 0 {
				metrics.PeersExpired.Add(float64(expired))
			}
			continue
		}
		var rp redisPeer
		if err := json.Unmarshal([]byte(raw), &rp); err != nil {
			s.skipRecord("peer", swarmKey(chatID), raw, err)
			continue
		}
		if rp.LastSeenMS == 0 {
			s.skipRecord("peer", swarmKey(chatID), raw, errNoLastSeen)
			continue
		}
		peers = append(peers, models.Peer{
			PeerID:   rp.PeerID,
			IP:       rp.IP,
			Port:     rp.Port,
			PubKey:   rp.PubKey,
			LastSeen: time.UnixMilli(rp.LastSeenMS),
		})
	}
	sort.Slice(peers, func(i, j int) bool { return peers[i].PeerID < peers[j].PeerID })
	return peers, nil
}

// SendMessage appends the message to the tail of the recipient's list.
func (s *RedisStore) SendMessage(ctx context.Context, to, from, text string) (*models.Message, error) {
	start := time.Now()
	defer observeRedis(start)

	now := s.nowFn()
	msg := &models.Message{
		ID:        s.ids.next(now),
		From:      from,
		Text:      text,
		Timestamp: models.UnixSeconds(now),
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}
	if err := s.client.RPush(ctx, mailboxKey(to), data).Err(); err != nil {
		return nil, fmt.Errorf("send message to %s: %w", to, err)
	}
	return msg, nil
}

// DrainMessages reads and deletes the recipient's list inside MULTI/EXEC, so
// a concurrent RPUSH lands either before the read or in a fresh list.
func (s *RedisStore) DrainMessages(ctx context.Context, recipient string) ([]models.Message, error) {
	start := time.Now()
	defer observeRedis(start)

	key := mailboxKey(recipient)
	var rangeCmd *redis.StringSliceCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		rangeCmd = pipe.LRange(ctx, key, 0, -1)
		pipe.Del(ctx, key)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("drain mailbox %s: %w", recipient, err)
	}

	results := rangeCmd.Val()
	messages := make([]models.Message, 0, len(results))
	for _, data := range results {
		var msg models.Message
		if err := json.Unmarshal([]byte(data), &msg); err != nil {
			s.skipRecord("message", key, data, err)
			continue
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

// skipRecord reports a stored record that could not be decoded. Drained
// messages are already gone from Redis, so the raw record is logged.
func (s *RedisStore) skipRecord(kind, key, raw string, err error) {
	metrics.DecodeFailures.WithLabelValues(kind).Inc()
	s.logger.Error().
		Err(err).
		Str("record", kind).
		Str("key", key).
		Str("raw", raw).
		Msg("skipping undecodable record")
}

// RegisterUser adds the username to the user set.
func (s *RedisStore) RegisterUser(ctx context.Context, username string) error {
	start := time.Now()
	defer observeRedis(start)
	return s.client.SAdd(ctx, usersKey(), username).Err()
}

// HasUser reports whether username was registered.
func (s *RedisStore) HasUser(ctx context.Context, username string) (bool, error) {
	return s.client.SIsMember(ctx, usersKey(), username).Result()
}

// CountUsers returns the size of the user set.
func (s *RedisStore) CountUsers(ctx context.Context) (int64, error) {
	return s.client.SCard(ctx, usersKey()).Result()
}

// Reclaim is a no-op: Redis deletes hashes and lists once they are empty.
func (s *RedisStore) Reclaim(_ context.Context) (int, error) {
	return 0, nil
}
