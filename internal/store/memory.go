package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/eldtechnologies/tracker/internal/metrics"
	"github.com/eldtechnologies/tracker/internal/models"
)

// keyedMap guards a map of independently locked entries.
//
// Every operation on an entry holds the map's read lock for its whole
// duration, so a writer holding the map lock (entry creation, Reclaim) knows
// no entry lock is held.
type keyedMap[V any] struct {
	mu      sync.RWMutex
	entries map[string]*lockedEntry[V]
	newVal  func() V
}

type lockedEntry[V any] struct {
	mu  sync.Mutex
	val V
}

func newKeyedMap[V any](newVal func() V) *keyedMap[V] {
	return &keyedMap[V]{
		entries: make(map[string]*lockedEntry[V]),
		newVal:  newVal,
	}
}

// with runs fn under the entry's lock. When create is false and the key is
// unknown, fn is not called and with returns false.
func (m *keyedMap[V]) with(key string, create bool, fn func(*V)) bool {
	for {
		m.mu.RLock()
		e, ok := m.entries[key]
		if ok {
			e.mu.Lock()
			fn(&e.val)
			e.mu.Unlock()
			m.mu.RUnlock()
			return true
		}
		m.mu.RUnlock()
		if !create {
			return false
		}

		m.mu.Lock()
		if _, ok := m.entries[key]; !ok {
			m.entries[key] = &lockedEntry[V]{val: m.newVal()}
		}
		m.mu.Unlock()
		// Loop back under the read lock; a concurrent Reclaim may have
		// dropped the entry again before we got there.
	}
}

// reclaim deletes every entry for which empty reports true.
func (m *keyedMap[V]) reclaim(empty func(V) bool) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for key, e := range m.entries {
		if empty(e.val) {
			delete(m.entries, key)
			removed++
		}
	}
	return removed
}

func (m *keyedMap[V]) len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// MemoryStore keeps all tracker state in process memory.
type MemoryStore struct {
	timeout time.Duration
	nowFn   func() time.Time
	ids     *idSource

	swarms    *keyedMap[map[string]models.Peer]
	mailboxes *keyedMap[[]models.Message]

	usersMu sync.RWMutex
	users   map[string]struct{}
}

// MemoryOption customizes a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithPeerTimeout overrides DefaultPeerTimeout.
func WithPeerTimeout(d time.Duration) MemoryOption {
	return func(s *MemoryStore) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) {
		if now != nil {
			s.nowFn = now
		}
	}
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		timeout: DefaultPeerTimeout,
		nowFn:   time.Now,
		ids:     newIDSource(),
		swarms: newKeyedMap(func() map[string]models.Peer {
			return make(map[string]models.Peer)
		}),
		mailboxes: newKeyedMap(func() []models.Message { return nil }),
		users:     make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Announce upserts the peer into the chat's swarm.
func (s *MemoryStore) Announce(_ context.Context, chatID string, peer models.Peer) error {
	s.swarms.with(chatID, true, func(peers *map[string]models.Peer) {
		peer.LastSeen = s.nowFn()
		(*peers)[peer.PeerID] = peer
	})
	return nil
}

// GetPeers expires stale peers of this swarm only, then lists the rest by peer ID.
func (s *MemoryStore) GetPeers(_ context.Context, chatID string) ([]models.Peer, error) {
	out := []models.Peer{}
	s.swarms.with(chatID, false, func(peers *map[string]models.Peer) {
		expired := sweepPeers(*peers, s.nowFn(), s.timeout)
		if expired > 0 {
			metrics.PeersExpired.Add(float64(expired))
		}
		for _, p := range *peers {
			out = append(out, p)
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].PeerID < out[j].PeerID })
	return out, nil
}

// sweepPeers deletes every peer whose age has reached timeout.
func sweepPeers(peers map[string]models.Peer, now time.Time, timeout time.Duration) int {
	expired := 0
	for id, p := range peers {
		if now.Sub(p.LastSeen) >= timeout {
			delete(peers, id)
			expired++
		}
	}
	return expired
}

// SendMessage appends a message to the recipient's mailbox.
func (s *MemoryStore) SendMessage(_ context.Context, to, from, text string) (*models.Message, error) {
	var msg models.Message
	s.mailboxes.with(to, true, func(box *[]models.Message) {
		now := s.nowFn()
		msg = models.Message{
			ID:        s.ids.next(now),
			From:      from,
			Text:      text,
			Timestamp: models.UnixSeconds(now),
		}
		*box = append(*box, msg)
	})
	return &msg, nil
}

// DrainMessages swaps the mailbox for an empty one and returns what it held.
func (s *MemoryStore) DrainMessages(_ context.Context, recipient string) ([]models.Message, error) {
	var drained []models.Message
	s.mailboxes.with(recipient, false, func(box *[]models.Message) {
		drained = *box
		*box = nil
	})
	if drained == nil {
		drained = []models.Message{}
	}
	return drained, nil
}

// RegisterUser adds the username; repeats are no-ops.
func (s *MemoryStore) RegisterUser(_ context.Context, username string) error {
	s.usersMu.Lock()
	defer s.usersMu.Unlock()
	s.users[username] = struct{}{}
	return nil
}

// HasUser reports whether username was registered.
func (s *MemoryStore) HasUser(_ context.Context, username string) (bool, error) {
	s.usersMu.RLock()
	defer s.usersMu.RUnlock()
	_, ok := s.users[username]
	return ok, nil
}

// CountUsers returns the number of registered usernames.
func (s *MemoryStore) CountUsers(_ context.Context) (int64, error) {
	s.usersMu.RLock()
	defer s.usersMu.RUnlock()
	return int64(len(s.users)), nil
}

// Reclaim drops swarms with no peers and mailboxes with no messages.
// Expired-but-unswept peers still count as present.
func (s *MemoryStore) Reclaim(_ context.Context) (int, error) {
	removed := s.swarms.reclaim(func(peers map[string]models.Peer) bool {
		return len(peers) == 0
	})
	removed += s.mailboxes.reclaim(func(box []models.Message) bool {
		return len(box) == 0
	})
	return removed, nil
}

// Stats reports how many swarms and mailboxes are currently allocated.
func (s *MemoryStore) Stats() (swarms, mailboxes int) {
	return s.swarms.len(), s.mailboxes.len()
}

// Ping always succeeds.
func (s *MemoryStore) Ping(_ context.Context) error {
	return nil
}

// Close is a no-op.
func (s *MemoryStore) Close() error {
	return nil
}
