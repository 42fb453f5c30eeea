package store

import (
	"context"
	"time"

	"github.com/eldtechnologies/tracker/internal/models"
)

// DefaultPeerTimeout is how long a peer stays listed without re-announcing.
const DefaultPeerTimeout = 60 * time.Second

// SwarmRegistry tracks which peers are present in each chat swarm.
type SwarmRegistry interface {
	// Announce upserts a peer record in the swarm, stamping it with the current time.
	Announce(ctx context.Context, chatID string, peer models.Peer) error
	// GetPeers sweeps expired peers out of the swarm and returns the survivors.
	GetPeers(ctx context.Context, chatID string) ([]models.Peer, error)
}

// Mailbox holds undelivered messages keyed by recipient.
// Peer IDs and usernames share the same recipient namespace.
type Mailbox interface {
	// SendMessage appends a message to the recipient's mailbox.
	SendMessage(ctx context.Context, to, from, text string) (*models.Message, error)
	// DrainMessages returns every pending message for the recipient and empties the mailbox.
	DrainMessages(ctx context.Context, recipient string) ([]models.Message, error)
}

// UserRegistry is the append-only set of known usernames.
type UserRegistry interface {
	RegisterUser(ctx context.Context, username string) error
	HasUser(ctx context.Context, username string) (bool, error)
	CountUsers(ctx context.Context) (int64, error)
}

// Store defines the full tracker state. Both MemoryStore and RedisStore implement it.
type Store interface {
	SwarmRegistry
	Mailbox
	UserRegistry

	// Connection management
	Ping(ctx context.Context) error
	Close() error

	// Reclaim drops empty swarms and mailboxes. It returns how many were removed.
	Reclaim(ctx context.Context) (int, error)
}
