package models

import "time"

// Peer is a participant announced into a swarm.
type Peer struct {
	PeerID   string    `json:"peer_id"`
	IP       string    `json:"ip"`
	Port     string    `json:"port"`
	PubKey   string    `json:"pubkey"`
	LastSeen time.Time `json:"last_seen"`
}
