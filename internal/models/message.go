package models

import "time"

// Message is a pending mailbox entry waiting to be drained by its recipient.
type Message struct {
	ID        string  `json:"id"`        // ULID
	From      string  `json:"from"`      // Sender peer ID
	Text      string  `json:"text"`      // Opaque, usually sealed by the sender
	Timestamp float64 `json:"timestamp"` // Unix seconds
}

// UnixSeconds converts t to fractional Unix seconds.
func UnixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}
