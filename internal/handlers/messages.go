package handlers

import (
	"net/http"

	"github.com/eldtechnologies/tracker/internal/metrics"
	"github.com/eldtechnologies/tracker/internal/models"
)

// SendMessageRequest represents the send message request body.
type SendMessageRequest struct {
	ToPeer   *string `json:"to_peer"`
	FromPeer *string `json:"from_peer"`
	Text     *string `json:"text"` // Usually sealed to the recipient's pubkey
}

// SendPrivateMessageRequest represents the send private message request body.
type SendPrivateMessageRequest struct {
	ToUser   *string `json:"to_user"`
	FromPeer *string `json:"from_peer"`
	Text     *string `json:"text"`
}

// MessageResponse represents a message in API responses.
type MessageResponse struct {
	ID        string  `json:"id"`
	From      string  `json:"from"`
	Text      string  `json:"text"`
	Timestamp float64 `json:"timestamp"`
}

// MessagesResponse represents a drained mailbox.
type MessagesResponse struct {
	Messages []MessageResponse `json:"messages"`
}

// SendMessage handles queuing a message for a peer.
func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	var req SendMessageRequest
	if !h.decode(w, r, &req) {
		return
	}
	if !h.require(w, field{"to_peer", req.ToPeer}, field{"from_peer", req.FromPeer}, field{"text", req.Text}) {
		return
	}
	h.send(w, r, "peer", *req.ToPeer, *req.FromPeer, *req.Text)
}

// SendPrivateMessage handles queuing a message for a username.
func (h *Handler) SendPrivateMessage(w http.ResponseWriter, r *http.Request) {
	var req SendPrivateMessageRequest
	if !h.decode(w, r, &req) {
		return
	}
	if !h.require(w, field{"to_user", req.ToUser}, field{"from_peer", req.FromPeer}, field{"text", req.Text}) {
		return
	}
	h.send(w, r, "private", *req.ToUser, *req.FromPeer, *req.Text)
}

// GetMessages handles draining a peer's mailbox.
func (h *Handler) GetMessages(w http.ResponseWriter, r *http.Request) {
	peerID, ok := h.queryParam(w, r, "peer_id")
	if !ok {
		return
	}
	h.drain(w, r, "peer", peerID)
}

// GetPrivateMessages handles draining a username's mailbox.
func (h *Handler) GetPrivateMessages(w http.ResponseWriter, r *http.Request) {
	user, ok := h.queryParam(w, r, "user")
	if !ok {
		return
	}
	h.drain(w, r, "private", user)
}

func (h *Handler) send(w http.ResponseWriter, r *http.Request, kind, to, from, text string) {
	if _, err := h.store.SendMessage(r.Context(), to, from, text); err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to store message")
		return
	}
	metrics.MessagesSent.WithLabelValues(kind).Inc()

	h.JSON(w, http.StatusOK, statusOK)
}

func (h *Handler) drain(w http.ResponseWriter, r *http.Request, kind, recipient string) {
	msgs, err := h.store.DrainMessages(r.Context(), recipient)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to fetch messages")
		return
	}
	metrics.MessagesDrained.WithLabelValues(kind).Add(float64(len(msgs)))

	h.JSON(w, http.StatusOK, MessagesResponse{Messages: toMessageResponses(msgs)})
}

func toMessageResponses(msgs []models.Message) []MessageResponse {
	out := make([]MessageResponse, len(msgs))
	for i, m := range msgs {
		out[i] = MessageResponse{
			ID:        m.ID,
			From:      m.From,
			Text:      m.Text,
			Timestamp: m.Timestamp,
		}
	}
	return out
}
