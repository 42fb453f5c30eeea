package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/eldtechnologies/tracker/internal/metrics"
	"github.com/eldtechnologies/tracker/internal/models"
)

// AnnounceRequest represents the announce request body.
type AnnounceRequest struct {
	ChatID *string         `json:"chat_id"`
	PeerID *string         `json:"peer_id"`
	IP     json.RawMessage `json:"ip"`
	Port   json.RawMessage `json:"port"`
	PubKey json.RawMessage `json:"pubkey"`
}

// PeerResponse represents a peer in API responses.
type PeerResponse struct {
	PeerID string `json:"peer_id"`
	IP     string `json:"ip"`
	Port   string `json:"port"`
	PubKey string `json:"pubkey"`
}

// PeersResponse represents the get peers response.
type PeersResponse struct {
	Peers []PeerResponse `json:"peers"`
}

// Announce handles a peer registering itself in a chat swarm.
func (h *Handler) Announce(w http.ResponseWriter, r *http.Request) {
	var req AnnounceRequest
	if !h.decode(w, r, &req) {
		return
	}
	if !h.require(w, field{"chat_id", req.ChatID}, field{"peer_id", req.PeerID}) {
		return
	}

	peer := models.Peer{PeerID: *req.PeerID}
	for _, f := range []struct {
		name string
		raw  json.RawMessage
		dst  *string
	}{
		{"ip", req.IP, &peer.IP},
		{"port", req.Port, &peer.Port},
		{"pubkey", req.PubKey, &peer.PubKey},
	} {
		v, ok := scalarText(f.raw)
		if !ok {
			h.Error(w, http.StatusBadRequest, f.name+" must be a string, number or boolean")
			return
		}
		*f.dst = v
	}
	if err := h.store.Announce(r.Context(), *req.ChatID, peer); err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to announce peer")
		return
	}
	metrics.Announces.Inc()

	h.JSON(w, http.StatusOK, statusOK)
}

// GetPeers handles listing the live peers of a chat swarm.
func (h *Handler) GetPeers(w http.ResponseWriter, r *http.Request) {
	chatID, ok := h.queryParam(w, r, "chat_id")
	if !ok {
		return
	}

	peers, err := h.store.GetPeers(r.Context(), chatID)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to fetch peers")
		return
	}

	resp := PeersResponse{Peers: make([]PeerResponse, len(peers))}
	for i, p := range peers {
		resp.Peers[i] = PeerResponse{
			PeerID: p.PeerID,
			IP:     p.IP,
			Port:   p.Port,
			PubKey: p.PubKey,
		}
	}

	h.JSON(w, http.StatusOK, resp)
}
