package handlers

import (
	"net/http"

	"github.com/eldtechnologies/tracker/internal/models"
)

// TrackersResponse represents the public trackers response.
type TrackersResponse struct {
	Trackers []models.Tracker `json:"trackers"`
}

// PublicTrackers returns the configured tracker directory.
func (h *Handler) PublicTrackers(w http.ResponseWriter, r *http.Request) {
	h.JSON(w, http.StatusOK, TrackersResponse{Trackers: h.trackers})
}
