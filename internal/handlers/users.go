package handlers

import (
	"net/http"

	"github.com/eldtechnologies/tracker/internal/metrics"
)

// RegisterUserRequest represents the register user request body.
type RegisterUserRequest struct {
	Username *string `json:"username"`
}

// RegisterUser handles adding a username to the registry. Re-registering is a no-op.
func (h *Handler) RegisterUser(w http.ResponseWriter, r *http.Request) {
	var req RegisterUserRequest
	if !h.decode(w, r, &req) {
		return
	}
	if !h.require(w, field{"username", req.Username}) {
		return
	}

	if err := h.store.RegisterUser(r.Context(), *req.Username); err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to register user")
		return
	}
	metrics.UsersRegistered.Inc()

	h.JSON(w, http.StatusOK, statusOK)
}
