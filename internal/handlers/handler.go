package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/eldtechnologies/tracker/internal/models"
	"github.com/eldtechnologies/tracker/internal/store"
)

// Handler contains shared dependencies for all HTTP handlers.
type Handler struct {
	store      store.Store
	trackers   []models.Tracker
	backend    string
	instanceID string
}

// NewHandler creates a new Handler backed by the given store.
func NewHandler(s store.Store, trackers []models.Tracker, backend, instanceID string) *Handler {
	if trackers == nil {
		trackers = []models.Tracker{}
	}
	return &Handler{
		store:      s,
		trackers:   trackers,
		backend:    backend,
		instanceID: instanceID,
	}
}

// StatusResponse is the body of every successful write.
type StatusResponse struct {
	Status string `json:"status"`
}

var statusOK = StatusResponse{Status: "ok"}

// JSON sends a JSON response with the given status code.
func (h *Handler) JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// Error sends a JSON error response with the given status code.
func (h *Handler) Error(w http.ResponseWriter, status int, message string) {
	h.JSON(w, status, map[string]string{"error": message})
}

// decode parses the JSON request body into dst, writing a 400 on failure.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

// require writes a 400 naming the first absent field. Fields are given as
// name/value pairs; a nil value means the field was not sent.
func (h *Handler) require(w http.ResponseWriter, fields ...field) bool {
	for _, f := range fields {
		if f.value == nil {
			h.Error(w, http.StatusBadRequest, f.name+" is required")
			return false
		}
	}
	return true
}

type field struct {
	name  string
	value *string
}

// queryParam returns the named query parameter, writing a 400 when it is
// absent. An empty value is accepted.
func (h *Handler) queryParam(w http.ResponseWriter, r *http.Request, name string) (string, bool) {
	q := r.URL.Query()
	if !q.Has(name) {
		h.Error(w, http.StatusBadRequest, name+" is required")
		return "", false
	}
	return q.Get(name), true
}

// scalarText returns the text of an optional JSON scalar. Absent and null
// give "", numbers keep their literal form so peers may send ports as
// numbers. Objects and arrays are rejected.
func scalarText(raw json.RawMessage) (string, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", true
	}
	switch raw[0] {
	case '"':
		var v string
		if err := json.Unmarshal(raw, &v); err != nil {
			return "", false
		}
		return v, true
	case '{', '[':
		return "", false
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(raw, &b); err != nil {
			return "", false
		}
		return strconv.FormatBool(b), true
	default:
		var n json.Number
		if err := json.Unmarshal(raw, &n); err != nil {
			return "", false
		}
		return n.String(), true
	}
}
