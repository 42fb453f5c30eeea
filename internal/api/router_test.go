package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eldtechnologies/tracker/internal/handlers"
	"github.com/eldtechnologies/tracker/internal/models"
	"github.com/eldtechnologies/tracker/internal/store"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	s := store.NewMemoryStore()
	trackers := []models.Tracker{{URL: "http://127.0.0.1:9000", Description: "Local test tracker"}}
	h := handlers.NewHandler(s, trackers, "memory", "test-instance")
	srv := httptest.NewServer(NewRouter(zerolog.Nop(), h, RouterOptions{MaxBodyBytes: 1024}))
	t.Cleanup(srv.Close)
	return srv
}

func post(t *testing.T, srv *httptest.Server, path, body string) (int, map[string]interface{}) {
	t.Helper()
	resp, err := http.Post(srv.URL+path, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func get(t *testing.T, srv *httptest.Server, path string, out interface{}) int {
	t.Helper()
	resp, err := http.Get(srv.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	return resp.StatusCode
}

type peersBody struct {
	Peers []handlers.PeerResponse `json:"peers"`
}

type messagesBody struct {
	Messages []handlers.MessageResponse `json:"messages"`
}

func TestAnnounceAndGetPeers(t *testing.T) {
	srv := newTestServer(t)

	status, body := post(t, srv, "/announce", `{"chat_id":"C","peer_id":"X","ip":"1.2.3.4","port":"5000","pubkey":"K"}`)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", body["status"])

	var peers peersBody
	require.Equal(t, http.StatusOK, get(t, srv, "/get_peers?chat_id=C", &peers))
	require.Len(t, peers.Peers, 1)
	assert.Equal(t, handlers.PeerResponse{PeerID: "X", IP: "1.2.3.4", Port: "5000", PubKey: "K"}, peers.Peers[0])

	var empty peersBody
	require.Equal(t, http.StatusOK, get(t, srv, "/get_peers?chat_id=nobody", &empty))
	assert.NotNil(t, empty.Peers)
	assert.Empty(t, empty.Peers)
}

func TestAnnounceAcceptsNumericPortAndMissingOptionals(t *testing.T) {
	srv := newTestServer(t)

	status, _ := post(t, srv, "/announce", `{"chat_id":"C","peer_id":"X","port":5000}`)
	require.Equal(t, http.StatusOK, status)

	var peers peersBody
	get(t, srv, "/get_peers?chat_id=C", &peers)
	require.Len(t, peers.Peers, 1)
	assert.Equal(t, "5000", peers.Peers[0].Port)
	assert.Equal(t, "", peers.Peers[0].IP)
	assert.Equal(t, "", peers.Peers[0].PubKey)
}

func TestMissingFieldsAreRejected(t *testing.T) {
	srv := newTestServer(t)

	tests := []struct {
		path string
		body string
		want string
	}{
		{"/announce", `{"peer_id":"X"}`, "chat_id is required"},
		{"/announce", `{"chat_id":"C"}`, "peer_id is required"},
		{"/send_message", `{"from_peer":"Q","text":"hi"}`, "to_peer is required"},
		{"/send_message", `{"to_peer":"P","text":"hi"}`, "from_peer is required"},
		{"/send_message", `{"to_peer":"P","from_peer":"Q"}`, "text is required"},
		{"/send_private_message", `{"from_peer":"Q","text":"hi"}`, "to_user is required"},
		{"/register_user", `{}`, "username is required"},
		{"/register_user", `not json`, "invalid JSON body"},
		{"/announce", `{"chat_id":"c","peer_id":"p","port":{"a":1}}`, "port must be a string, number or boolean"},
	}

	for _, tt := range tests {
		t.Run(tt.path+" "+tt.want, func(t *testing.T) {
			status, body := post(t, srv, tt.path, tt.body)
			assert.Equal(t, http.StatusBadRequest, status)
			assert.Equal(t, tt.want, body["error"])
		})
	}

	for _, path := range []string{"/get_peers", "/get_messages", "/get_private_messages"} {
		var body map[string]interface{}
		assert.Equal(t, http.StatusBadRequest, get(t, srv, path, &body), path)
	}
}

func TestEmptyValuesAreAccepted(t *testing.T) {
	srv := newTestServer(t)

	status, _ := post(t, srv, "/send_message", `{"to_peer":"P","from_peer":"Q","text":""}`)
	assert.Equal(t, http.StatusOK, status)

	var msgs messagesBody
	require.Equal(t, http.StatusOK, get(t, srv, "/get_messages?peer_id=P", &msgs))
	require.Len(t, msgs.Messages, 1)
	assert.Equal(t, "", msgs.Messages[0].Text)

	var peers peersBody
	assert.Equal(t, http.StatusOK, get(t, srv, "/get_peers?chat_id=", &peers))
}

func TestMessagesDrainOnceInOrder(t *testing.T) {
	srv := newTestServer(t)

	for _, text := range []string{"A", "B", "C"} {
		status, _ := post(t, srv, "/send_message", `{"to_peer":"P","from_peer":"Q","text":"`+text+`"}`)
		require.Equal(t, http.StatusOK, status)
	}

	var first messagesBody
	require.Equal(t, http.StatusOK, get(t, srv, "/get_messages?peer_id=P", &first))
	require.Len(t, first.Messages, 3)
	for i, text := range []string{"A", "B", "C"} {
		assert.Equal(t, text, first.Messages[i].Text)
		assert.Equal(t, "Q", first.Messages[i].From)
		assert.NotEmpty(t, first.Messages[i].ID)
		assert.Greater(t, first.Messages[i].Timestamp, 0.0)
	}

	var second messagesBody
	require.Equal(t, http.StatusOK, get(t, srv, "/get_messages?peer_id=P", &second))
	assert.NotNil(t, second.Messages)
	assert.Empty(t, second.Messages)
}

func TestPrivateMessages(t *testing.T) {
	srv := newTestServer(t)

	status, _ := post(t, srv, "/register_user", `{"username":"alice"}`)
	require.Equal(t, http.StatusOK, status)
	status, _ = post(t, srv, "/register_user", `{"username":"alice"}`)
	require.Equal(t, http.StatusOK, status)

	// Delivery does not depend on registration.
	status, _ = post(t, srv, "/send_private_message", `{"to_user":"bob","from_peer":"P","text":"hi"}`)
	require.Equal(t, http.StatusOK, status)

	var msgs messagesBody
	require.Equal(t, http.StatusOK, get(t, srv, "/get_private_messages?user=bob", &msgs))
	require.Len(t, msgs.Messages, 1)
	assert.Equal(t, "P", msgs.Messages[0].From)
	assert.Equal(t, "hi", msgs.Messages[0].Text)

	var health handlers.HealthResponse
	require.Equal(t, http.StatusOK, get(t, srv, "/health", &health))
	assert.EqualValues(t, 1, health.Users)
}

func TestPublicTrackers(t *testing.T) {
	srv := newTestServer(t)

	var body handlers.TrackersResponse
	require.Equal(t, http.StatusOK, get(t, srv, "/public_trackers", &body))
	assert.Equal(t, []models.Tracker{{URL: "http://127.0.0.1:9000", Description: "Local test tracker"}}, body.Trackers)
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t)

	var health handlers.HealthResponse
	require.Equal(t, http.StatusOK, get(t, srv, "/health", &health))
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, "memory", health.Backend)
	assert.Equal(t, "test-instance", health.Instance)
	assert.Equal(t, "pass", health.Checks["store"].Status)
}

func TestRequestGuards(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Post(srv.URL+"/announce", "text/plain", strings.NewReader("chat_id=C"))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnsupportedMediaType, resp.StatusCode)

	big := `{"chat_id":"C","peer_id":"` + strings.Repeat("x", 2048) + `"}`
	resp, err = http.Post(srv.URL+"/announce", "application/json", strings.NewReader(big))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/get_peers?chat_id=C")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))
}
