package tracker

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eldtechnologies/tracker/internal/api"
	"github.com/eldtechnologies/tracker/internal/handlers"
	"github.com/eldtechnologies/tracker/internal/models"
	"github.com/eldtechnologies/tracker/internal/store"
)

func newTestTracker(t *testing.T) string {
	t.Helper()
	h := handlers.NewHandler(store.NewMemoryStore(), []models.Tracker{{URL: "http://t1", Description: "one"}}, "memory", "")
	srv := httptest.NewServer(api.NewRouter(zerolog.Nop(), h, api.RouterOptions{MaxBodyBytes: 65536}))
	t.Cleanup(srv.Close)
	return srv.URL
}

func newTestClient(t *testing.T, url string) *Client {
	t.Helper()
	t.Setenv("TRACKER_CONFIG", t.TempDir())
	c := NewClient(url)
	require.NoError(t, c.GenerateIdentity())
	return c
}

func TestAnnounceAndSealedDelivery(t *testing.T) {
	url := newTestTracker(t)
	alice := newTestClient(t, url)
	bob := newTestClient(t, url)

	require.NoError(t, bob.Announce("room", "10.0.0.2", "7000"))

	peers, err := alice.GetPeers("room")
	require.NoError(t, err)
	require.Len(t, peers, 1)
	assert.Equal(t, bob.PeerID, peers[0].PeerID)
	assert.Equal(t, bob.PublicKeyB64(), peers[0].PubKey)

	require.NoError(t, alice.SendSealed(peers[0], "hello bob"))

	msgs, err := bob.GetMessages()
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, alice.PeerID, msgs[0].From)
	assert.NotEqual(t, "hello bob", msgs[0].Text)
	assert.False(t, msgs[0].Time().IsZero())

	text, err := bob.OpenMessage(msgs[0])
	require.NoError(t, err)
	assert.Equal(t, "hello bob", text)

	msgs, err = bob.GetMessages()
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestPrivateMessagesAndDirectory(t *testing.T) {
	url := newTestTracker(t)
	c := newTestClient(t, url)

	require.NoError(t, c.RegisterUser("carol"))
	require.NoError(t, c.SendPrivateMessage("carol", "ping"))

	msgs, err := c.GetPrivateMessages("carol")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "ping", msgs[0].Text)

	trackers, err := c.PublicTrackers()
	require.NoError(t, err)
	assert.Equal(t, []TrackerInfo{{URL: "http://t1", Description: "one"}}, trackers)

	health, err := c.Health()
	require.NoError(t, err)
	assert.Equal(t, "healthy", health.Status)
	assert.EqualValues(t, 1, health.Users)
}

func TestAPIError(t *testing.T) {
	url := newTestTracker(t)
	c := newTestClient(t, url)

	err := c.post("/announce", map[string]string{"peer_id": "x"})
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Equal(t, "chat_id is required", apiErr.Message)
}

func TestIdentityPersistence(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("TRACKER_CONFIG", dir)

	c := NewClient("")
	assert.Equal(t, DefaultURL, c.BaseURL)
	assert.Empty(t, c.PeerID)
	assert.ErrorIs(t, c.Announce("room", "", ""), errNoIdentity)

	require.NoError(t, c.GenerateIdentity())
	require.NoError(t, c.SaveIdentity())

	loaded := NewClient("")
	assert.Equal(t, c.PeerID, loaded.PeerID)
	assert.Equal(t, c.PublicKeyB64(), loaded.PublicKeyB64())
	assert.True(t, c.PrivateKey.Equal(loaded.PrivateKey))
}

func TestSealedTextMovedToOtherMailbox(t *testing.T) {
	url := newTestTracker(t)
	alice := newTestClient(t, url)
	bob := newTestClient(t, url)

	ct, err := Seal(Peer{PeerID: bob.PeerID, PubKey: bob.PublicKeyB64()}, alice.PeerID, "hello bob")
	require.NoError(t, err)

	// Same key pair, different mailbox.
	alias := newTestClient(t, url)
	alias.PrivateKey, alias.PublicKey = bob.PrivateKey, bob.PublicKey
	require.NoError(t, alice.SendMessage(alias.PeerID, ct))

	msgs, err := alias.GetMessages()
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	_, err = alias.OpenMessage(msgs[0])
	assert.ErrorIs(t, err, ErrUnsealable)
}
