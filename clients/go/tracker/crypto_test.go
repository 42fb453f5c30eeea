package tracker

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPeer(t *testing.T, id string) (Peer, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	return Peer{PeerID: id, PubKey: base64.StdEncoding.EncodeToString(pub)}, priv
}

func sealed(t *testing.T, to Peer, from, text string) Message {
	t.Helper()
	ct, err := Seal(to, from, text)
	require.NoError(t, err)
	return Message{From: from, Text: ct}
}

func TestSealOpenRoundTrip(t *testing.T) {
	bob, priv := newTestPeer(t, "bob")

	for _, text := range []string{"hello peer", "", "Привіт \U0001F30D", strings.Repeat("A", 8000)} {
		pt, err := Open(sealed(t, bob, "alice", text), "bob", priv)
		require.NoError(t, err)
		assert.Equal(t, text, pt)
	}
}

func TestSealedLength(t *testing.T) {
	bob, _ := newTestPeer(t, "bob")

	raw, err := base64.StdEncoding.DecodeString(sealed(t, bob, "alice", "test").Text)
	require.NoError(t, err)
	// version + ephemeral key + nonce + 4 bytes of text + tag
	assert.Len(t, raw, 1+32+12+4+16)
	assert.Equal(t, sealVersion, raw[0])
}

func TestSealIsRandomized(t *testing.T) {
	bob, priv := newTestPeer(t, "bob")

	m1 := sealed(t, bob, "alice", "same")
	m2 := sealed(t, bob, "alice", "same")
	assert.NotEqual(t, m1.Text, m2.Text)

	for _, m := range []Message{m1, m2} {
		pt, err := Open(m, "bob", priv)
		require.NoError(t, err)
		assert.Equal(t, "same", pt)
	}
}

func TestOpenRejectsWrongRoute(t *testing.T) {
	bob, priv := newTestPeer(t, "bob")
	m := sealed(t, bob, "alice", "for bob only")

	// Re-posted into another mailbox of the same key holder.
	_, err := Open(m, "bob-alt", priv)
	assert.ErrorIs(t, err, ErrUnsealable)

	// Re-attributed to another sender.
	forged := m
	forged.From = "mallory"
	_, err = Open(forged, "bob", priv)
	assert.ErrorIs(t, err, ErrUnsealable)

	// Same peer ID, different key.
	_, other := newTestPeer(t, "bob")
	_, err = Open(m, "bob", other)
	assert.ErrorIs(t, err, ErrUnsealable)
}

func TestOpenRejectsDamage(t *testing.T) {
	bob, priv := newTestPeer(t, "bob")
	m := sealed(t, bob, "alice", "secret")

	raw, _ := base64.StdEncoding.DecodeString(m.Text)
	raw[len(raw)-1] ^= 0xFF
	_, err := Open(Message{From: "alice", Text: base64.StdEncoding.EncodeToString(raw)}, "bob", priv)
	assert.ErrorIs(t, err, ErrUnsealable)

	raw[0] = 9
	_, err = Open(Message{From: "alice", Text: base64.StdEncoding.EncodeToString(raw)}, "bob", priv)
	assert.ErrorIs(t, err, ErrMalformed)

	_, err = Open(Message{From: "alice", Text: base64.StdEncoding.EncodeToString(make([]byte, 30))}, "bob", priv)
	assert.ErrorIs(t, err, ErrMalformed)

	_, err = Open(Message{From: "alice", Text: "plain text"}, "bob", priv)
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestSealRejectsBadKey(t *testing.T) {
	for _, key := range []string{"", "%%%", base64.StdEncoding.EncodeToString(make([]byte, 16))} {
		_, err := Seal(Peer{PeerID: "bob", PubKey: key}, "alice", "test")
		assert.ErrorIs(t, err, ErrInvalidKey, "key %q", key)
	}
}
