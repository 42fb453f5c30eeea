// Package tracker provides a peer-side client for the chat swarm tracker.
package tracker

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"
)

// DefaultURL is the tracker the CLI talks to when TRACKER_URL is unset.
const DefaultURL = "http://127.0.0.1:9000"

// Client is a tracker API client acting as one peer.
type Client struct {
	BaseURL    string
	ConfigDir  string
	PeerID     string
	PublicKey  ed25519.PublicKey
	PrivateKey ed25519.PrivateKey
	HTTPClient *http.Client
}

// Identity is the persisted part of a peer.
type Identity struct {
	PeerID    string `json:"peer_id"`
	PublicKey string `json:"public_key"`
}

// APIError is a non-2xx answer from the tracker.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("tracker error %d: %s", e.StatusCode, e.Message)
}

// NewClient creates a new tracker client and loads any saved identity.
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultURL
	}

	configDir := os.Getenv("TRACKER_CONFIG")
	if configDir == "" {
		home, _ := os.UserHomeDir()
		configDir = filepath.Join(home, ".tracker")
	}

	c := &Client{
		BaseURL:    baseURL,
		ConfigDir:  configDir,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}

	_ = c.LoadIdentity()
	return c
}

// LoadIdentity loads the peer ID and keypair from disk.
func (c *Client) LoadIdentity() error {
	data, err := os.ReadFile(filepath.Join(c.ConfigDir, "identity.json"))
	if err != nil {
		return err
	}

	var id Identity
	if err := json.Unmarshal(data, &id); err != nil {
		return err
	}

	keyData, err := os.ReadFile(filepath.Join(c.ConfigDir, "private.key"))
	if err != nil {
		return err
	}
	seed, err := base64.StdEncoding.DecodeString(string(bytes.TrimSpace(keyData)))
	if err != nil {
		return err
	}
	if len(seed) != ed25519.SeedSize {
		return fmt.Errorf("private key seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}

	c.PeerID = id.PeerID
	c.PrivateKey = ed25519.NewKeyFromSeed(seed)
	c.PublicKey = c.PrivateKey.Public().(ed25519.PublicKey)
	return nil
}

// SaveIdentity writes the peer ID and keypair to disk.
func (c *Client) SaveIdentity() error {
	if err := os.MkdirAll(c.ConfigDir, 0700); err != nil {
		return err
	}

	id := Identity{
		PeerID:    c.PeerID,
		PublicKey: c.PublicKeyB64(),
	}
	data, _ := json.MarshalIndent(id, "", "  ")
	if err := os.WriteFile(filepath.Join(c.ConfigDir, "identity.json"), data, 0600); err != nil {
		return err
	}

	seed := base64.StdEncoding.EncodeToString(c.PrivateKey.Seed())
	return os.WriteFile(filepath.Join(c.ConfigDir, "private.key"), []byte(seed), 0600)
}

// GenerateIdentity creates a random peer ID and a new Ed25519 keypair.
func (c *Client) GenerateIdentity() error {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return err
	}
	idBytes := make([]byte, 16)
	if _, err := rand.Read(idBytes); err != nil {
		return err
	}
	c.PeerID = hex.EncodeToString(idBytes)
	c.PublicKey = pub
	c.PrivateKey = priv
	return nil
}

// PublicKeyB64 returns the public key in the form announced to the tracker.
func (c *Client) PublicKeyB64() string {
	if c.PublicKey == nil {
		return ""
	}
	return base64.StdEncoding.EncodeToString(c.PublicKey)
}

// doRequest performs an HTTP request and decodes a JSON response into out.
func (c *Client) doRequest(method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode >= 400 {
		var errResp struct {
			Error string `json:"error"`
		}
		json.Unmarshal(respBody, &errResp)
		return &APIError{StatusCode: resp.StatusCode, Message: errResp.Error}
	}

	if out == nil {
		return nil
	}
	return json.Unmarshal(respBody, out)
}

type statusResponse struct {
	Status string `json:"status"`
}

func (c *Client) post(path string, in interface{}) error {
	var resp statusResponse
	if err := c.doRequest(http.MethodPost, path, in, &resp); err != nil {
		return err
	}
	if resp.Status != "ok" {
		return fmt.Errorf("unexpected status %q from %s", resp.Status, path)
	}
	return nil
}

var errNoIdentity = errors.New("no peer identity; run init first")

// Peer is an entry of a swarm listing.
type Peer struct {
	PeerID string `json:"peer_id"`
	IP     string `json:"ip"`
	Port   string `json:"port"`
	PubKey string `json:"pubkey"`
}

// Announce registers this peer in the chat swarm. Peers must re-announce
// before the tracker's timeout (60s by default) to stay listed.
func (c *Client) Announce(chatID, ip, port string) error {
	if c.PeerID == "" {
		return errNoIdentity
	}
	return c.post("/announce", map[string]string{
		"chat_id": chatID,
		"peer_id": c.PeerID,
		"ip":      ip,
		"port":    port,
		"pubkey":  c.PublicKeyB64(),
	})
}

// GetPeers lists the live peers of a chat swarm.
func (c *Client) GetPeers(chatID string) ([]Peer, error) {
	var resp struct {
		Peers []Peer `json:"peers"`
	}
	if err := c.doRequest(http.MethodGet, "/get_peers?chat_id="+url.QueryEscape(chatID), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Peers, nil
}

// Message is a drained mailbox entry.
type Message struct {
	ID        string  `json:"id"`
	From      string  `json:"from"`
	Text      string  `json:"text"`
	Timestamp float64 `json:"timestamp"`
}

// Time converts the tracker timestamp.
func (m Message) Time() time.Time {
	sec := int64(m.Timestamp)
	return time.Unix(sec, int64((m.Timestamp-float64(sec))*float64(time.Second)))
}

type messagesResponse struct {
	Messages []Message `json:"messages"`
}

// SendMessage leaves text in a peer's mailbox as is.
func (c *Client) SendMessage(toPeer, text string) error {
	return c.post("/send_message", map[string]string{
		"to_peer":   toPeer,
		"from_peer": c.PeerID,
		"text":      text,
	})
}

// SendSealed seals text to the peer's announced key and leaves it in its
// mailbox. The sealed text only opens as a message from this peer to that one.
func (c *Client) SendSealed(to Peer, text string) error {
	if c.PeerID == "" {
		return errNoIdentity
	}
	sealed, err := Seal(to, c.PeerID, text)
	if err != nil {
		return err
	}
	return c.SendMessage(to.PeerID, sealed)
}

// GetMessages drains this peer's mailbox. Messages are gone from the tracker
// once returned.
func (c *Client) GetMessages() ([]Message, error) {
	if c.PeerID == "" {
		return nil, errNoIdentity
	}
	var resp messagesResponse
	if err := c.doRequest(http.MethodGet, "/get_messages?peer_id="+url.QueryEscape(c.PeerID), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Messages, nil
}

// OpenMessage decrypts a message sealed to this peer.
func (c *Client) OpenMessage(m Message) (string, error) {
	if c.PrivateKey == nil {
		return "", errNoIdentity
	}
	return Open(m, c.PeerID, c.PrivateKey)
}

// RegisterUser records a username on the tracker.
func (c *Client) RegisterUser(username string) error {
	return c.post("/register_user", map[string]string{"username": username})
}

// SendPrivateMessage leaves text in a username's mailbox.
func (c *Client) SendPrivateMessage(toUser, text string) error {
	return c.post("/send_private_message", map[string]string{
		"to_user":   toUser,
		"from_peer": c.PeerID,
		"text":      text,
	})
}

// GetPrivateMessages drains a username's mailbox.
func (c *Client) GetPrivateMessages(username string) ([]Message, error) {
	var resp messagesResponse
	if err := c.doRequest(http.MethodGet, "/get_private_messages?user="+url.QueryEscape(username), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Messages, nil
}

// TrackerInfo is an entry of the public tracker directory.
type TrackerInfo struct {
	URL         string `json:"url"`
	Description string `json:"description"`
}

// PublicTrackers lists the trackers this tracker advertises.
func (c *Client) PublicTrackers() ([]TrackerInfo, error) {
	var resp struct {
		Trackers []TrackerInfo `json:"trackers"`
	}
	if err := c.doRequest(http.MethodGet, "/public_trackers", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Trackers, nil
}

// HealthResponse is the response from the health endpoint.
type HealthResponse struct {
	Status    string                 `json:"status"`
	Version   string                 `json:"version"`
	Instance  string                 `json:"instance,omitempty"`
	Backend   string                 `json:"backend"`
	Users     int64                  `json:"users"`
	Checks    map[string]interface{} `json:"checks"`
	Timestamp string                 `json:"timestamp"`
}

// Health checks server health.
func (c *Client) Health() (*HealthResponse, error) {
	var resp HealthResponse
	if err := c.doRequest(http.MethodGet, "/health", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
