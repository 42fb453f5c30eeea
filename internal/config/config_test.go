package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eldtechnologies/tracker/internal/models"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"PORT", "ENV", "LOG_LEVEL", "STORE_BACKEND", "REDIS_URL", "PEER_TIMEOUT",
		"RECLAIM_INTERVAL", "UPNP_ENABLED", "UPNP_TIMEOUT", "PUBLIC_TRACKERS",
		"MAX_BODY_BYTES", "RATE_LIMIT_WHITELIST", "AUTO_BLOCK_ENABLED",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9000", cfg.Port)
	assert.True(t, cfg.IsDevelopment())
	assert.Equal(t, BackendMemory, cfg.StoreBackend)
	assert.Equal(t, 60*time.Second, cfg.PeerTimeout)
	assert.Zero(t, cfg.ReclaimInterval)
	assert.True(t, cfg.UPnPEnabled)
	assert.Equal(t, 3*time.Second, cfg.UPnPTimeout)
	assert.EqualValues(t, 65536, cfg.MaxBodyBytes)
	assert.Equal(t, []models.Tracker{{URL: "http://127.0.0.1:9000", Description: "Local test tracker"}}, cfg.PublicTrackers)

	port, err := cfg.PortNumber()
	require.NoError(t, err)
	assert.Equal(t, 9000, port)
}

func TestLoadOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "9100")
	t.Setenv("ENV", "production")
	t.Setenv("STORE_BACKEND", "Redis")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("PEER_TIMEOUT", "90s")
	t.Setenv("RECLAIM_INTERVAL", "5m")
	t.Setenv("UPNP_ENABLED", "false")
	t.Setenv("PUBLIC_TRACKERS", "http://a:9000|Alpha, http://b:9000")
	t.Setenv("RATE_LIMIT_WHITELIST", "10.0.0.0/8, 127.0.0.1")

	cfg, err := Load()
	require.NoError(t, err)

	assert.False(t, cfg.IsDevelopment())
	assert.Equal(t, BackendRedis, cfg.StoreBackend)
	assert.Equal(t, 90*time.Second, cfg.PeerTimeout)
	assert.Equal(t, 5*time.Minute, cfg.ReclaimInterval)
	assert.False(t, cfg.UPnPEnabled)
	assert.Equal(t, []models.Tracker{
		{URL: "http://a:9000", Description: "Alpha"},
		{URL: "http://b:9000", Description: ""},
	}, cfg.PublicTrackers)
	assert.Equal(t, []string{"10.0.0.0/8", "127.0.0.1"}, cfg.RateLimitWhitelist)
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"redis backend without url", map[string]string{"STORE_BACKEND": "redis"}},
		{"unknown backend", map[string]string{"STORE_BACKEND": "etcd"}},
		{"bad timeout", map[string]string{"PEER_TIMEOUT": "soon"}},
		{"bad body size", map[string]string{"MAX_BODY_BYTES": "-1"}},
		{"tracker without url", map[string]string{"PUBLIC_TRACKERS": "|nameless"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestPortNumberRejectsGarbage(t *testing.T) {
	_, err := (&Config{Port: "http"}).PortNumber()
	assert.Error(t, err)
	_, err = (&Config{Port: "70000"}).PortNumber()
	assert.Error(t, err)
}
