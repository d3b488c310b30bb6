package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 8090, cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.WebSocket.PingInterval)
	assert.Equal(t, 60*time.Second, cfg.WebSocket.PongWait)
	assert.Equal(t, 10*time.Second, cfg.WebSocket.WriteWait)
	assert.Equal(t, int64(65536), cfg.WebSocket.MaxMessageSize)
	assert.Equal(t, "rt:registry", cfg.Redis.RegistryPrefix)
	assert.Equal(t, 10*time.Second, cfg.Redis.HeartbeatInterval)
	assert.Equal(t, 30*time.Second, cfg.Redis.KeyTTL)
	assert.False(t, cfg.PubSub.Enabled)
	assert.Equal(t, "redis", cfg.PubSub.Driver)
	assert.Equal(t, "info", cfg.Log.Level)
}
