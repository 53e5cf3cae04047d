package config_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/duskwire/duskwire/internal/config"
)

func TestLoad_RequiresUsername(t *testing.T) {
	t.Setenv("DUSKWIRE_USERNAME", "")
	_, err := config.Load()
	assert.Error(t, err)
}

func TestLoad_AppliesDefaults(t *testing.T) {
	t.Setenv("DUSKWIRE_USERNAME", "alice")
	t.Setenv("DUSKWIRE_BROKER_URL", "")
	t.Setenv("DUSKWIRE_IDENTITY_KEY", "")
	t.Setenv("DUSKWIRE_MESSAGE_LOG", "")

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, "alice", cfg.Username)
	assert.Equal(t, "ws://localhost:8080/ws", cfg.BrokerURL)
	assert.Equal(t, "identity_key.pem", cfg.IdentityKeyPath)
	assert.Equal(t, "messages.log", cfg.MessageLogPath)
}

func TestLoad_HonorsOverrides(t *testing.T) {
	t.Setenv("DUSKWIRE_USERNAME", "bob")
	t.Setenv("DUSKWIRE_BROKER_URL", "ws://relay.example:9090/ws")
	t.Setenv("DUSKWIRE_IDENTITY_KEY", "/tmp/bob.pem")
	t.Setenv("DUSKWIRE_MESSAGE_LOG", "/tmp/bob.log")

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, "ws://relay.example:9090/ws", cfg.BrokerURL)
	assert.Equal(t, "/tmp/bob.pem", cfg.IdentityKeyPath)
	assert.Equal(t, "/tmp/bob.log", cfg.MessageLogPath)
}
