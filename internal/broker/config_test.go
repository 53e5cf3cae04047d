package broker_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/duskwire/duskwire/internal/broker"
)

func TestLoadConfig_RequiresPostgresURL(t *testing.T) {
	t.Setenv("POSTGRES_URL", "")
	_, err := broker.LoadConfig()
	assert.Error(t, err)
}

func TestLoadConfig_AppliesDefaults(t *testing.T) {
	t.Setenv("POSTGRES_URL", "postgres://localhost/duskwire")
	t.Setenv("SERVER_ID", "")
	t.Setenv("SERVER_PORT", "")
	t.Setenv("REDIS_URL", "")
	t.Setenv("CONSUL_URL", "")

	cfg, err := broker.LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "duskwire-relay-1", cfg.ServerID)
	assert.Equal(t, "8080", cfg.ServerPort)
	assert.Equal(t, "localhost:6379", cfg.RedisURL)
	assert.Equal(t, "localhost:8500", cfg.ConsulURL)
}

func TestLoadConfig_HonorsOverrides(t *testing.T) {
	t.Setenv("POSTGRES_URL", "postgres://localhost/duskwire")
	t.Setenv("SERVER_ID", "relay-west-2")
	t.Setenv("SERVER_PORT", "9090")

	cfg, err := broker.LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "relay-west-2", cfg.ServerID)
	assert.Equal(t, "9090", cfg.ServerPort)
}
