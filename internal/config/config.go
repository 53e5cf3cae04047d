// Package config loads client-side configuration for a duskwire embedder:
// which peer name to register as, which broker to dial, and where the
// identity key and message log live on disk.
package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

// Config holds everything internal/core.NewClient and internal/relay.NewAdapter
// need to start a session.
type Config struct {
	Username        string
	BrokerURL       string
	IdentityKeyPath string
	MessageLogPath  string
}

// loadEnvFiles follows a .env -> .env.{NODE_ENV} -> .env.local load order;
// missing files are not an error.
func loadEnvFiles() {
	_ = godotenv.Load()
	if env := os.Getenv("NODE_ENV"); env != "" {
		_ = godotenv.Load(".env." + env)
	}
	_ = godotenv.Load(".env.local")
}

// Load reads DUSKWIRE_* environment variables (after the .env chain above),
// failing only on the one value with no sane default: the username.
func Load() (*Config, error) {
	loadEnvFiles()

	username := os.Getenv("DUSKWIRE_USERNAME")
	if username == "" {
		return nil, fmt.Errorf("config: DUSKWIRE_USERNAME is required")
	}

	return &Config{
		Username:        username,
		BrokerURL:       getEnv("DUSKWIRE_BROKER_URL", "ws://localhost:8080/ws"),
		IdentityKeyPath: getEnv("DUSKWIRE_IDENTITY_KEY", "identity_key.pem"),
		MessageLogPath:  getEnv("DUSKWIRE_MESSAGE_LOG", "messages.log"),
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
