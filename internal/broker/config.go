package broker

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

// Config is the relay broker replica's own configuration; internal/config
// at the repository root is the client-facing loader instead.
type Config struct {
	ServerID    string
	ServerPort  string
	RedisURL    string
	PostgresURL string
	ConsulURL   string

	VaultAddr       string
	VaultToken      string
	VaultMountPath  string
	VaultSecretPath string
	RegSecretEnv    string // fallback registration-token secret when Vault is unset
}

// LoadConfig loads the broker's configuration from the environment,
// following a .env.{NODE_ENV} -> .env.local cascade.
func LoadConfig() (*Config, error) {
	loadEnvFiles()

	cfg := &Config{
		ServerID:        getEnv("SERVER_ID", "duskwire-relay-1"),
		ServerPort:      getEnv("SERVER_PORT", "8080"),
		RedisURL:        getEnv("REDIS_URL", "localhost:6379"),
		PostgresURL:     getEnv("POSTGRES_URL", ""),
		ConsulURL:       getEnv("CONSUL_URL", "localhost:8500"),
		VaultAddr:       getEnv("VAULT_ADDR", ""),
		VaultToken:      getEnv("VAULT_TOKEN", ""),
		VaultMountPath:  getEnv("VAULT_MOUNT_PATH", "secret"),
		VaultSecretPath: getEnv("VAULT_SECRET_PATH", "duskwire/relay"),
		RegSecretEnv:    getEnv("REGISTRATION_TOKEN_SECRET", ""),
	}

	if cfg.PostgresURL == "" {
		return nil, fmt.Errorf("broker: POSTGRES_URL is required")
	}
	return cfg, nil
}

func loadEnvFiles() {
	env := getEnv("NODE_ENV", "development")
	_ = godotenv.Load(".env." + env)
	_ = godotenv.Load(".env.local")
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}
