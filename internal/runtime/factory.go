package runtime

import (
	"fmt"
	"os"
)

// StoreConfig selects and parameterizes the account store backend.
type StoreConfig struct {
	Backend       string // "memory", "postgres" or "redis"
	PostgresDSN   string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

// NewAccountStore creates the configured backend. An empty backend defaults
// to the in-memory store for local development.
func NewAccountStore(cfg StoreConfig) (AccountStore, error) {
	switch cfg.Backend {
	case "postgres":
		if cfg.PostgresDSN == "" {
			return nil, fmt.Errorf("postgres backend requires a DSN")
		}
		return NewPostgresStore(cfg.PostgresDSN)

	case "redis":
		if cfg.RedisAddr == "" {
			return nil, fmt.Errorf("redis backend requires an address")
		}
		return NewRedisStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)

	case "memory", "":
		return NewMemoryStore(), nil

	default:
		return nil, fmt.Errorf("unknown account store backend: %s", cfg.Backend)
	}
}

// NewAccountStoreFromEnv builds a store from environment variables.
func NewAccountStoreFromEnv() (AccountStore, error) {
	return NewAccountStore(StoreConfig{
		Backend:       os.Getenv("AMX_STORE_BACKEND"),
		PostgresDSN:   os.Getenv("AMX_POSTGRES_DSN"),
		RedisAddr:     os.Getenv("AMX_REDIS_ADDR"),
		RedisPassword: os.Getenv("AMX_REDIS_PASSWORD"),
	})
}
