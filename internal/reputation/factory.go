package reputation

import (
	"fmt"
	"os"
)

// StoreConfig selects the reputation persistence backend.
type StoreConfig struct {
	Backend         string // "memory" or "spanner"
	SpannerProject  string
	SpannerInstance string
	SpannerDatabase string
}

// NewStore creates the configured backend. Empty defaults to in-memory for
// local development.
func NewStore(cfg StoreConfig) (Store, error) {
	switch cfg.Backend {
	case "spanner":
		if cfg.SpannerProject == "" || cfg.SpannerInstance == "" || cfg.SpannerDatabase == "" {
			return nil, fmt.Errorf("spanner configuration incomplete")
		}
		return NewSpannerStore(cfg.SpannerProject, cfg.SpannerInstance, cfg.SpannerDatabase)

	case "memory", "":
		return NewMemoryStore(), nil

	default:
		return nil, fmt.Errorf("unknown reputation backend: %s", cfg.Backend)
	}
}

// NewStoreFromEnv creates a store from environment variables.
func NewStoreFromEnv() (Store, error) {
	return NewStore(StoreConfig{
		Backend:         os.Getenv("AMX_REPUTATION_BACKEND"),
		SpannerProject:  os.Getenv("SPANNER_PROJECT_ID"),
		SpannerInstance: os.Getenv("SPANNER_INSTANCE_ID"),
		SpannerDatabase: os.Getenv("SPANNER_DATABASE_ID"),
	})
}
