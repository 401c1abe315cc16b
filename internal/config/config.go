package config

import (
	"os"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Store      StoreConfig      `yaml:"store"`
	Staking    StakingConfig    `yaml:"staking"`
	Reputation ReputationConfig `yaml:"reputation"`
	Escrow     EscrowConfig     `yaml:"escrow"`
	Signals    SignalsConfig    `yaml:"signals"`
	Events     EventsConfig     `yaml:"events"`
}

type ServerConfig struct {
	Port string `yaml:"port"`
	Env  string `yaml:"env"`
}

type StoreConfig struct {
	Backend     string `yaml:"backend"`
	PostgresDSN string `yaml:"postgres_dsn"`
	RedisAddr   string `yaml:"redis_addr"`
	RedisDB     int    `yaml:"redis_db"`
}

type StakingConfig struct {
	LockupDays int `yaml:"lockup_days"`
}

type ReputationConfig struct {
	Backend            string  `yaml:"backend"`
	BoostPolicy        string  `yaml:"boost_policy"`
	DecayIntervalHours int     `yaml:"decay_interval_hours"`
	InactivityDays     int     `yaml:"inactivity_days"`
	DecayRate          float64 `yaml:"decay_rate"`
}

type EscrowConfig struct {
	TTLHours         int     `yaml:"ttl_hours"`
	SweepMinutes     int     `yaml:"sweep_minutes"`
	MinProviderScore float64 `yaml:"min_provider_score"`
	ArbiterMinTier   string  `yaml:"arbiter_min_tier"`
}

type SignalsConfig struct {
	Workers     int    `yaml:"workers"`
	MaxAttempts int    `yaml:"max_attempts"`
	Deliverer   string `yaml:"deliverer"`
	QueuePath   string `yaml:"queue_path"`
	TargetURL   string `yaml:"target_url"`
}

type EventsConfig struct {
	Backend   string `yaml:"backend"`
	ProjectID string `yaml:"project_id"`
	Topic     string `yaml:"topic"`
}

func LoadConfig(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// DefaultConfig returns a configuration suitable for local development with
// the in-memory backends.
func DefaultConfig() *Config {
	return &Config{
		Server:  ServerConfig{Port: "8080", Env: "development"},
		Store:   StoreConfig{Backend: "memory"},
		Staking: StakingConfig{LockupDays: 7},
		Reputation: ReputationConfig{
			Backend:            "memory",
			BoostPolicy:        "multiplicative_final",
			DecayIntervalHours: 1,
			InactivityDays:     7,
			DecayRate:          0.99,
		},
		Escrow: EscrowConfig{
			TTLHours:       72,
			SweepMinutes:   5,
			ArbiterMinTier: "pro",
		},
		Signals: SignalsConfig{Workers: 4, MaxAttempts: 5, Deliverer: "local"},
		Events:  EventsConfig{Backend: "local"},
	}
}
