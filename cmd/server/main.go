package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/amx/backend/internal/api"
	"github.com/amx/backend/internal/config"
	"github.com/amx/backend/internal/escrow"
	"github.com/amx/backend/internal/events"
	"github.com/amx/backend/internal/ledger"
	"github.com/amx/backend/internal/reputation"
	"github.com/amx/backend/internal/runtime"
	"github.com/amx/backend/internal/signals"
	"github.com/amx/backend/internal/staking"
)

func main() {
	// Load .env if present (local development)
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment")
	}

	cfg := loadConfig()
	clock := runtime.SystemClock{}

	// Account store backing staking and escrow state
	store, err := runtime.NewAccountStore(runtime.StoreConfig{
		Backend:       cfg.Store.Backend,
		PostgresDSN:   firstNonEmpty(os.Getenv("AMX_POSTGRES_DSN"), cfg.Store.PostgresDSN),
		RedisAddr:     firstNonEmpty(os.Getenv("AMX_REDIS_ADDR"), cfg.Store.RedisAddr),
		RedisPassword: os.Getenv("AMX_REDIS_PASSWORD"),
		RedisDB:       cfg.Store.RedisDB,
	})
	if err != nil {
		log.Fatalf("account store init failed: %v", err)
	}
	defer store.Close()

	// Reputation store (memory or Spanner)
	repStore, err := reputation.NewStore(reputation.StoreConfig{
		Backend:         firstNonEmpty(os.Getenv("AMX_REPUTATION_BACKEND"), cfg.Reputation.Backend),
		SpannerProject:  os.Getenv("SPANNER_PROJECT_ID"),
		SpannerInstance: os.Getenv("SPANNER_INSTANCE_ID"),
		SpannerDatabase: os.Getenv("SPANNER_DATABASE_ID"),
	})
	if err != nil {
		log.Fatalf("reputation store init failed: %v", err)
	}
	defer repStore.Close()

	// Event bus, optionally mirrored to Pub/Sub. The SSE stream subscribes
	// to bus, so the Pub/Sub wrapper must fan out through the same instance.
	bus := events.NewEventBus()
	var emitter events.EventEmitter = bus
	if cfg.Events.Backend == "pubsub" {
		pubsubBus, err := events.NewPubSubEventBus(cfg.Events.ProjectID, cfg.Events.Topic, bus)
		if err != nil {
			log.Fatalf("pubsub bus init failed: %v", err)
		}
		emitter = pubsubBus
		defer pubsubBus.Close()
	}

	// Reputation aggregator, wired to staking tier changes below
	aggregator := reputation.NewAggregator(repStore, clock, reputation.BoostPolicy(cfg.Reputation.BoostPolicy), emitter)

	// Staking manager notifies the aggregator on every tier move
	lockup := time.Duration(cfg.Staking.LockupDays) * 24 * time.Hour
	stakingManager := staking.NewManager(store, clock, lockup, staking.NewMetrics(), aggregator)

	// Signal delivery: idempotent sink over the aggregator
	var dedupe signals.DedupeLedger = signals.NewMemoryDedupe()
	if addr := firstNonEmpty(os.Getenv("AMX_REDIS_ADDR"), cfg.Store.RedisAddr); addr != "" {
		redisDedupe, err := signals.NewRedisDedupe(addr, os.Getenv("AMX_REDIS_PASSWORD"), cfg.Store.RedisDB)
		if err != nil {
			log.Printf("redis dedupe unavailable, using in-memory ledger: %v", err)
		} else {
			dedupe = redisDedupe
		}
	}
	deliverer := signals.NewDeliverer(aggregator, dedupe, cfg.Signals.Workers, cfg.Signals.MaxAttempts)
	defer deliverer.Shutdown()

	var dispatcher escrow.SignalDispatcher = deliverer
	var cloudTasks *signals.CloudTasksDeliverer
	if cfg.Signals.Deliverer == "cloudtasks" {
		cloudTasks, err = signals.NewCloudTasksDeliverer(
			os.Getenv("GCP_PROJECT_ID"),
			os.Getenv("GCP_LOCATION_ID"),
			os.Getenv("AMX_TASKS_QUEUE_ID"),
			cfg.Signals.TargetURL,
			deliverer,
		)
		if err != nil {
			log.Fatalf("cloud tasks deliverer init failed: %v", err)
		}
		dispatcher = cloudTasks
		defer cloudTasks.Shutdown()
	}

	// Escrow settlement engine
	arbiterTier, ok := staking.ParseTier(cfg.Escrow.ArbiterMinTier)
	if !ok {
		log.Fatalf("unknown arbiter tier %q", cfg.Escrow.ArbiterMinTier)
	}
	opts := escrow.Options{
		TTL:              time.Duration(cfg.Escrow.TTLHours) * time.Hour,
		MinProviderScore: int(cfg.Escrow.MinProviderScore),
		ArbiterMinTier:   arbiterTier,
	}
	audit := ledger.NewLedger()
	escrowManager := escrow.NewManager(store, clock, opts, dispatcher, stakingManager, aggregator, audit, emitter, escrow.NewMetrics())

	// Background loops
	if keys, ok := store.(runtime.KeyLister); ok {
		sweeper := escrow.NewSweeper(escrowManager, keys, time.Duration(cfg.Escrow.SweepMinutes)*time.Minute)
		defer sweeper.Stop()
	} else {
		log.Printf("store backend %q does not list keys, expiry sweeper disabled", cfg.Store.Backend)
	}

	decayCfg := reputation.DecayConfig{
		Interval:            time.Duration(cfg.Reputation.DecayIntervalHours) * time.Hour,
		InactivityThreshold: time.Duration(cfg.Reputation.InactivityDays) * 24 * time.Hour,
		DecayRate:           cfg.Reputation.DecayRate,
	}
	scheduler := reputation.NewDecayScheduler(aggregator, decayCfg)
	defer scheduler.Stop()

	// HTTP surface
	var arbiterKeyHash []byte
	if h := os.Getenv("AMX_ARBITER_KEY_HASH"); h != "" {
		arbiterKeyHash = []byte(h)
	}
	server := api.NewAPIServer(stakingManager, aggregator, escrowManager, deliverer, bus, audit, arbiterKeyHash)

	port := firstNonEmpty(os.Getenv("PORT"), cfg.Server.Port)
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start(port)
	}()
	log.Printf("AMX settlement core up (env=%s store=%s reputation=%s)", cfg.Server.Env, cfg.Store.Backend, cfg.Reputation.Backend)

	// Graceful shutdown on SIGINT/SIGTERM
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		log.Fatalf("server failed: %v", err)
	case sig := <-sigCh:
		log.Printf("received %v, shutting down", sig)
	}
}

func loadConfig() *config.Config {
	path := os.Getenv("AMX_CONFIG")
	if path == "" {
		path = "config.yaml"
	}
	cfg, err := config.LoadConfig(path)
	if err != nil {
		log.Printf("config %s not loaded (%v), using defaults", path, err)
		return config.DefaultConfig()
	}
	return cfg
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
