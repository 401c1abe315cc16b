package reputation

import (
	"context"
	"log"
	"time"
)

// DecayScheduler periodically decays scores for inactive identities so a
// stale high score cannot persist indefinitely. Records are never deleted;
// decay only moves component values toward zero.
type DecayScheduler struct {
	ag     *Aggregator
	config DecayConfig
	stopCh chan struct{}
	logger *log.Logger
}

// DecayConfig holds the decay sweep policy.
type DecayConfig struct {
	// Interval between sweeps.
	Interval time.Duration

	// InactivityThreshold: identities idle longer than this get decayed.
	InactivityThreshold time.Duration

	// DecayRate multiplies each component value per sweep (e.g. 0.99).
	DecayRate float64
}

// DefaultDecayConfig returns the stock decay policy.
func DefaultDecayConfig() DecayConfig {
	return DecayConfig{
		Interval:            1 * time.Hour,
		InactivityThreshold: 7 * 24 * time.Hour,
		DecayRate:           0.99,
	}
}

// NewDecayScheduler creates and starts the background sweep loop.
func NewDecayScheduler(ag *Aggregator, cfg DecayConfig) *DecayScheduler {
	ds := &DecayScheduler{
		ag:     ag,
		config: cfg,
		stopCh: make(chan struct{}),
		logger: log.New(log.Writer(), "[DECAY-SCHED] ", log.LstdFlags),
	}
	go ds.run()
	return ds
}

// Stop halts the sweep loop.
func (ds *DecayScheduler) Stop() {
	close(ds.stopCh)
}

func (ds *DecayScheduler) run() {
	ticker := time.NewTicker(ds.config.Interval)
	defer ticker.Stop()

	ds.logger.Printf("started (interval=%s, rate=%.4f, inactivity=%s)",
		ds.config.Interval, ds.config.DecayRate, ds.config.InactivityThreshold)

	for {
		select {
		case <-ticker.C:
			if n := ds.ag.DecaySweep(context.Background(), ds.config); n > 0 {
				ds.logger.Printf("sweep complete: %d identities decayed", n)
			}
		case <-ds.stopCh:
			ds.logger.Println("stopped")
			return
		}
	}
}
