package reputation

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/amx/backend/internal/core"
	"github.com/amx/backend/internal/events"
	"github.com/amx/backend/internal/runtime"
	"github.com/amx/backend/internal/staking"
)

// tierComponentValue maps a staking tier onto the [0,100] stake component
// scale: one quarter per tier step.
func tierComponentValue(t staking.Tier) float64 {
	return float64(t) * 25
}

// Aggregator is the event-driven scoring engine. Each signal updates one
// component and recombines the composite; mutations per identity are
// serialized behind the lock.
type Aggregator struct {
	mu     sync.Mutex
	store  Store
	clock  runtime.Clock
	policy BoostPolicy
	bus    events.EventEmitter
	logger *log.Logger
}

// NewAggregator creates the scoring engine. bus may be nil.
func NewAggregator(store Store, clock runtime.Clock, policy BoostPolicy, bus events.EventEmitter) *Aggregator {
	if policy == "" {
		policy = BoostMultiplicativeFinal
	}
	return &Aggregator{
		store:  store,
		clock:  clock,
		policy: policy,
		bus:    bus,
		logger: log.New(log.Writer(), "[REPUTATION] ", log.LstdFlags),
	}
}

// Get returns the record, or runtime.ErrNotFound before the first scoring
// event.
func (ag *Aggregator) Get(ctx context.Context, identity core.AgentID) (*ReputationRecord, error) {
	return ag.store.Get(ctx, identity)
}

// ApplyComponentUpdate ingests one normalized observation from an external
// feed. The previous composite stays authoritative on any rejection.
func (ag *Aggregator) ApplyComponentUpdate(ctx context.Context, identity core.AgentID, c Component, value float64) (*ReputationRecord, error) {
	ag.mu.Lock()
	defer ag.mu.Unlock()

	rec, err := ag.load(ctx, identity)
	if err != nil {
		return nil, err
	}

	next, err := ApplyComponent(rec, c, value, ag.clock.Now(), ag.policy)
	if err != nil {
		return nil, fmt.Errorf("component update for %s: %w", identity, err)
	}
	return ag.commit(ctx, rec, next)
}

// ApplyJobSignal folds a settlement outcome into the record. Implements the
// signal-delivery sink; dedupe happens upstream of this call.
func (ag *Aggregator) ApplyJobSignal(ctx context.Context, sig core.Signal) error {
	ag.mu.Lock()
	defer ag.mu.Unlock()

	rec, err := ag.load(ctx, sig.Identity)
	if err != nil {
		return err
	}

	next := ApplyJobSignal(rec, sig, ag.clock.Now(), ag.policy)
	_, err = ag.commit(ctx, rec, next)
	return err
}

// OnTierChange refreshes the stake component and boost after a committed
// staking mutation changed the tier. Implements staking.TierListener.
func (ag *Aggregator) OnTierChange(ctx context.Context, owner core.AgentID, tier staking.Tier) {
	ag.mu.Lock()
	defer ag.mu.Unlock()

	rec, err := ag.load(ctx, owner)
	if err != nil {
		ag.logger.Printf("tier change load failed for %s: %v", owner, err)
		return
	}

	next := SetStakeTier(rec, tierComponentValue(tier), tier.Params().Boost, ag.clock.Now(), ag.policy)
	if _, err := ag.commit(ctx, rec, next); err != nil {
		ag.logger.Printf("tier change commit failed for %s: %v", owner, err)
	}
}

// DecaySweep decays every identity whose record has been idle longer than
// the threshold. Called by the decay scheduler.
func (ag *Aggregator) DecaySweep(ctx context.Context, cfg DecayConfig) int {
	ag.mu.Lock()
	defer ag.mu.Unlock()

	ids, err := ag.store.List(ctx)
	if err != nil {
		ag.logger.Printf("decay sweep list failed: %v", err)
		return 0
	}

	now := ag.clock.Now()
	decayed := 0
	for _, id := range ids {
		rec, err := ag.store.Get(ctx, id)
		if err != nil {
			continue
		}
		if now.Sub(rec.UpdatedAt) < cfg.InactivityThreshold {
			continue
		}
		next := Decay(rec, cfg.DecayRate, now, ag.policy)
		if next.CompositeScore == rec.CompositeScore {
			continue
		}
		if _, err := ag.commit(ctx, rec, next); err != nil {
			ag.logger.Printf("decay commit failed for %s: %v", id, err)
			continue
		}
		decayed++
	}
	return decayed
}

// load fetches the record or creates a fresh one for a first scoring event.
func (ag *Aggregator) load(ctx context.Context, identity core.AgentID) (*ReputationRecord, error) {
	rec, err := ag.store.Get(ctx, identity)
	if err == runtime.ErrNotFound {
		return NewRecord(identity, ag.clock.Now()), nil
	}
	if err != nil {
		return nil, fmt.Errorf("load reputation for %s: %w", identity, err)
	}
	return rec, nil
}

func (ag *Aggregator) commit(ctx context.Context, prev, next *ReputationRecord) (*ReputationRecord, error) {
	if err := ag.store.Put(ctx, next); err != nil {
		return nil, fmt.Errorf("persist reputation for %s: %w", next.Identity, err)
	}

	if ag.bus != nil && next.CompositeScore != prev.CompositeScore {
		ag.bus.Emit("trust.changed", "/amx/reputation", string(next.Identity), map[string]interface{}{
			"identity":   string(next.Identity),
			"score":      next.CompositeScore,
			"tier_label": string(next.TierLabel),
			"previous":   prev.CompositeScore,
		})
	}
	return next, nil
}
