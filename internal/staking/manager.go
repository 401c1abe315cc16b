package staking

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/amx/backend/internal/core"
	"github.com/amx/backend/internal/runtime"
)

// DefaultLockupPeriod applies when no lockup is configured.
const DefaultLockupPeriod = 7 * 24 * time.Hour

// TierListener is notified after a committed stake mutation changed the
// account's tier. The reputation aggregator uses it to refresh the
// stake-derived component and boost.
type TierListener interface {
	OnTierChange(ctx context.Context, owner core.AgentID, tier Tier)
}

// Manager binds the pure staking transitions to the ledger runtime. It
// loads the account, applies the transition, persists the result, and only
// then reports side effects (tier changes, metrics).
type Manager struct {
	store   runtime.AccountStore
	clock   runtime.Clock
	lockup  time.Duration
	metrics *Metrics
	tiers   TierListener
	logger  *log.Logger
}

// NewManager creates a staking manager. metrics and tiers may be nil.
func NewManager(store runtime.AccountStore, clock runtime.Clock, lockup time.Duration, metrics *Metrics, tiers TierListener) *Manager {
	if lockup <= 0 {
		lockup = DefaultLockupPeriod
	}
	return &Manager{
		store:   store,
		clock:   clock,
		lockup:  lockup,
		metrics: metrics,
		tiers:   tiers,
		logger:  log.New(log.Writer(), "[STAKING] ", log.LstdFlags),
	}
}

func accountKey(owner core.AgentID) string { return "stake:" + string(owner) }

// Stake adds collateral for the owner, creating the account on first stake.
func (m *Manager) Stake(ctx context.Context, owner core.AgentID, amount uint64) (StakeAccount, error) {
	return m.mutate(ctx, owner, func(acct StakeAccount, now time.Time) (StakeAccount, error) {
		return Stake(acct, amount, now, m.lockup)
	})
}

// Unstake withdraws collateral. A full unstake past the lockup zeroes the
// account; the zeroed record is kept for audit.
func (m *Manager) Unstake(ctx context.Context, owner core.AgentID, amount uint64) (StakeAccount, error) {
	return m.mutate(ctx, owner, func(acct StakeAccount, now time.Time) (StakeAccount, error) {
		return Unstake(acct, amount, now)
	})
}

// ConsumeAPICall spends one quota unit for the owner.
func (m *Manager) ConsumeAPICall(ctx context.Context, owner core.AgentID) (StakeAccount, error) {
	return m.mutate(ctx, owner, ConsumeAPICall)
}

// Get returns the current stake account.
func (m *Manager) Get(ctx context.Context, owner core.AgentID) (StakeAccount, error) {
	rec, err := m.store.Get(ctx, accountKey(owner))
	if err != nil {
		return StakeAccount{}, err
	}
	return decodeAccount(rec.Bytes, owner)
}

// VotingPower returns the owner's vote weight; unknown owners hold zero.
func (m *Manager) VotingPower(ctx context.Context, owner core.AgentID) (uint64, error) {
	acct, err := m.Get(ctx, owner)
	if err == runtime.ErrNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return acct.VotingPower(), nil
}

func (m *Manager) mutate(ctx context.Context, owner core.AgentID, fn func(StakeAccount, time.Time) (StakeAccount, error)) (StakeAccount, error) {
	now := m.clock.Now()
	var before, after StakeAccount

	_, err := m.store.Update(ctx, accountKey(owner), func(rec runtime.Record) (runtime.Record, error) {
		acct, err := decodeAccount(rec.Bytes, owner)
		if err != nil {
			return runtime.Record{}, err
		}
		before = acct

		next, err := fn(acct, now)
		if err != nil {
			return runtime.Record{}, err
		}
		after = next

		encoded, err := json.Marshal(next)
		if err != nil {
			return runtime.Record{}, fmt.Errorf("encode stake account %s: %w", owner, err)
		}
		rec.Bytes = encoded
		return rec, nil
	})
	if err != nil {
		if m.metrics != nil && err == ErrQuotaExhausted {
			m.metrics.QuotaExhausted.WithLabelValues(string(owner)).Inc()
		}
		return StakeAccount{}, err
	}

	if m.metrics != nil {
		m.metrics.Observe(owner, before, after)
	}
	if after.Tier != before.Tier {
		m.logger.Printf("tier change for %s: %s -> %s (staked=%d)", owner, before.Tier, after.Tier, after.AmountStaked)
		if m.tiers != nil {
			m.tiers.OnTierChange(ctx, owner, after.Tier)
		}
	}
	return after, nil
}

func decodeAccount(raw []byte, owner core.AgentID) (StakeAccount, error) {
	if len(raw) == 0 {
		return StakeAccount{Owner: owner, Tier: TierNone}, nil
	}
	var acct StakeAccount
	if err := json.Unmarshal(raw, &acct); err != nil {
		return StakeAccount{}, fmt.Errorf("decode stake account %s: %w", owner, err)
	}
	return acct, nil
}
