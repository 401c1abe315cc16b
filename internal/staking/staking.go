// Package staking converts staked collateral into an access tier, a daily
// API quota, voting weight and a reputation boost.
//
// All transitions are pure: (account, op, now) -> (account, error). The
// ledger runtime supplies serialization and persistence; nothing here reads
// external state mid-operation, so every transition is replayable.
package staking

import (
	"errors"
	"math"
	"time"

	"github.com/amx/backend/internal/core"
)

// QuotaWindow is the reset period for the daily API quota.
const QuotaWindow = 24 * time.Hour

var (
	ErrInsufficientStake = errors.New("insufficient stake for requested withdrawal")
	ErrLockupActive      = errors.New("stake is locked until lockup expiry")
	ErrQuotaExhausted    = errors.New("daily API quota exhausted")
)

// StakeAccount is the per-agent staking record. Tier is derived from
// AmountStaked and recomputed inside every balance-changing transition.
type StakeAccount struct {
	Owner             core.AgentID `json:"owner"`
	AmountStaked      uint64       `json:"amount_staked"`
	Tier              Tier         `json:"tier"`
	APICallsRemaining uint32       `json:"api_calls_remaining"`
	QuotaWindowStart  time.Time    `json:"quota_window_start"`
	LockedUntil       time.Time    `json:"locked_until"`
}

// VotingPower is a pure projection: one token staked, one vote.
func (a StakeAccount) VotingPower() uint64 { return a.AmountStaked }

// Zero reports whether the account has been fully unstaked.
func (a StakeAccount) Zero() bool { return a.AmountStaked == 0 }

// Stake increases the balance, extends the lockup to at least now+lockup,
// and recomputes the tier. A tier change refills the quota counter to the
// new tier's daily limit for the current window.
func Stake(a StakeAccount, amount uint64, now time.Time, lockup time.Duration) (StakeAccount, error) {
	if amount == 0 {
		return a, core.ErrInvalidAmount
	}
	if amount > math.MaxUint64-a.AmountStaked {
		return a, core.ErrInvalidAmount
	}

	a.AmountStaked += amount
	if until := now.Add(lockup); until.After(a.LockedUntil) {
		a.LockedUntil = until
	}
	if a.QuotaWindowStart.IsZero() {
		a.QuotaWindowStart = now
	}
	return retier(a), nil
}

// Unstake decreases the balance and recomputes the tier, which may drop.
// It fails while the lockup is active or if the balance is too small.
func Unstake(a StakeAccount, amount uint64, now time.Time) (StakeAccount, error) {
	if amount == 0 {
		return a, core.ErrInvalidAmount
	}
	if now.Before(a.LockedUntil) {
		return a, ErrLockupActive
	}
	if amount > a.AmountStaked {
		return a, ErrInsufficientStake
	}

	a.AmountStaked -= amount
	return retier(a), nil
}

// ConsumeAPICall spends one call from the daily quota, resetting the window
// first when 24h have elapsed. Whale accounts hold the unlimited sentinel
// and are never decremented.
func ConsumeAPICall(a StakeAccount, now time.Time) (StakeAccount, error) {
	if now.Sub(a.QuotaWindowStart) >= QuotaWindow {
		a.APICallsRemaining = a.Tier.Params().DailyQuota
		a.QuotaWindowStart = now
	}

	if a.APICallsRemaining == UnlimitedQuota {
		return a, nil
	}
	if a.APICallsRemaining == 0 {
		return a, ErrQuotaExhausted
	}

	a.APICallsRemaining--
	return a, nil
}

// retier recomputes the derived tier and, on a change, refills the quota
// counter to the new tier's daily limit.
func retier(a StakeAccount) StakeAccount {
	next := TierFor(a.AmountStaked)
	if next != a.Tier {
		a.Tier = next
		a.APICallsRemaining = next.Params().DailyQuota
	}
	return a
}
