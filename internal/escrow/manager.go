package escrow

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/amx/backend/internal/core"
	"github.com/amx/backend/internal/events"
	"github.com/amx/backend/internal/ledger"
	"github.com/amx/backend/internal/reputation"
	"github.com/amx/backend/internal/runtime"
	"github.com/amx/backend/internal/staking"
)

// SignalDispatcher hands terminal reputation signals to the delivery layer.
// Delivery is asynchronous and at-least-once; the escrow state is already
// committed when Enqueue is called, and a delivery failure never rolls a
// settlement back.
type SignalDispatcher interface {
	Enqueue(sig core.Signal)
}

// TierSource reads staking state for tier-gated escrow features.
type TierSource interface {
	Get(ctx context.Context, owner core.AgentID) (staking.StakeAccount, error)
}

// ScoreSource reads reputation records for listing requirements.
type ScoreSource interface {
	Get(ctx context.Context, identity core.AgentID) (*reputation.ReputationRecord, error)
}

// Options tunes the settlement policy around the state machine.
type Options struct {
	// TTL is the window between funding and the settlement deadline.
	TTL time.Duration

	// MinProviderScore gates escrow creation on the provider's composite
	// score. Zero disables the gate.
	MinProviderScore int

	// ArbiterMinTier is the staking tier required to resolve disputes.
	ArbiterMinTier staking.Tier
}

// DefaultOptions returns the stock settlement policy.
func DefaultOptions() Options {
	return Options{
		TTL:            72 * time.Hour,
		ArbiterMinTier: staking.TierPro,
	}
}

// ErrProviderScoreTooLow rejects listings below the minimum composite score.
var ErrProviderScoreTooLow = fmt.Errorf("provider composite score below listing minimum")

// Manager binds the pure settlement transitions to the ledger runtime and
// fans terminal effects out to the signal deliverer, the audit ledger and
// the event bus, strictly after the escrow state has committed.
type Manager struct {
	store      runtime.AccountStore
	clock      runtime.Clock
	opts       Options
	dispatcher SignalDispatcher
	tiers      TierSource
	scores     ScoreSource
	audit      *ledger.Ledger
	bus        events.EventEmitter
	metrics    *Metrics
	logger     *log.Logger
}

// NewManager creates an escrow manager. dispatcher, tiers, scores, audit,
// bus and metrics may each be nil; the corresponding effect is skipped.
func NewManager(store runtime.AccountStore, clock runtime.Clock, opts Options, dispatcher SignalDispatcher, tiers TierSource, scores ScoreSource, audit *ledger.Ledger, bus events.EventEmitter, metrics *Metrics) *Manager {
	if opts.TTL <= 0 {
		opts.TTL = DefaultOptions().TTL
	}
	return &Manager{
		store:      store,
		clock:      clock,
		opts:       opts,
		dispatcher: dispatcher,
		tiers:      tiers,
		scores:     scores,
		audit:      audit,
		bus:        bus,
		metrics:    metrics,
		logger:     log.New(log.Writer(), "[ESCROW] ", log.LstdFlags),
	}
}

func escrowKey(id string) string { return "escrow:" + id }

// Create registers a work order between a client and provider. The account
// starts in Created and holds no funds until Fund commits.
func (m *Manager) Create(ctx context.Context, client, provider core.AgentID) (EscrowAccount, error) {
	if m.opts.MinProviderScore > 0 && m.scores != nil {
		rec, err := m.scores.Get(ctx, provider)
		if err != nil && err != runtime.ErrNotFound {
			return EscrowAccount{}, fmt.Errorf("provider score lookup: %w", err)
		}
		score := 0
		if rec != nil {
			score = rec.CompositeScore
		}
		if score < m.opts.MinProviderScore {
			return EscrowAccount{}, ErrProviderScoreTooLow
		}
	}

	acct := EscrowAccount{
		ID:       uuid.NewString(),
		Client:   client,
		Provider: provider,
		Status:   StatusCreated,
	}

	_, err := m.store.Update(ctx, escrowKey(acct.ID), func(rec runtime.Record) (runtime.Record, error) {
		encoded, err := json.Marshal(acct)
		if err != nil {
			return runtime.Record{}, err
		}
		rec.Bytes = encoded
		return rec, nil
	})
	if err != nil {
		return EscrowAccount{}, err
	}
	return acct, nil
}

// Fund locks the client's amount and activates the work order.
func (m *Manager) Fund(ctx context.Context, id string, amount uint64) (EscrowAccount, error) {
	acct, _, err := m.transition(ctx, id, func(a EscrowAccount, now time.Time) (EscrowAccount, *Settlement, error) {
		next, err := Fund(a, amount, now, m.opts.TTL)
		return next, nil, err
	})
	if err != nil {
		return EscrowAccount{}, err
	}

	m.emit(events.EventEscrowFunded, acct, nil)
	return acct, nil
}

// Approve settles the full amount to the provider. Client only.
func (m *Manager) Approve(ctx context.Context, id string, caller core.AgentID) (EscrowAccount, Settlement, error) {
	return m.settle(ctx, id, events.EventEscrowCompleted, func(a EscrowAccount, now time.Time) (EscrowAccount, *Settlement, error) {
		next, s, err := Approve(a, caller, now)
		if err != nil {
			return next, nil, err
		}
		return next, &s, nil
	})
}

// Cancel refunds the client before work starts. Either party.
func (m *Manager) Cancel(ctx context.Context, id string, caller core.AgentID) (EscrowAccount, Settlement, error) {
	return m.settle(ctx, id, events.EventEscrowCancelled, func(a EscrowAccount, now time.Time) (EscrowAccount, *Settlement, error) {
		next, s, err := Cancel(a, caller, now)
		if err != nil {
			return next, nil, err
		}
		return next, &s, nil
	})
}

// Dispute freezes settlement pending arbitration.
func (m *Manager) Dispute(ctx context.Context, id string, caller core.AgentID, reason string) (EscrowAccount, error) {
	acct, _, err := m.transition(ctx, id, func(a EscrowAccount, now time.Time) (EscrowAccount, *Settlement, error) {
		next, err := Dispute(a, caller, reason, now)
		return next, nil, err
	})
	if err != nil {
		return EscrowAccount{}, err
	}

	if m.metrics != nil {
		m.metrics.DisputesOpen.Inc()
	}
	m.emit(events.EventEscrowDisputed, acct, nil)
	return acct, nil
}

// Resolve settles a disputed escrow along the arbiter's split. The arbiter
// must hold at least the configured staking tier.
func (m *Manager) Resolve(ctx context.Context, id string, arbiter core.AgentID, split RefundSplit, notes string) (EscrowAccount, Settlement, error) {
	if m.tiers != nil && m.opts.ArbiterMinTier > staking.TierNone {
		stake, err := m.tiers.Get(ctx, arbiter)
		if err != nil && err != runtime.ErrNotFound {
			return EscrowAccount{}, Settlement{}, fmt.Errorf("arbiter tier lookup: %w", err)
		}
		if stake.Tier < m.opts.ArbiterMinTier {
			return EscrowAccount{}, Settlement{}, ErrUnauthorized
		}
	}

	acct, settlement, err := m.settle(ctx, id, events.EventEscrowResolved, func(a EscrowAccount, now time.Time) (EscrowAccount, *Settlement, error) {
		next, s, err := Resolve(a, split, notes, now)
		if err != nil {
			return next, nil, err
		}
		return next, &s, nil
	})
	if err != nil {
		return acct, settlement, err
	}

	if m.metrics != nil {
		m.metrics.DisputesOpen.Dec()
	}
	return acct, settlement, nil
}

// Expire refunds the client after the deadline passed. Callable by anyone,
// including the periodic sweeper.
func (m *Manager) Expire(ctx context.Context, id string) (EscrowAccount, Settlement, error) {
	return m.settle(ctx, id, events.EventEscrowExpired, func(a EscrowAccount, now time.Time) (EscrowAccount, *Settlement, error) {
		next, s, err := Expire(a, now)
		if err != nil {
			return next, nil, err
		}
		return next, &s, nil
	})
}

// Get returns the escrow account.
func (m *Manager) Get(ctx context.Context, id string) (EscrowAccount, error) {
	rec, err := m.store.Get(ctx, escrowKey(id))
	if err != nil {
		return EscrowAccount{}, err
	}
	var acct EscrowAccount
	if err := json.Unmarshal(rec.Bytes, &acct); err != nil {
		return EscrowAccount{}, fmt.Errorf("decode escrow %s: %w", id, err)
	}
	return acct, nil
}

// settle runs a terminal transition, then fans out effects in the fixed
// order: commit, audit, metrics, event, signal.
func (m *Manager) settle(ctx context.Context, id, eventType string, fn func(EscrowAccount, time.Time) (EscrowAccount, *Settlement, error)) (EscrowAccount, Settlement, error) {
	acct, settlement, err := m.transition(ctx, id, fn)
	if err != nil {
		return EscrowAccount{}, Settlement{}, err
	}
	if settlement == nil {
		return acct, Settlement{}, nil
	}

	if m.audit != nil {
		m.audit.Append(string(acct.Client), "SETTLE:"+string(acct.Status),
			fmt.Sprintf("escrow=%s amount=%d client=%d provider=%d",
				acct.ID, acct.Amount, settlement.ClientPayout(acct.Client), settlement.ProviderPayout(acct.Provider)))
	}
	if m.metrics != nil {
		m.metrics.ObserveSettlement(acct, *settlement)
	}
	m.emit(eventType, acct, settlement)

	if m.dispatcher != nil {
		m.dispatcher.Enqueue(settlement.Signal)
	}
	return acct, *settlement, nil
}

// transition loads, applies and persists one state machine step under the
// runtime's per-account serialization. Errors leave the account unchanged.
func (m *Manager) transition(ctx context.Context, id string, fn func(EscrowAccount, time.Time) (EscrowAccount, *Settlement, error)) (EscrowAccount, *Settlement, error) {
	now := m.clock.Now()
	var after EscrowAccount
	var settlement *Settlement

	_, err := m.store.Update(ctx, escrowKey(id), func(rec runtime.Record) (runtime.Record, error) {
		if len(rec.Bytes) == 0 {
			return runtime.Record{}, runtime.ErrNotFound
		}
		var acct EscrowAccount
		if err := json.Unmarshal(rec.Bytes, &acct); err != nil {
			return runtime.Record{}, fmt.Errorf("decode escrow %s: %w", id, err)
		}

		next, s, err := fn(acct, now)
		if err != nil {
			return runtime.Record{}, err
		}
		after = next
		settlement = s

		encoded, err := json.Marshal(next)
		if err != nil {
			return runtime.Record{}, err
		}
		rec.Bytes = encoded
		return rec, nil
	})
	if err != nil {
		return EscrowAccount{}, nil, err
	}
	return after, settlement, nil
}

func (m *Manager) emit(eventType string, acct EscrowAccount, settlement *Settlement) {
	if m.bus == nil {
		return
	}
	data := map[string]interface{}{
		"escrow_id": acct.ID,
		"status":    string(acct.Status),
		"client":    string(acct.Client),
		"provider":  string(acct.Provider),
		"amount":    acct.Amount,
	}
	if settlement != nil {
		data["client_payout"] = settlement.ClientPayout(acct.Client)
		data["provider_payout"] = settlement.ProviderPayout(acct.Provider)
	}
	m.bus.Emit(eventType, "/amx/settlement", acct.ID, data)
}
