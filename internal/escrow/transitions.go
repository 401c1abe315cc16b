package escrow

import (
	"time"

	"github.com/amx/backend/internal/core"
)

// Fund moves a freshly created escrow to Active, locking the amount and
// fixing the settlement deadline.
func Fund(a EscrowAccount, amount uint64, now time.Time, ttl time.Duration) (EscrowAccount, error) {
	if a.Status != StatusCreated {
		return a, ErrInvalidStatus
	}
	if amount == 0 {
		return a, core.ErrInvalidAmount
	}

	a.Amount = amount
	a.Status = StatusActive
	a.CreatedAt = now
	a.Deadline = now.Add(ttl)
	return a, nil
}

// Approve settles the full amount to the provider. Only the client may
// approve; this is the sole caller-restricted happy-path transition.
func Approve(a EscrowAccount, caller core.AgentID, now time.Time) (EscrowAccount, Settlement, error) {
	if a.Status != StatusActive {
		return a, Settlement{}, ErrInvalidStatus
	}
	if caller != a.Client {
		return a, Settlement{}, ErrUnauthorized
	}

	a.Status = StatusCompleted
	return a, Settlement{
		Payouts: []core.Payout{{Amount: a.Amount, Recipient: a.Provider}},
		Signal: core.Signal{
			Identity:       a.Provider,
			Type:           core.SignalJobCompleted,
			Magnitude:      1,
			SourceEscrowID: a.ID,
		},
	}, nil
}

// Cancel refunds the full amount to the client before work starts. Either
// party may cancel; no judgment of fault is made, so the signal is neutral.
func Cancel(a EscrowAccount, caller core.AgentID, now time.Time) (EscrowAccount, Settlement, error) {
	if a.Status != StatusActive {
		return a, Settlement{}, ErrInvalidStatus
	}
	if caller != a.Client && caller != a.Provider {
		return a, Settlement{}, ErrUnauthorized
	}

	a.Status = StatusCancelled
	return a, neutralRefund(a), nil
}

// Dispute freezes settlement pending arbitration. Either party may dispute
// while the deadline has not passed; past the deadline the only path out of
// Active is expiry.
func Dispute(a EscrowAccount, caller core.AgentID, reason string, now time.Time) (EscrowAccount, error) {
	if a.Status != StatusActive {
		return a, ErrInvalidStatus
	}
	if caller != a.Client && caller != a.Provider {
		return a, ErrUnauthorized
	}
	if now.After(a.Deadline) {
		return a, ErrInvalidStatus
	}
	if len(reason) > MaxNoteLength {
		return a, ErrDisputeReasonTooLong
	}

	a.Status = StatusDisputed
	a.DisputeReason = reason
	return a, nil
}

// Resolve settles a disputed escrow along the decided split. Disbursement is
// exact: the provider share rounds down and the integer remainder goes to
// the client, so the payouts always sum to the escrowed amount.
func Resolve(a EscrowAccount, split RefundSplit, notes string, now time.Time) (EscrowAccount, Settlement, error) {
	if a.Status != StatusDisputed {
		return a, Settlement{}, ErrInvalidStatus
	}
	if uint64(split.ClientBps)+uint64(split.ProviderBps) != SplitTotalBps {
		return a, Settlement{}, ErrInvalidSplit
	}
	if len(notes) > MaxNoteLength {
		return a, Settlement{}, ErrResolutionNotesTooLong
	}

	// The product amount*bps can exceed 64 bits, so split the amount into
	// basis-point quotient and remainder before scaling.
	q, r := a.Amount/SplitTotalBps, a.Amount%SplitTotalBps
	providerPayout := q*uint64(split.ProviderBps) + r*uint64(split.ProviderBps)/SplitTotalBps
	clientPayout := a.Amount - providerPayout

	a.Status = StatusResolved
	a.ResolutionNotes = notes
	a.Split = &split

	// A 100%-to-provider resolution is a full positive signal, 100%-to-client
	// a full negative one; intermediate splits interpolate linearly.
	magnitude := 2*float64(split.ProviderBps)/SplitTotalBps - 1

	return a, Settlement{
		Payouts: []core.Payout{
			{Amount: clientPayout, Recipient: a.Client},
			{Amount: providerPayout, Recipient: a.Provider},
		},
		Signal: core.Signal{
			Identity:       a.Provider,
			Type:           core.SignalJobResolved,
			Magnitude:      magnitude,
			SourceEscrowID: a.ID,
		},
	}, nil
}

// Expire refunds the client after the deadline passed with no action taken.
// Any party or a periodic sweep may trigger it; the deadline itself is the
// only guard.
func Expire(a EscrowAccount, now time.Time) (EscrowAccount, Settlement, error) {
	if a.Status != StatusActive {
		return a, Settlement{}, ErrInvalidStatus
	}
	if !now.After(a.Deadline) {
		return a, Settlement{}, ErrDeadlineNotReached
	}

	a.Status = StatusExpired
	return a, neutralRefund(a), nil
}

// neutralRefund builds the full-refund settlement shared by Cancel and
// Expire. The account's status must already be set terminal by the caller.
func neutralRefund(a EscrowAccount) Settlement {
	return Settlement{
		Payouts: []core.Payout{{Amount: a.Amount, Recipient: a.Client}},
		Signal: core.Signal{
			Identity:       a.Provider,
			Type:           core.SignalJobNeutral,
			Magnitude:      0,
			SourceEscrowID: a.ID,
		},
	}
}
