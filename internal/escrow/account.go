// Package escrow implements the disputable settlement state machine that
// moves escrowed funds between a client and a service-providing agent.
//
// Transitions are pure: (account, op, now) -> (account, settlement, error).
// The settlement carries payout instructions and the terminal reputation
// signal; the package never transfers value or mutates other accounts.
package escrow

import (
	"errors"
	"time"

	"github.com/amx/backend/internal/core"
)

// Status is the settlement state machine value.
type Status string

const (
	StatusCreated   Status = "Created"
	StatusActive    Status = "Active"
	StatusCompleted Status = "Completed"
	StatusCancelled Status = "Cancelled"
	StatusDisputed  Status = "Disputed"
	StatusExpired   Status = "Expired"
	StatusResolved  Status = "Resolved"
)

// Terminal reports whether no further transition is permitted. Terminal
// accounts are immutable; re-entry attempts fail with ErrInvalidStatus.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusCancelled, StatusExpired, StatusResolved:
		return true
	}
	return false
}

const (
	// MaxNoteLength bounds disputeReason and resolutionNotes, in bytes.
	MaxNoteLength = 280

	// SplitTotalBps is the full basis-point denomination of a refund split.
	SplitTotalBps = 10_000
)

var (
	ErrInvalidStatus          = errors.New("invalid escrow status for transition")
	ErrUnauthorized           = errors.New("caller not authorized for transition")
	ErrDeadlineNotReached     = errors.New("escrow deadline not reached")
	ErrInvalidSplit           = errors.New("refund split must sum to 10000 basis points")
	ErrDisputeReasonTooLong   = errors.New("dispute reason exceeds maximum length")
	ErrResolutionNotesTooLong = errors.New("resolution notes exceed maximum length")
)

// RefundSplit is the decided disbursement ratio in basis points. Present
// only once a resolution has been decided.
type RefundSplit struct {
	ClientBps   uint32 `json:"client_bps"`
	ProviderBps uint32 `json:"provider_bps"`
}

// EscrowAccount holds a client's funds against one work order.
type EscrowAccount struct {
	ID              string       `json:"id"`
	Client          core.AgentID `json:"client"`
	Provider        core.AgentID `json:"provider"`
	Amount          uint64       `json:"amount"`
	Status          Status       `json:"status"`
	CreatedAt       time.Time    `json:"created_at"`
	Deadline        time.Time    `json:"deadline"`
	DisputeReason   string       `json:"dispute_reason,omitempty"`
	ResolutionNotes string       `json:"resolution_notes,omitempty"`
	Split           *RefundSplit `json:"refund_split,omitempty"`
}

// Settlement is the effect bundle of a terminal transition: exact payout
// instructions plus the reputation signal for the provider.
type Settlement struct {
	Payouts []core.Payout `json:"payouts"`
	Signal  core.Signal   `json:"signal"`
}

// ClientPayout returns the amount directed to the client, zero if none.
func (s Settlement) ClientPayout(client core.AgentID) uint64 {
	return s.payoutFor(client)
}

// ProviderPayout returns the amount directed to the provider, zero if none.
func (s Settlement) ProviderPayout(provider core.AgentID) uint64 {
	return s.payoutFor(provider)
}

func (s Settlement) payoutFor(id core.AgentID) uint64 {
	var total uint64
	for _, p := range s.Payouts {
		if p.Recipient == id {
			total += p.Amount
		}
	}
	return total
}
