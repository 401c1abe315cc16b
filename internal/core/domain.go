package core

import "errors"

// AgentID identifies an agent in the marketplace. It is an opaque key;
// the core never inspects its structure.
type AgentID string

// Payout is an instruction for the token transfer collaborator. The core
// computes what should be paid; it never moves value itself.
type Payout struct {
	Amount    uint64  `json:"amount"`
	Recipient AgentID `json:"recipient"`
}

// SignalType classifies a reputation-affecting settlement outcome.
type SignalType string

const (
	SignalJobCompleted SignalType = "job.completed" // full positive, provider delivered
	SignalJobNeutral   SignalType = "job.neutral"   // cancelled or expired, no fault assigned
	SignalJobResolved  SignalType = "job.resolved"  // dispute outcome, magnitude from the split
)

// Signal is the reputation-affecting event emitted by a terminal escrow
// transition. Delivery is at-least-once; consumers must dedupe on
// (SourceEscrowID, Type).
type Signal struct {
	Identity       AgentID    `json:"identity"`
	Type           SignalType `json:"type"`
	Magnitude      float64    `json:"magnitude"` // [-1, 1]
	SourceEscrowID string     `json:"source_escrow_id"`
}

// ErrInvalidAmount rejects zero-valued stakes and escrow fundings.
var ErrInvalidAmount = errors.New("invalid amount: must be greater than zero")
