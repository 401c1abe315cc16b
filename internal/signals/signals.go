// Package signals delivers reputation-affecting settlement outcomes to the
// aggregator. Delivery is at-least-once and idempotent: a signal is keyed by
// (sourceEscrowID, signalType), and a retried delivery of an already-applied
// key is a no-op, so reputation can never be inflated by retries.
package signals

import (
	"context"
	"sync"

	"github.com/amx/backend/internal/core"
)

// Sink applies a delivered signal. The reputation aggregator is the
// production sink.
type Sink interface {
	ApplyJobSignal(ctx context.Context, sig core.Signal) error
}

// DedupeLedger remembers which signal keys have been applied.
type DedupeLedger interface {
	// MarkDelivered atomically claims the key, reporting whether this caller
	// was first. The claimant applies the signal; everyone else skips it.
	MarkDelivered(ctx context.Context, sig core.Signal) (bool, error)

	// Unmark releases a claim whose apply failed so a retry can claim again.
	Unmark(ctx context.Context, sig core.Signal) error

	// Delivered reports whether the key was already applied.
	Delivered(ctx context.Context, sig core.Signal) (bool, error)
}

// DedupeKey is the idempotency key for a signal.
func DedupeKey(sig core.Signal) string {
	return sig.SourceEscrowID + ":" + string(sig.Type)
}

// MemoryDedupe is the in-process dedupe ledger.
type MemoryDedupe struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

// NewMemoryDedupe creates an empty dedupe ledger.
func NewMemoryDedupe() *MemoryDedupe {
	return &MemoryDedupe{seen: make(map[string]struct{})}
}

func (d *MemoryDedupe) MarkDelivered(ctx context.Context, sig core.Signal) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	key := DedupeKey(sig)
	if _, ok := d.seen[key]; ok {
		return false, nil
	}
	d.seen[key] = struct{}{}
	return true, nil
}

func (d *MemoryDedupe) Unmark(ctx context.Context, sig core.Signal) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.seen, DedupeKey(sig))
	return nil
}

func (d *MemoryDedupe) Delivered(ctx context.Context, sig core.Signal) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.seen[DedupeKey(sig)]
	return ok, nil
}
