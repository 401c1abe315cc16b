// Package runtime provides the ledger runtime the settlement core runs on:
// durable storage of account bytes with single-writer serialization per
// account, and the trusted clock that supplies `now` to every transition.
//
// The core's transition functions are pure; this package is the only place
// that observes-then-writes account state, and it guarantees no two logical
// operations do so concurrently for the same key.
package runtime

import (
	"context"
	"errors"
	"time"
)

// Record is one versioned account as stored bytes. Version increments on
// every committed mutation and backs optimistic conflict detection in the
// non-locking backends.
type Record struct {
	Key     string
	Version uint64
	Bytes   []byte
}

var (
	// ErrNotFound is returned when no account exists under the key.
	ErrNotFound = errors.New("account not found")

	// ErrVersionConflict is returned when an optimistic backend loses the
	// observe-then-write race too many times in a row.
	ErrVersionConflict = errors.New("account version conflict")
)

// UpdateFunc transforms the current record bytes into the next ones.
// Returning an error aborts the update with no mutation. For a key with no
// existing record the input has Version 0 and nil Bytes.
type UpdateFunc func(Record) (Record, error)

// AccountStore persists account bytes. Update serializes mutations per key:
// the callback runs with exclusive ownership of the record, and the returned
// record is committed with a bumped version before any other writer for the
// same key proceeds.
type AccountStore interface {
	Get(ctx context.Context, key string) (Record, error)
	Update(ctx context.Context, key string, fn UpdateFunc) (Record, error)
	Delete(ctx context.Context, key string) error
	Close() error
}

// KeyLister is implemented by stores that can enumerate account keys by
// prefix. The escrow sweeper and reputation decay scheduler use it; stores
// without it are simply not swept.
type KeyLister interface {
	ListKeys(ctx context.Context, prefix string) ([]string, error)
}

// Clock supplies the trusted timestamp for transitions. The core never calls
// time.Now directly so replays and tests can pin time.
type Clock interface {
	Now() time.Time
}

// SystemClock is the production clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }

// FixedClock pins Now to a settable instant. Test helper.
type FixedClock struct {
	T time.Time
}

func (c *FixedClock) Now() time.Time { return c.T }

// Advance moves the fixed clock forward.
func (c *FixedClock) Advance(d time.Duration) { c.T = c.T.Add(d) }
