// Package ledger keeps a tamper-evident audit trail of settlement payouts
// and stake mutations. Entries are leaves of a SHA-256 merkle tree; the root
// commits to the full history and changes on every append.
package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"
)

// Entry is one audit line.
type Entry struct {
	Timestamp time.Time `json:"timestamp"`
	Account   string    `json:"account"`
	Action    string    `json:"action"`
	Detail    string    `json:"detail"`
	Hash      string    `json:"hash"`
}

// Ledger is the append-only merkle log.
type Ledger struct {
	mu      sync.Mutex
	entries []Entry
	leaves  []string
	root    string
}

// NewLedger creates an empty audit ledger.
func NewLedger() *Ledger {
	return &Ledger{}
}

func hashData(data string) string {
	sum := sha256.Sum256([]byte(data))
	return hex.EncodeToString(sum[:])
}

// Append records one audit entry and recomputes the root.
func (l *Ledger) Append(account, action, detail string) Entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	e := Entry{
		Timestamp: time.Now().UTC(),
		Account:   account,
		Action:    action,
		Detail:    detail,
	}
	e.Hash = hashData(fmt.Sprintf("%s|%s|%s|%s", e.Timestamp.Format(time.RFC3339Nano), account, action, detail))

	l.entries = append(l.entries, e)
	l.leaves = append(l.leaves, e.Hash)
	l.root = merkleRoot(l.leaves)
	return e
}

// Root returns the current merkle root, empty before the first append.
func (l *Ledger) Root() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.root
}

// Entries returns a copy of the audit trail.
func (l *Ledger) Entries() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Entry(nil), l.entries...)
}

// Len returns the number of audit entries.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// merkleRoot folds the leaf level up pairwise, duplicating the last hash on
// odd levels.
func merkleRoot(leaves []string) string {
	if len(leaves) == 0 {
		return ""
	}

	level := append([]string(nil), leaves...)
	for len(level) > 1 {
		next := make([]string, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			left := level[i]
			right := left
			if i+1 < len(level) {
				right = level[i+1]
			}
			next = append(next, hashData(left+right))
		}
		level = next
	}
	return level[0]
}
