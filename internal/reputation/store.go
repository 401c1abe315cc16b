package reputation

import (
	"context"
	"sync"

	"github.com/amx/backend/internal/core"
	"github.com/amx/backend/internal/runtime"
)

// Store is the persistence backend for reputation records.
type Store interface {
	Get(ctx context.Context, identity core.AgentID) (*ReputationRecord, error)
	Put(ctx context.Context, rec *ReputationRecord) error
	List(ctx context.Context) ([]core.AgentID, error)
	Close() error
}

// MemoryStore keeps records in-process. Default for local development and
// tests.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[core.AgentID]*ReputationRecord
}

// NewMemoryStore creates an empty in-memory reputation store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[core.AgentID]*ReputationRecord)}
}

func (s *MemoryStore) Get(ctx context.Context, identity core.AgentID) (*ReputationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[identity]
	if !ok {
		return nil, runtime.ErrNotFound
	}
	return rec.clone(), nil
}

func (s *MemoryStore) Put(ctx context.Context, rec *ReputationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.Identity] = rec.clone()
	return nil
}

func (s *MemoryStore) List(ctx context.Context) ([]core.AgentID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]core.AgentID, 0, len(s.records))
	for id := range s.records {
		out = append(out, id)
	}
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }
