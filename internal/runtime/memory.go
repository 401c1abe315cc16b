package runtime

import (
	"context"
	"strings"
	"sync"
)

// MemoryStore is the in-process AccountStore. Serialization is a per-key
// mutex held across the whole observe-then-write of Update.
type MemoryStore struct {
	mu       sync.RWMutex
	accounts map[string]*memoryEntry
}

type memoryEntry struct {
	mu  sync.Mutex
	rec Record
}

// NewMemoryStore creates an empty in-memory account store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{accounts: make(map[string]*memoryEntry)}
}

func (s *MemoryStore) Get(ctx context.Context, key string) (Record, error) {
	s.mu.RLock()
	entry, ok := s.accounts[key]
	s.mu.RUnlock()
	if !ok {
		return Record{}, ErrNotFound
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	return cloneRecord(entry.rec), nil
}

func (s *MemoryStore) Update(ctx context.Context, key string, fn UpdateFunc) (Record, error) {
	s.mu.Lock()
	entry, ok := s.accounts[key]
	created := !ok
	if created {
		entry = &memoryEntry{rec: Record{Key: key}}
		s.accounts[key] = entry
	}
	s.mu.Unlock()

	entry.mu.Lock()
	defer entry.mu.Unlock()

	next, err := fn(cloneRecord(entry.rec))
	if err != nil {
		// A rejected first write must not leave a phantom record behind.
		if created && entry.rec.Version == 0 {
			s.mu.Lock()
			delete(s.accounts, key)
			s.mu.Unlock()
		}
		return Record{}, err
	}

	next.Key = key
	next.Version = entry.rec.Version + 1
	entry.rec = cloneRecord(next)
	return next, nil
}

func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[key]; !ok {
		return ErrNotFound
	}
	delete(s.accounts, key)
	return nil
}

func (s *MemoryStore) Close() error { return nil }

// ListKeys returns every stored key with the given prefix. Used by the
// expiry sweeper and the decay scheduler to walk accounts.
func (s *MemoryStore) ListKeys(ctx context.Context, prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.accounts))
	for k := range s.accounts {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

func cloneRecord(r Record) Record {
	out := r
	if r.Bytes != nil {
		out.Bytes = make([]byte, len(r.Bytes))
		copy(out.Bytes, r.Bytes)
	}
	return out
}
