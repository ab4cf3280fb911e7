package session

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is the single-process fallback used when Redis is not
// configured. It cannot share sessions across instances; scaled-out
// deployments must configure REDIS_URL.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
}

type memoryEntry struct {
	identity  Identity
	expiresAt time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]memoryEntry)}
}

func (s *MemoryStore) Save(ctx context.Context, tokenHash string, identity Identity, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[tokenHash] = memoryEntry{identity: identity, expiresAt: expiresAt}
	return nil
}

func (s *MemoryStore) Resolve(ctx context.Context, tokenHash string) (Identity, error) {
	s.mu.RLock()
	entry, ok := s.entries[tokenHash]
	s.mu.RUnlock()
	if !ok || time.Now().After(entry.expiresAt) {
		return Identity{}, ErrNotFound
	}
	return entry.identity, nil
}

func (s *MemoryStore) Revoke(ctx context.Context, tokenHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, tokenHash)
	return nil
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

func (s *MemoryStore) Close() error {
	return nil
}
