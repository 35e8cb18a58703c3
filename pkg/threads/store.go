package threads

import (
	"context"
	"sync"
)

// Store persists session key to thread id mappings. Implementations must be
// safe for concurrent use and resolve concurrent inserts of the same key to
// a single surviving id.
type Store interface {
	// PutIfAbsent records id for key unless the key already has one. It
	// returns the id stored for key after the call and whether id won.
	PutIfAbsent(ctx context.Context, key SessionKey, id ThreadID) (ThreadID, bool, error)

	// Get returns the id stored for key.
	Get(ctx context.Context, key SessionKey) (ThreadID, bool, error)

	// Count returns the number of known keys. It may touch every entry.
	Count(ctx context.Context) (int64, error)

	// Ping checks that the backend is reachable. Its cost does not depend
	// on the number of keys.
	Ping(ctx context.Context) error

	// Close releases the store's resources.
	Close() error
}

// MemoryStore keeps mappings in process memory. Entries are never evicted.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[SessionKey]ThreadID
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[SessionKey]ThreadID)}
}

// PutIfAbsent implements Store.
func (s *MemoryStore) PutIfAbsent(_ context.Context, key SessionKey, id ThreadID) (ThreadID, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.entries[key]; ok {
		return existing, false, nil
	}
	s.entries[key] = id
	return id, true, nil
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, key SessionKey) (ThreadID, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.entries[key]
	return id, ok, nil
}

// Count implements Store.
func (s *MemoryStore) Count(context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.entries)), nil
}

// Ping implements Store.
func (s *MemoryStore) Ping(context.Context) error {
	return nil
}

// Close implements Store.
func (s *MemoryStore) Close() error {
	return nil
}
