package kvstore

import (
	"sort"
	"sync"
)

// MemoryKVStore is an in-memory KVStore implementation. It backs unit tests
// and single-node deployments that don't configure Postgres.
type MemoryKVStore struct {
	mutex   sync.RWMutex
	entries map[string][]byte
}

// NewMemoryKVStore creates an empty in-memory store.
func NewMemoryKVStore() *MemoryKVStore {
	return &MemoryKVStore{
		entries: make(map[string][]byte),
	}
}

// Get returns the value for key, or (nil, nil) if the key is absent.
func (s *MemoryKVStore) Get(key string) ([]byte, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	value, ok := s.entries[key]
	if !ok {
		return nil, nil
	}
	out := make([]byte, len(value))
	copy(out, value)
	return out, nil
}

// Set stores value under key, replacing any existing value.
func (s *MemoryKVStore) Set(key string, value []byte) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	stored := make([]byte, len(value))
	copy(stored, value)
	s.entries[key] = stored
	return nil
}

// Delete removes key. Deleting a missing key is not an error.
func (s *MemoryKVStore) Delete(key string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	delete(s.entries, key)
	return nil
}

// ListKeys returns a sorted page of keys.
func (s *MemoryKVStore) ListKeys(page, perPage int) ([]string, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	keys := make([]string, 0, len(s.entries))
	for key := range s.entries {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	start := page * perPage
	if start >= len(keys) {
		return []string{}, nil
	}
	end := start + perPage
	if end > len(keys) {
		end = len(keys)
	}
	return keys[start:end], nil
}
