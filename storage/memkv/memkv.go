// Package memkv provides an in-memory storage.KV. It backs the ephemeral
// session tier and is the store of choice in tests.
package memkv

import (
	"fmt"
	"sync"

	"github.com/quantrail/quantachat/storage"
)

// Store implements storage.KV in process memory.
type Store struct {
	values map[string][]byte
	lock   sync.RWMutex
}

var _ storage.KV = (*Store)(nil)

// New creates an empty in-memory store.
func New() *Store {
	return &Store{values: make(map[string][]byte)}
}

func (s *Store) Get(key string) ([]byte, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()

	value, ok := s.values[key]
	if !ok {
		return nil, fmt.Errorf("%s: %w", key, storage.ErrNotFound)
	}
	out := make([]byte, len(value))
	copy(out, value)
	return out, nil
}

func (s *Store) Put(key string, value []byte) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	stored := make([]byte, len(value))
	copy(stored, value)
	s.values[key] = stored
	return nil
}

func (s *Store) Delete(key string) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	delete(s.values, key)
	return nil
}

func (s *Store) Close() error {
	return nil
}
