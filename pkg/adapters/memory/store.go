package memory

import (
	"context"
	"sync"

	"github.com/aretw0/wadialog/pkg/domain"
)

// Store implements ports.SessionBackend in memory.
// Safe for concurrent use.
type Store struct {
	data map[string]map[string][]byte
	mu   sync.RWMutex
}

// NewStore creates a new in-memory store.
func NewStore() *Store {
	return &Store{
		data: make(map[string]map[string][]byte),
	}
}

// Get returns a copy of the stored value so callers can't mutate the store.
func (s *Store) Get(ctx context.Context, scope, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	val, ok := s.data[scope][key]
	if !ok {
		return nil, domain.ErrKeyNotFound
	}
	return append([]byte(nil), val...), nil
}

// Set stores a copy of value.
func (s *Store) Set(ctx context.Context, scope, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	bucket, ok := s.data[scope]
	if !ok {
		bucket = make(map[string][]byte)
		s.data[scope] = bucket
	}
	bucket[key] = append([]byte(nil), value...)
	return nil
}

// Delete removes keys from scope.
func (s *Store) Delete(ctx context.Context, scope string, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	bucket, ok := s.data[scope]
	if !ok {
		return nil
	}
	for _, k := range keys {
		delete(bucket, k)
	}
	if len(bucket) == 0 {
		delete(s.data, scope)
	}
	return nil
}

// Keys lists the keys of scope.
func (s *Store) Keys(ctx context.Context, scope string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.data[scope]))
	for k := range s.data[scope] {
		keys = append(keys, k)
	}
	return keys, nil
}

// DeleteAll removes scope entirely.
func (s *Store) DeleteAll(ctx context.Context, scope string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, scope)
	return nil
}

// Scopes returns the scopes currently holding data.
func (s *Store) Scopes() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	scopes := make([]string, 0, len(s.data))
	for id := range s.data {
		scopes = append(scopes, id)
	}
	return scopes
}
