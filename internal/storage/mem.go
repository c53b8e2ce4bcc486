package storage

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// MemStore is an in-process Store used as a test double and for dry runs.
// It is safe for concurrent use.
type MemStore struct {
	mu    sync.Mutex
	blobs map[string][]byte

	// FailPut and FailGet, when set, make the matching operation fail for
	// the given key. Tests use these to simulate backend errors.
	FailPut func(key string) error
	FailGet func(key string) error
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{blobs: make(map[string][]byte)}
}

// Put writes data at key, overwriting any prior content.
func (s *MemStore) Put(ctx context.Context, key string, data []byte) error {
	if s.FailPut != nil {
		if err := s.FailPut(key); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	s.blobs[key] = cp
	return nil
}

// Get reads the blob at key; absent keys return ok=false, not an error.
func (s *MemStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if s.FailGet != nil {
		if err := s.FailGet(key); err != nil {
			return nil, false, err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.blobs[key]
	if !ok {
		return nil, false, nil
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	return cp, true, nil
}

// List returns all keys under prefix, sorted.
func (s *MemStore) List(ctx context.Context, prefix string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var keys []string
	for k := range s.blobs {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// URI returns a mem:// URI for the given key.
func (s *MemStore) URI(key string) string { return "mem://" + key }

// Close is a no-op.
func (s *MemStore) Close() error { return nil }

// Len returns the number of stored blobs.
func (s *MemStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.blobs)
}
