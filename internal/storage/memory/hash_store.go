package memory

import (
	"context"
	"sync"

	"github.com/JakeFAU/job-ingest-crawler/internal/crawler"
)

// HashStore remembers job hashes for the life of the process.
type HashStore struct {
	mu     sync.RWMutex
	hashes map[string]struct{}
}

var _ crawler.HashStore = (*HashStore)(nil)

// NewHashStore creates an empty HashStore.
func NewHashStore() *HashStore {
	return &HashStore{hashes: make(map[string]struct{})}
}

// Known returns the subset of hashes already remembered.
func (s *HashStore) Known(_ context.Context, hashes []string) (map[string]struct{}, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]struct{})
	for _, h := range hashes {
		if _, ok := s.hashes[h]; ok {
			out[h] = struct{}{}
		}
	}
	return out, nil
}

// Remember records hashes.
func (s *HashStore) Remember(_ context.Context, hashes []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, h := range hashes {
		s.hashes[h] = struct{}{}
	}
	return nil
}

// Len reports how many hashes are stored.
func (s *HashStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.hashes)
}
