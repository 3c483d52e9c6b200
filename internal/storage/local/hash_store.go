package local

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/job-ingest-crawler/internal/crawler"
)

const defaultHashTTL = 30 * 24 * time.Hour

type hashEntry struct {
	Hash   string `json:"hash"`
	SeenAt int64  `json:"seen_at"`
}

// HashStoreConfig configures the file-backed hash cache.
type HashStoreConfig struct {
	Path string
	TTL  time.Duration
}

// HashStore is a JSON file of job hashes the backend accepted. Entries older
// than the TTL are dropped on load, so a posting reappears for re-ingest
// once a month even when unchanged.
type HashStore struct {
	mu     sync.Mutex
	path   string
	ttl    time.Duration
	clock  crawler.Clock
	seen   map[string]int64
	logger *zap.Logger
}

var _ crawler.HashStore = (*HashStore)(nil)

// NewHashStore opens or creates the cache file. A corrupt file is logged and
// treated as empty.
func NewHashStore(cfg HashStoreConfig, clock crawler.Clock, logger *zap.Logger) (*HashStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("hash store path is required: %w", crawler.ErrMissingConfig)
	}
	if cfg.TTL <= 0 {
		cfg.TTL = defaultHashTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := ensureDir(filepath.Dir(cfg.Path)); err != nil {
		return nil, err
	}
	s := &HashStore{
		path:   cfg.Path,
		ttl:    cfg.TTL,
		clock:  clock,
		seen:   make(map[string]int64),
		logger: logger.Named("hash_store"),
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

// Known returns the subset of hashes present and unexpired.
func (s *HashStore) Known(_ context.Context, hashes []string) (map[string]struct{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := s.clock.Now().Add(-s.ttl).UnixMilli()
	out := make(map[string]struct{})
	for _, h := range hashes {
		if ts, ok := s.seen[h]; ok && ts > cutoff {
			out[h] = struct{}{}
		}
	}
	return out, nil
}

// Remember stamps hashes with the current time and rewrites the file.
func (s *HashStore) Remember(_ context.Context, hashes []string) error {
	if len(hashes) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock.Now().UnixMilli()
	for _, h := range hashes {
		s.seen[h] = now
	}
	return s.save()
}

func (s *HashStore) load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read hash store: %w", err)
	}
	var entries []hashEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		s.logger.Warn("ignoring corrupt hash store", zap.String("path", s.path), zap.Error(err))
		return nil
	}
	cutoff := s.clock.Now().Add(-s.ttl).UnixMilli()
	for _, e := range entries {
		if e.SeenAt > cutoff {
			s.seen[e.Hash] = e.SeenAt
		}
	}
	s.logger.Info("loaded hash store",
		zap.String("path", s.path),
		zap.Int("loaded", len(s.seen)),
		zap.Int("expired", len(entries)-len(s.seen)),
	)
	return nil
}

func (s *HashStore) save() error {
	cutoff := s.clock.Now().Add(-s.ttl).UnixMilli()
	entries := make([]hashEntry, 0, len(s.seen))
	for h, ts := range s.seen {
		if ts <= cutoff {
			delete(s.seen, h)
			continue
		}
		entries = append(entries, hashEntry{Hash: h, SeenAt: ts})
	}
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal hash store: %w", err)
	}
	if err := writeAtomic(s.path, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("save hash store: %w", err)
	}
	return nil
}
