package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/JakeFAU/job-ingest-crawler/internal/crawler"
)

const defaultHashTTL = 30 * 24 * time.Hour

// HashStore keeps accepted job hashes in a table shared by every crawler
// instance.
type HashStore struct {
	pool  Pool
	table string
	ttl   time.Duration
	clock crawler.Clock
}

var _ crawler.HashStore = (*HashStore)(nil)

// NewHashStore wraps pool. ttl bounds how long a hash counts as known.
func NewHashStore(pool Pool, table string, ttl time.Duration, clock crawler.Clock) (*HashStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	table, err := checkTable(table, "seen_job_hashes")
	if err != nil {
		return nil, err
	}
	if ttl <= 0 {
		ttl = defaultHashTTL
	}
	return &HashStore{pool: pool, table: table, ttl: ttl, clock: clock}, nil
}

// EnsureSchema creates the table when missing.
func (s *HashStore) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	hash    text PRIMARY KEY,
	seen_at timestamptz NOT NULL
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create %s: %w", s.table, err)
	}
	return nil
}

// Known returns the subset of hashes seen within the TTL.
func (s *HashStore) Known(ctx context.Context, hashes []string) (map[string]struct{}, error) {
	out := make(map[string]struct{})
	if len(hashes) == 0 {
		return out, nil
	}
	query := fmt.Sprintf(`SELECT hash FROM %s WHERE hash = ANY($1) AND seen_at > $2`, s.table)
	rows, err := s.pool.Query(ctx, query, hashes, s.clock.Now().Add(-s.ttl))
	if err != nil {
		return nil, fmt.Errorf("query known hashes: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, fmt.Errorf("scan known hash: %w", err)
		}
		out[h] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate known hashes: %w", err)
	}
	return out, nil
}

// Remember upserts hashes with the current time.
func (s *HashStore) Remember(ctx context.Context, hashes []string) error {
	if len(hashes) == 0 {
		return nil
	}
	query := fmt.Sprintf(`
INSERT INTO %s (hash, seen_at)
SELECT unnest($1::text[]), $2
ON CONFLICT (hash) DO UPDATE SET seen_at = EXCLUDED.seen_at`, s.table)
	if _, err := s.pool.Exec(ctx, query, hashes, s.clock.Now()); err != nil {
		return fmt.Errorf("remember hashes: %w", err)
	}
	return nil
}
