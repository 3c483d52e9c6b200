package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/job-ingest-crawler/internal/crawler"
)

// RunStore persists run reports as JSONB rows.
type RunStore struct {
	pool  Pool
	table string
}

var _ crawler.RunStore = (*RunStore)(nil)

// NewRunStore wraps pool.
func NewRunStore(pool Pool, table string) (*RunStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	table, err := checkTable(table, "crawl_runs")
	if err != nil {
		return nil, err
	}
	return &RunStore{pool: pool, table: table}, nil
}

// EnsureSchema creates the table when missing.
func (s *RunStore) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	run_id     text PRIMARY KEY,
	started_at timestamptz NOT NULL,
	status     text NOT NULL,
	report     jsonb NOT NULL
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create %s: %w", s.table, err)
	}
	return nil
}

// SaveRun inserts a report or replaces the stored one.
func (s *RunStore) SaveRun(ctx context.Context, report crawler.RunReport) error {
	if report.RunID == "" {
		return fmt.Errorf("run id is required")
	}
	payload, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("marshal run report: %w", err)
	}
	query := fmt.Sprintf(`
INSERT INTO %s (run_id, started_at, status, report)
VALUES ($1, $2, $3, $4)
ON CONFLICT (run_id) DO UPDATE
SET status = EXCLUDED.status, report = EXCLUDED.report`, s.table)
	if _, err := s.pool.Exec(ctx, query, report.RunID, report.StartedAt, string(report.Status), payload); err != nil {
		return fmt.Errorf("save run %s: %w", report.RunID, err)
	}
	return nil
}

// GetRun fetches a report by ID.
func (s *RunStore) GetRun(ctx context.Context, runID string) (crawler.RunReport, error) {
	query := fmt.Sprintf(`SELECT report FROM %s WHERE run_id = $1`, s.table)
	return s.scanOne(s.pool.QueryRow(ctx, query, runID), "run "+runID)
}

// LatestRun returns the most recently started report.
func (s *RunStore) LatestRun(ctx context.Context) (crawler.RunReport, error) {
	query := fmt.Sprintf(`SELECT report FROM %s ORDER BY started_at DESC LIMIT 1`, s.table)
	return s.scanOne(s.pool.QueryRow(ctx, query), "latest run")
}

func (s *RunStore) scanOne(row pgx.Row, what string) (crawler.RunReport, error) {
	var payload []byte
	if err := row.Scan(&payload); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return crawler.RunReport{}, fmt.Errorf("%s: %w", what, crawler.ErrNotFound)
		}
		return crawler.RunReport{}, fmt.Errorf("load %s: %w", what, err)
	}
	var report crawler.RunReport
	if err := json.Unmarshal(payload, &report); err != nil {
		return crawler.RunReport{}, fmt.Errorf("decode %s: %w", what, err)
	}
	return report, nil
}
