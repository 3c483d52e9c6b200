package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/job-ingest-crawler/internal/crawler"
)

const defaultRunHistory = 50

// RunStore keeps the most recent run reports in memory.
type RunStore struct {
	mu    sync.RWMutex
	runs  map[string]crawler.RunReport
	order []string
	limit int
}

var _ crawler.RunStore = (*RunStore)(nil)

// NewRunStore constructs a RunStore that keeps at most limit reports.
func NewRunStore(limit int) *RunStore {
	if limit <= 0 {
		limit = defaultRunHistory
	}
	return &RunStore{
		runs:  make(map[string]crawler.RunReport),
		limit: limit,
	}
}

// SaveRun inserts or replaces a report. New runs evict the oldest once the
// history limit is reached.
func (s *RunStore) SaveRun(_ context.Context, report crawler.RunReport) error {
	if report.RunID == "" {
		return fmt.Errorf("run id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.runs[report.RunID]; !exists {
		s.order = append(s.order, report.RunID)
		for len(s.order) > s.limit {
			delete(s.runs, s.order[0])
			s.order = s.order[1:]
		}
	}
	s.runs[report.RunID] = cloneReport(report)
	return nil
}

// GetRun fetches a report by ID.
func (s *RunStore) GetRun(_ context.Context, runID string) (crawler.RunReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	report, ok := s.runs[runID]
	if !ok {
		return crawler.RunReport{}, fmt.Errorf("run %s: %w", runID, crawler.ErrNotFound)
	}
	return cloneReport(report), nil
}

// LatestRun returns the most recently started report.
func (s *RunStore) LatestRun(_ context.Context) (crawler.RunReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.order) == 0 {
		return crawler.RunReport{}, fmt.Errorf("latest run: %w", crawler.ErrNotFound)
	}
	return cloneReport(s.runs[s.order[len(s.order)-1]]), nil
}

func cloneReport(r crawler.RunReport) crawler.RunReport {
	r.Sources = append([]crawler.SourceReport(nil), r.Sources...)
	r.FailedSources = append([]string(nil), r.FailedSources...)
	if r.BlockedHosts != nil {
		blocks := make([]crawler.HostBlock, len(r.BlockedHosts))
		for i, b := range r.BlockedHosts {
			b.Sources = append([]string(nil), b.Sources...)
			blocks[i] = b
		}
		r.BlockedHosts = blocks
	}
	r.Ingest.Failures = append([]crawler.IngestFailure(nil), r.Ingest.Failures...)
	if r.Counts.Dropped != nil {
		dropped := make(map[string]int, len(r.Counts.Dropped))
		for k, v := range r.Counts.Dropped {
			dropped[k] = v
		}
		r.Counts.Dropped = dropped
	}
	if r.FinishedAt != nil {
		finished := *r.FinishedAt
		r.FinishedAt = &finished
	}
	return r
}
