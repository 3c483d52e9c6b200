// Package dedup collapses jobs that share a hash and filters out jobs the
// backend already holds.
package dedup

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/job-ingest-crawler/internal/crawler"
	"github.com/JakeFAU/job-ingest-crawler/internal/metrics"
)

// Stats counts what happened to a batch.
type Stats struct {
	Input      int `json:"input"`
	Unique     int `json:"unique"`
	Duplicates int `json:"duplicates"`
	Known      int `json:"known"`
}

// Deduplicator removes repeated hashes within a run and, optionally, across
// runs through a HashStore.
type Deduplicator struct {
	store     crawler.HashStore
	skipKnown bool
	logger    *zap.Logger
}

// New creates a Deduplicator. store may be nil, in which case only in-run
// duplicates are removed.
func New(store crawler.HashStore, skipKnown bool, logger *zap.Logger) *Deduplicator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Deduplicator{store: store, skipKnown: skipKnown, logger: logger.Named("dedup")}
}

// Dedup keeps one job per hash. The later record wins but keeps the slot of
// the first. With skip-known enabled, hashes the store reports are removed.
// A store failure is logged and treated as nothing known.
func (d *Deduplicator) Dedup(ctx context.Context, jobs []crawler.Job) ([]crawler.Job, Stats, error) {
	stats := Stats{Input: len(jobs)}
	if err := ctx.Err(); err != nil {
		return nil, stats, fmt.Errorf("dedup: %w", err)
	}

	index := make(map[string]int, len(jobs))
	unique := make([]crawler.Job, 0, len(jobs))
	for _, job := range jobs {
		if i, ok := index[job.Hash]; ok {
			unique[i] = job
			stats.Duplicates++
			continue
		}
		index[job.Hash] = len(unique)
		unique = append(unique, job)
	}

	if d.skipKnown && d.store != nil && len(unique) > 0 {
		hashes := make([]string, len(unique))
		for i, job := range unique {
			hashes[i] = job.Hash
		}
		known, err := d.store.Known(ctx, hashes)
		if err != nil {
			d.logger.Warn("hash store lookup failed; treating all jobs as new", zap.Error(err))
			known = nil
		}
		if len(known) > 0 {
			kept := unique[:0]
			for _, job := range unique {
				if _, seen := known[job.Hash]; seen {
					stats.Known++
					continue
				}
				kept = append(kept, job)
			}
			unique = kept
		}
	}

	stats.Unique = len(unique)
	metrics.ObserveDedup(stats.Unique, stats.Duplicates, stats.Known)
	d.logger.Debug("dedup complete",
		zap.Int("input", stats.Input),
		zap.Int("unique", stats.Unique),
		zap.Int("duplicates", stats.Duplicates),
		zap.Int("known", stats.Known),
	)
	return unique, stats, nil
}

// Remember records the hashes of delivered jobs.
func (d *Deduplicator) Remember(ctx context.Context, jobs []crawler.Job) error {
	if d.store == nil || len(jobs) == 0 {
		return nil
	}
	hashes := make([]string, len(jobs))
	for i, job := range jobs {
		hashes[i] = job.Hash
	}
	if err := d.store.Remember(ctx, hashes); err != nil {
		return fmt.Errorf("remember hashes: %w", err)
	}
	return nil
}
