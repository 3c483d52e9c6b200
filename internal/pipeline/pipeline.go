// Package pipeline runs one crawl: every configured source is scraped
// concurrently, the results are normalized and deduplicated in
// configuration order, then delivered to the backend (or written out in a
// dry run).
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/job-ingest-crawler/internal/adapter"
	"github.com/JakeFAU/job-ingest-crawler/internal/crawler"
	"github.com/JakeFAU/job-ingest-crawler/internal/dedup"
	"github.com/JakeFAU/job-ingest-crawler/internal/metrics"
	"github.com/JakeFAU/job-ingest-crawler/internal/normalize"
)

// Config tunes a Pipeline.
type Config struct {
	// SourceConcurrency bounds how many sources are scraped at once.
	SourceConcurrency int
	// DryRun skips ingest and writes jobs as JSON lines to Deps.Output.
	DryRun bool
	// ReportTopic receives the run report when a publisher is configured.
	ReportTopic string
}

// AdapterLookup resolves the adapter for a source kind.
type AdapterLookup interface {
	Get(kind crawler.SourceKind) (crawler.Adapter, bool)
}

// BlockedHosts hands over the hosts the fetch layer refused during a run
// and clears them for the next one.
type BlockedHosts interface {
	DrainBlockedHosts() []crawler.HostBlock
}

// Deps are the collaborators of a Pipeline. Ingester is required unless the
// pipeline runs dry; Publisher, Runs, Blocked and Output are optional.
type Deps struct {
	Adapters   AdapterLookup
	Normalizer *normalize.Normalizer
	Dedup      *dedup.Deduplicator
	Ingester   crawler.Ingester
	Publisher  crawler.Publisher
	Runs       crawler.RunStore
	Blocked    BlockedHosts
	IDs        crawler.IDGenerator
	Clock      crawler.Clock
	Output     io.Writer
}

// Pipeline executes crawl runs.
type Pipeline struct {
	deps    Deps
	sources []crawler.SourceConfig
	cfg     Config
	logger  *zap.Logger
}

// New builds a Pipeline over the enabled sources.
func New(sources []crawler.SourceConfig, deps Deps, cfg Config, logger *zap.Logger) (*Pipeline, error) {
	if deps.Adapters == nil || deps.Normalizer == nil || deps.Dedup == nil || deps.IDs == nil || deps.Clock == nil {
		return nil, fmt.Errorf("%w: pipeline dependencies", crawler.ErrMissingConfig)
	}
	if !cfg.DryRun && deps.Ingester == nil {
		return nil, fmt.Errorf("%w: ingester", crawler.ErrMissingConfig)
	}
	if cfg.SourceConcurrency <= 0 {
		cfg.SourceConcurrency = 4
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	enabled := make([]crawler.SourceConfig, 0, len(sources))
	for _, s := range sources {
		if !s.Disabled {
			enabled = append(enabled, s)
		}
	}
	return &Pipeline{deps: deps, sources: enabled, cfg: cfg, logger: logger.Named("pipeline")}, nil
}

// Sources returns the enabled sources in run order.
func (p *Pipeline) Sources() []crawler.SourceConfig {
	out := make([]crawler.SourceConfig, len(p.sources))
	copy(out, p.sources)
	return out
}

type sourceResult struct {
	jobs   []crawler.Job
	report crawler.SourceReport
	drops  map[normalize.DropReason]int
	failed []string
	err    error
}

// Run executes one crawl under runID, generating an ID when runID is empty.
// The report is returned even when err is non-nil. err is
// crawler.ErrAllSourcesFailed when nothing was scraped and every source
// failed, and crawler.ErrUnauthorized when the backend rejected the secret.
func (p *Pipeline) Run(ctx context.Context, runID string) (crawler.RunReport, error) {
	if runID == "" {
		id, err := p.deps.IDs.NewID()
		if err != nil {
			return crawler.RunReport{}, fmt.Errorf("generate run id: %w", err)
		}
		runID = id
	}
	report := crawler.RunReport{
		RunID:     runID,
		Status:    crawler.RunStatusRunning,
		StartedAt: p.deps.Clock.Now(),
		DryRun:    p.cfg.DryRun,
		Counts:    crawler.RunCounts{Dropped: map[string]int{}},
	}
	logger := p.logger.With(zap.String("run_id", runID))
	logger.Info("run started", zap.Int("sources", len(p.sources)), zap.Bool("dry_run", p.cfg.DryRun))
	p.save(ctx, report, logger)

	runErr := p.execute(ctx, &report, logger)
	if p.deps.Blocked != nil {
		report.BlockedHosts = p.deps.Blocked.DrainBlockedHosts()
	}
	return p.finish(ctx, report, runErr, logger)
}

func (p *Pipeline) execute(ctx context.Context, report *crawler.RunReport, logger *zap.Logger) error {
	if len(p.sources) == 0 {
		return fmt.Errorf("%w: no enabled sources", crawler.ErrMissingConfig)
	}

	results := p.scrape(ctx, logger)

	var (
		all        []crawler.Job
		sourceErrs []error
		failed     int
	)
	for _, res := range results {
		report.Sources = append(report.Sources, res.report)
		report.Counts.Raw += res.report.Raw
		report.Counts.Normalized += len(res.jobs)
		report.FailedSources = append(report.FailedSources, res.failed...)
		all = append(all, res.jobs...)
		if res.err != nil {
			sourceErrs = append(sourceErrs, res.err)
			if res.report.Raw == 0 {
				failed++
			}
		}
	}
	for _, res := range results {
		for reason, n := range res.drops {
			report.Counts.Dropped[string(reason)] += n
		}
	}

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("run canceled: %w", err)
	}
	if report.Counts.Raw == 0 && failed == len(results) {
		return errors.Join(append([]error{crawler.ErrAllSourcesFailed}, sourceErrs...)...)
	}

	unique, stats, err := p.deps.Dedup.Dedup(ctx, all)
	if err != nil {
		return err
	}
	report.Counts.Duplicates = stats.Duplicates
	report.Counts.Known = stats.Known
	report.Counts.Unique = stats.Unique

	if p.cfg.DryRun {
		n, err := p.writeJobs(unique)
		report.Counts.Dispatched = n
		return err
	}
	return p.ingest(ctx, report, unique, logger)
}

func (p *Pipeline) scrape(ctx context.Context, logger *zap.Logger) []sourceResult {
	results := make([]sourceResult, len(p.sources))
	var g errgroup.Group
	g.SetLimit(p.cfg.SourceConcurrency)
	for i, src := range p.sources {
		g.Go(func() error {
			results[i] = p.runSource(ctx, src, logger)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (p *Pipeline) runSource(ctx context.Context, src crawler.SourceConfig, logger *zap.Logger) (res sourceResult) {
	label := adapter.Label(src, "")
	res.report = crawler.SourceReport{Name: label, Kind: string(src.Kind)}
	defer func() {
		if r := recover(); r != nil {
			res.err = &crawler.SourceError{Source: label, Err: fmt.Errorf("adapter panic: %v", r)}
			res.failed = []string{label}
			res.report.Error = res.err.Error()
			logger.Error("adapter panicked", zap.String("source", label), zap.Any("panic", r))
		}
		for _, f := range res.failed {
			metrics.ObserveSourceFailure(f)
		}
	}()

	a, ok := p.deps.Adapters.Get(src.Kind)
	if !ok {
		res.err = &crawler.SourceError{Source: label, Err: fmt.Errorf("%w: no adapter for kind %q", crawler.ErrMissingConfig, src.Kind)}
		res.failed = []string{label}
		res.report.Error = res.err.Error()
		logger.Warn("source skipped", zap.String("source", label), zap.Error(res.err))
		return res
	}

	start := time.Now()
	raws, err := a.Scrape(crawler.WithSource(ctx, label), src)
	res.report.Raw = len(raws)
	metrics.ObservePostings(label, len(raws))
	if err != nil {
		res.err = err
		res.failed = crawler.FailedSources(err)
		if len(res.failed) == 0 {
			res.failed = []string{label}
		}
		res.report.Error = err.Error()
		logger.Warn("source failed",
			zap.String("source", label),
			zap.Strings("failed", res.failed),
			zap.Int("raw", len(raws)),
			zap.Error(err),
		)
	}

	norm := p.deps.Normalizer.All(raws, src.Company)
	res.jobs = norm.Jobs
	res.report.Accepted = len(norm.Jobs)
	res.report.Dropped = len(raws) - len(norm.Jobs)
	res.drops = norm.Dropped
	logger.Info("source scraped",
		zap.String("source", label),
		zap.Int("raw", len(raws)),
		zap.Int("accepted", len(norm.Jobs)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return res
}

func (p *Pipeline) ingest(ctx context.Context, report *crawler.RunReport, jobs []crawler.Job, logger *zap.Logger) error {
	if len(jobs) == 0 {
		logger.Info("nothing to ingest")
		return nil
	}
	result, err := p.deps.Ingester.Ingest(ctx, report.RunID, jobs)
	report.Ingest = result
	report.Counts.Dispatched = result.Sent
	if len(result.Delivered) > 0 {
		accepted := make(map[string]struct{}, len(result.Delivered))
		for _, h := range result.Delivered {
			accepted[h] = struct{}{}
		}
		delivered := make([]crawler.Job, 0, len(result.Delivered))
		for _, job := range jobs {
			if _, ok := accepted[job.Hash]; ok {
				delivered = append(delivered, job)
			}
		}
		if rememberErr := p.deps.Dedup.Remember(ctx, delivered); rememberErr != nil {
			logger.Warn("could not record delivered hashes", zap.Error(rememberErr))
		}
	}
	if err != nil {
		return fmt.Errorf("ingest: %w", err)
	}
	return nil
}

func (p *Pipeline) writeJobs(jobs []crawler.Job) (int, error) {
	if p.deps.Output == nil {
		return len(jobs), nil
	}
	enc := json.NewEncoder(p.deps.Output)
	for i, job := range jobs {
		if err := enc.Encode(job); err != nil {
			return i, fmt.Errorf("write job: %w", err)
		}
	}
	return len(jobs), nil
}

func (p *Pipeline) finish(ctx context.Context, report crawler.RunReport, runErr error, logger *zap.Logger) (crawler.RunReport, error) {
	finished := p.deps.Clock.Now()
	report.FinishedAt = &finished
	switch {
	case runErr != nil:
		report.Status = crawler.RunStatusFailed
		report.ErrorText = runErr.Error()
	case len(report.FailedSources) > 0 || report.Ingest.FailedBatches > 0:
		report.Status = crawler.RunStatusPartial
	default:
		report.Status = crawler.RunStatusSucceeded
	}
	if report.FailedSources == nil {
		report.FailedSources = []string{}
	}

	metrics.ObserveRun(string(report.Status), finished.Sub(report.StartedAt), finished)
	// Persisting and publishing still happen after cancellation.
	saveCtx := context.WithoutCancel(ctx)
	p.save(saveCtx, report, logger)
	p.publish(saveCtx, report, logger)

	fields := []zap.Field{
		zap.String("status", string(report.Status)),
		zap.Int("raw", report.Counts.Raw),
		zap.Int("normalized", report.Counts.Normalized),
		zap.Int("unique", report.Counts.Unique),
		zap.Int("known", report.Counts.Known),
		zap.Int("dispatched", report.Counts.Dispatched),
		zap.Int("created", report.Ingest.Created),
		zap.Int("updated", report.Ingest.Updated),
		zap.Strings("failed_sources", report.FailedSources),
		zap.Int("blocked_hosts", len(report.BlockedHosts)),
		zap.Duration("elapsed", finished.Sub(report.StartedAt)),
	}
	for _, b := range report.BlockedHosts {
		logger.Warn("host was blocked during run",
			zap.String("host", b.Host),
			zap.String("tripped_by", b.TrippedBy),
			zap.Strings("sources", b.Sources),
		)
	}
	if runErr != nil {
		logger.Error("run failed", append(fields, zap.Error(runErr))...)
	} else {
		logger.Info("run finished", fields...)
	}
	return report, runErr
}

func (p *Pipeline) save(ctx context.Context, report crawler.RunReport, logger *zap.Logger) {
	if p.deps.Runs == nil {
		return
	}
	if err := p.deps.Runs.SaveRun(ctx, report); err != nil {
		logger.Warn("save run report failed", zap.Error(err))
	}
}

func (p *Pipeline) publish(ctx context.Context, report crawler.RunReport, logger *zap.Logger) {
	if p.deps.Publisher == nil || p.cfg.ReportTopic == "" {
		return
	}
	id, err := p.deps.Publisher.Publish(ctx, p.cfg.ReportTopic, report)
	if err != nil {
		logger.Warn("publish run report failed", zap.String("topic", p.cfg.ReportTopic), zap.Error(err))
		return
	}
	logger.Debug("run report published", zap.String("message_id", id))
}
