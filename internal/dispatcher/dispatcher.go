// Package dispatcher serializes crawl runs triggered by the API or a
// schedule.
package dispatcher

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/job-ingest-crawler/internal/crawler"
)

// Runner executes one crawl under the given run ID.
type Runner interface {
	Run(ctx context.Context, runID string) (crawler.RunReport, error)
}

// Dispatcher lets at most one run execute at a time.
type Dispatcher struct {
	runner Runner
	ids    crawler.IDGenerator
	logger *zap.Logger

	mu     sync.Mutex
	active string
	base   context.Context
	wg     sync.WaitGroup
}

// New creates a Dispatcher.
func New(runner Runner, ids crawler.IDGenerator, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		runner: runner,
		ids:    ids,
		logger: logger.Named("dispatcher"),
		base:   context.Background(),
	}
}

// Active reports the ID of the run in flight, if any.
func (d *Dispatcher) Active() (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.active, d.active != ""
}

// Trigger starts a run in the background and returns its ID. It returns
// crawler.ErrRunInProgress while another run is active. The run outlives
// the caller's request and stops only when the dispatcher's Run context ends.
func (d *Dispatcher) Trigger(_ context.Context) (string, error) {
	runID, base, err := d.claim()
	if err != nil {
		return "", err
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer d.release()
		d.execute(base, runID)
	}()
	return runID, nil
}

// RunOnce executes a run synchronously.
func (d *Dispatcher) RunOnce(ctx context.Context) (crawler.RunReport, error) {
	runID, _, err := d.claim()
	if err != nil {
		return crawler.RunReport{}, err
	}
	defer d.release()
	return d.runner.Run(ctx, runID)
}

// Run blocks until ctx is done, triggering a run every interval when
// interval is positive. In-flight runs are awaited before it returns.
func (d *Dispatcher) Run(ctx context.Context, interval time.Duration) {
	d.mu.Lock()
	d.base = ctx
	d.mu.Unlock()

	if interval > 0 {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		d.logger.Info("schedule started", zap.Duration("interval", interval))
	loop:
		for {
			select {
			case <-ctx.Done():
				break loop
			case <-ticker.C:
				if runID, err := d.Trigger(ctx); err != nil {
					d.logger.Info("scheduled run skipped", zap.Error(err))
				} else {
					d.logger.Info("scheduled run triggered", zap.String("run_id", runID))
				}
			}
		}
	} else {
		<-ctx.Done()
	}
	d.wg.Wait()
}

// Wait blocks until background runs finish.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) claim() (string, context.Context, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.active != "" {
		return "", nil, fmt.Errorf("%w: %s", crawler.ErrRunInProgress, d.active)
	}
	if err := d.base.Err(); err != nil {
		return "", nil, fmt.Errorf("dispatcher stopped: %w", err)
	}
	runID, err := d.ids.NewID()
	if err != nil {
		return "", nil, fmt.Errorf("generate run id: %w", err)
	}
	d.active = runID
	return runID, d.base, nil
}

func (d *Dispatcher) release() {
	d.mu.Lock()
	d.active = ""
	d.mu.Unlock()
}

func (d *Dispatcher) execute(ctx context.Context, runID string) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("run panicked", zap.String("run_id", runID), zap.Any("panic", r))
		}
	}()
	report, err := d.runner.Run(ctx, runID)
	if err != nil {
		d.logger.Warn("run ended with error", zap.String("run_id", runID), zap.String("status", string(report.Status)), zap.Error(err))
	}
}
