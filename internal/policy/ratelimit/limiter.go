// Package ratelimit implements the per-domain gate shared by every adapter:
// a counting semaphore for concurrency and a token bucket for spacing.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/JakeFAU/job-ingest-crawler/internal/crawler"
	"github.com/JakeFAU/job-ingest-crawler/internal/metrics"
)

// Config holds rate limiter configuration.
type Config struct {
	// PerDomainConcurrency caps in-flight requests per host.
	PerDomainConcurrency int
	// MinInterval is the minimum spacing between request starts on one host.
	MinInterval time.Duration
	// Overrides replaces MinInterval for specific hosts.
	Overrides map[string]time.Duration
}

type domainState struct {
	sem     *semaphore.Weighted
	limiter *rate.Limiter
}

// Limiter manages per-domain rate limits.
type Limiter struct {
	mu      sync.Mutex
	domains map[string]*domainState
	cfg     Config
}

var _ crawler.Gate = (*Limiter)(nil)

// New creates a new Limiter.
func New(cfg Config) *Limiter {
	if cfg.PerDomainConcurrency <= 0 {
		cfg.PerDomainConcurrency = 1
	}
	return &Limiter{
		domains: make(map[string]*domainState),
		cfg:     cfg,
	}
}

func (l *Limiter) state(domain string) *domainState {
	l.mu.Lock()
	defer l.mu.Unlock()
	st, ok := l.domains[domain]
	if ok {
		return st
	}
	interval := l.cfg.MinInterval
	if override, found := l.cfg.Overrides[domain]; found {
		interval = override
	}
	r := rate.Inf
	if interval > 0 {
		r = rate.Every(interval)
	}
	st = &domainState{
		sem:     semaphore.NewWeighted(int64(l.cfg.PerDomainConcurrency)),
		limiter: rate.NewLimiter(r, 1),
	}
	l.domains[domain] = st
	return st
}

// Acquire blocks until the domain of rawURL has a free slot and its interval
// has elapsed. The caller must invoke the returned release func exactly once.
func (l *Limiter) Acquire(ctx context.Context, rawURL string) (func(), error) {
	domain := crawler.Hostname(rawURL)
	st := l.state(domain)

	start := time.Now()
	if err := st.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("rate limit acquire %s: %w", domain, err)
	}
	if err := st.limiter.Wait(ctx); err != nil {
		st.sem.Release(1)
		return nil, fmt.Errorf("rate limit wait %s: %w", domain, err)
	}
	if waited := time.Since(start); waited > time.Millisecond {
		metrics.ObserveRateLimitDelay(domain, waited)
	}

	var once sync.Once
	return func() {
		once.Do(func() { st.sem.Release(1) })
	}, nil
}

// Domains returns the number of hosts the limiter has seen.
func (l *Limiter) Domains() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.domains)
}
