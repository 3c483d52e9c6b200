// Package fetcher wraps a raw transport with the per-domain gate, retries,
// the forbidden-host blocker and fallback URL rotation. Every adapter issues
// its requests through a Layer.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/job-ingest-crawler/internal/crawler"
	"github.com/JakeFAU/job-ingest-crawler/internal/metrics"
)

// AdmissionPolicy decides whether a URL may be requested at all. A refusal
// should wrap crawler.ErrDomainBlocked.
type AdmissionPolicy interface {
	Admit(rawURL string) error
}

// Config tunes the layer.
type Config struct {
	// RequestTimeout bounds a single attempt, including the gate wait.
	RequestTimeout time.Duration
	// MinBodyBytes is the smallest 2xx body FetchFirst accepts.
	MinBodyBytes int
	// ForbiddenThreshold blocks a host after this many 401/403 answers.
	ForbiddenThreshold int
}

// Layer is the shared fetch path.
type Layer struct {
	transport crawler.Fetcher
	gate      crawler.Gate
	retry     crawler.RetryPolicy
	policy    AdmissionPolicy
	forbidden *crawler.ForbiddenHosts
	logger    *zap.Logger
	cfg       Config
	sleep     func(context.Context, time.Duration) error
}

var _ crawler.Fetcher = (*Layer)(nil)

// Option customizes a Layer.
type Option func(*Layer)

// WithPolicy installs an admission policy.
func WithPolicy(p AdmissionPolicy) Option {
	return func(l *Layer) { l.policy = p }
}

// WithSleep replaces the backoff sleeper. Tests use it to avoid real waits.
func WithSleep(fn func(context.Context, time.Duration) error) Option {
	return func(l *Layer) { l.sleep = fn }
}

// New constructs a Layer. gate and retry are required.
func New(transport crawler.Fetcher, gate crawler.Gate, retry crawler.RetryPolicy, logger *zap.Logger, cfg Config, opts ...Option) *Layer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 20 * time.Second
	}
	l := &Layer{
		transport: transport,
		gate:      gate,
		retry:     retry,
		forbidden: crawler.NewForbiddenHosts(cfg.ForbiddenThreshold),
		logger:    logger.Named("fetch"),
		cfg:       cfg,
		sleep:     crawler.Sleep,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Fetch performs request with retries. A non-2xx final status is returned
// together with a *crawler.FetchError so callers can inspect both.
func (l *Layer) Fetch(ctx context.Context, request crawler.FetchRequest) (crawler.FetchResponse, error) {
	host := crawler.Hostname(request.URL)
	if l.policy != nil {
		if err := l.policy.Admit(request.URL); err != nil {
			l.logger.Debug("fetch refused by policy",
				zap.String("source", crawler.SourceFrom(ctx)),
				zap.String("url", request.URL),
				zap.Error(err),
			)
			return crawler.FetchResponse{}, &crawler.FetchError{URL: request.URL, Err: err}
		}
	}

	for attempt := 1; ; attempt++ {
		if l.forbidden.Blocked(host) {
			return crawler.FetchResponse{}, &crawler.FetchError{URL: request.URL, Err: crawler.ErrDomainBlocked}
		}
		resp, err := l.attempt(ctx, request)
		if err == nil {
			return resp, nil
		}
		if ctx.Err() != nil {
			return resp, fmt.Errorf("fetch %s: %w", request.URL, ctx.Err())
		}
		if !l.retry.ShouldRetry(err, attempt) {
			return resp, err
		}
		delay := l.retry.Backoff(attempt - 1)
		l.logger.Debug("retrying fetch",
			zap.String("url", request.URL),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", delay),
			zap.Error(err),
		)
		if err := l.sleep(ctx, delay); err != nil {
			return resp, fmt.Errorf("fetch %s backoff: %w", request.URL, err)
		}
	}
}

func (l *Layer) attempt(ctx context.Context, request crawler.FetchRequest) (crawler.FetchResponse, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, l.cfg.RequestTimeout)
	defer cancel()

	release, err := l.gate.Acquire(attemptCtx, request.URL)
	if err != nil {
		if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
			return crawler.FetchResponse{}, &crawler.FetchError{URL: request.URL, Err: fmt.Errorf("%w: gate wait timed out", crawler.ErrTransient)}
		}
		return crawler.FetchResponse{}, fmt.Errorf("acquire gate: %w", err)
	}
	defer release()

	start := time.Now()
	resp, err := l.transport.Fetch(attemptCtx, request)
	if err != nil {
		metrics.ObserveFetch(request.URL, "error", 0, time.Since(start))
		if ctx.Err() != nil {
			return crawler.FetchResponse{}, ctx.Err()
		}
		if errors.Is(err, crawler.ErrPermanent) {
			return crawler.FetchResponse{}, &crawler.FetchError{URL: request.URL, Err: err}
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return crawler.FetchResponse{}, &crawler.FetchError{
				URL: request.URL,
				Err: fmt.Errorf("%w: attempt timed out after %s", crawler.ErrTransient, l.cfg.RequestTimeout),
			}
		}
		return crawler.FetchResponse{}, &crawler.FetchError{URL: request.URL, Err: fmt.Errorf("%w: %w", crawler.ErrTransient, err)}
	}

	classErr := crawler.ClassifyStatus(resp.StatusCode)
	metrics.ObserveFetch(request.URL, outcome(classErr), len(resp.Body), time.Since(start))
	if classErr == nil {
		return resp, nil
	}
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		if block, tripped := l.forbidden.Record(crawler.Hostname(request.URL), crawler.SourceFrom(ctx)); tripped {
			metrics.ObserveHostBlocked(block.TrippedBy)
			l.logger.Warn("host blocked for the rest of the run",
				zap.String("host", block.Host),
				zap.String("tripped_by", block.TrippedBy),
				zap.Strings("sources", block.Sources),
				zap.Int("forbidden", block.Forbidden),
				zap.String("url", request.URL),
			)
		}
	}
	return resp, &crawler.FetchError{URL: request.URL, StatusCode: resp.StatusCode, Err: classErr}
}

// DrainBlockedHosts returns the hosts blocked since the last call and
// unblocks them.
func (l *Layer) DrainBlockedHosts() []crawler.HostBlock {
	return l.forbidden.Drain()
}

// FetchFirst tries urls in order and returns the first usable response: a
// 2xx whose body has at least MinBodyBytes. When every URL fails it returns
// an error matching crawler.ErrFallbackExhausted that joins each failure.
func (l *Layer) FetchFirst(ctx context.Context, urls []string, headers http.Header) (crawler.FetchResponse, error) {
	if len(urls) == 0 {
		return crawler.FetchResponse{}, fmt.Errorf("%w: no urls configured", crawler.ErrFallbackExhausted)
	}
	failures := make([]error, 0, len(urls))
	for _, u := range urls {
		resp, err := l.Fetch(ctx, crawler.FetchRequest{URL: u, Headers: headers})
		if err == nil && len(resp.Body) < l.cfg.MinBodyBytes {
			err = &crawler.FetchError{
				URL:        u,
				StatusCode: resp.StatusCode,
				Err:        fmt.Errorf("%w: %d bytes", crawler.ErrUnusableContent, len(resp.Body)),
			}
		}
		if err == nil {
			return resp, nil
		}
		if ctx.Err() != nil {
			return crawler.FetchResponse{}, fmt.Errorf("fetch first: %w", ctx.Err())
		}
		l.logger.Info("fallback url failed", zap.String("url", u), zap.Error(err))
		failures = append(failures, err)
	}
	return crawler.FetchResponse{}, errors.Join(append([]error{crawler.ErrFallbackExhausted}, failures...)...)
}

func outcome(classErr error) string {
	switch {
	case classErr == nil:
		return "ok"
	case errors.Is(classErr, crawler.ErrTransient):
		return "transient"
	default:
		return "permanent"
	}
}
