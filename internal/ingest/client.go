// Package ingest delivers canonical jobs to the backend's batch ingest
// endpoint.
package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/job-ingest-crawler/internal/crawler"
	"github.com/JakeFAU/job-ingest-crawler/internal/metrics"
)

const (
	// Path is appended to the configured base URL.
	Path = "/jobs/ingest"

	headerSecret = "x-seed-secret"
	headerRunID  = "x-run-id"

	defaultBatchSize = 50
	maxErrorBody     = 4 << 10
)

// Config describes the ingest endpoint.
type Config struct {
	BaseURL   string
	Secret    string
	BatchSize int
	Timeout   time.Duration
	UserAgent string
}

// Client posts jobs in batches with retries.
type Client struct {
	http   *http.Client
	cfg    Config
	retry  crawler.RetryPolicy
	logger *zap.Logger
	sleep  func(context.Context, time.Duration) error
}

var _ crawler.Ingester = (*Client)(nil)

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithSleep replaces the backoff sleeper.
func WithSleep(fn func(context.Context, time.Duration) error) Option {
	return func(c *Client) { c.sleep = fn }
}

// New validates cfg and builds a Client.
func New(cfg Config, retry crawler.RetryPolicy, logger *zap.Logger, opts ...Option) (*Client, error) {
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("%w: ingest base url", crawler.ErrMissingConfig)
	}
	if strings.TrimSpace(cfg.Secret) == "" {
		return nil, fmt.Errorf("%w: ingest secret", crawler.ErrMissingConfig)
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if retry == nil {
		retry = crawler.NewExponentialRetryPolicy()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Client{
		http:   &http.Client{Timeout: cfg.Timeout},
		cfg:    cfg,
		retry:  retry,
		logger: logger.Named("ingest"),
		sleep:  crawler.Sleep,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type request struct {
	Data []crawler.Job `json:"data"`
}

type response struct {
	Created int                     `json:"created"`
	Updated int                     `json:"updated"`
	Failed  int                     `json:"failed"`
	Errors  []crawler.IngestFailure `json:"errors"`

	// readable is set once the body decoded.
	readable bool
}

// confirmed reports whether every failed record is named, so the remaining
// hashes of the batch are known to be stored.
func (r response) confirmed() bool {
	return r.readable && r.Failed <= len(r.Errors)
}

// Ingest sends jobs in batches. A rejected secret stops the run with
// crawler.ErrUnauthorized. Any other failing batch is counted in the result
// and the remaining batches continue.
func (c *Client) Ingest(ctx context.Context, runID string, jobs []crawler.Job) (crawler.IngestResult, error) {
	var result crawler.IngestResult
	for start := 0; start < len(jobs); start += c.cfg.BatchSize {
		end := min(start+c.cfg.BatchSize, len(jobs))
		batch := jobs[start:end]
		result.Batches++
		result.Sent += len(batch)

		resp, err := c.sendWithRetry(ctx, runID, batch)
		if err != nil {
			if errors.Is(err, crawler.ErrUnauthorized) {
				metrics.ObserveIngestBatch("unauthorized", 0, 0, len(batch))
				return result, err
			}
			if ctx.Err() != nil {
				return result, fmt.Errorf("ingest: %w", ctx.Err())
			}
			c.logger.Warn("batch failed",
				zap.String("run_id", runID),
				zap.Int("offset", start),
				zap.Int("size", len(batch)),
				zap.Error(err),
			)
			metrics.ObserveIngestBatch("failed", 0, 0, len(batch))
			result.FailedBatches++
			result.Failed += len(batch)
			continue
		}

		result.Created += resp.Created
		result.Updated += resp.Updated
		result.Failed += resp.Failed
		result.Failures = append(result.Failures, resp.Errors...)
		if !resp.confirmed() {
			c.logger.Warn("batch outcome unconfirmed, hashes not remembered",
				zap.String("run_id", runID),
				zap.Int("offset", start),
				zap.Int("size", len(batch)),
				zap.Bool("readable", resp.readable),
				zap.Int("failed", resp.Failed),
				zap.Int("errors", len(resp.Errors)),
			)
			result.Unconfirmed += len(batch)
			metrics.ObserveIngestBatch("unconfirmed", resp.Created, resp.Updated, resp.Failed)
			continue
		}
		result.Delivered = append(result.Delivered, delivered(batch, resp.Errors)...)
		metrics.ObserveIngestBatch("ok", resp.Created, resp.Updated, resp.Failed)
	}
	c.logger.Info("ingest complete",
		zap.String("run_id", runID),
		zap.Int("batches", result.Batches),
		zap.Int("created", result.Created),
		zap.Int("updated", result.Updated),
		zap.Int("failed", result.Failed),
		zap.Int("unconfirmed", result.Unconfirmed),
	)
	return result, nil
}

func (c *Client) sendWithRetry(ctx context.Context, runID string, batch []crawler.Job) (response, error) {
	payload, err := json.Marshal(request{Data: batch})
	if err != nil {
		return response{}, fmt.Errorf("%w: marshal batch: %w", crawler.ErrPermanent, err)
	}
	for attempt := 1; ; attempt++ {
		resp, err := c.send(ctx, runID, payload)
		if err == nil {
			return resp, nil
		}
		if ctx.Err() != nil || !c.retry.ShouldRetry(err, attempt) {
			return response{}, err
		}
		delay := c.retry.Backoff(attempt - 1)
		c.logger.Debug("retrying batch", zap.Int("attempt", attempt), zap.Duration("backoff", delay), zap.Error(err))
		if err := c.sleep(ctx, delay); err != nil {
			return response{}, fmt.Errorf("ingest backoff: %w", err)
		}
	}
}

func (c *Client) send(ctx context.Context, runID string, payload []byte) (response, error) {
	endpoint := c.cfg.BaseURL + Path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return response{}, fmt.Errorf("%w: build request: %w", crawler.ErrPermanent, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set(headerSecret, c.cfg.Secret)
	if runID != "" {
		req.Header.Set(headerRunID, runID)
	}
	if c.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", c.cfg.UserAgent)
	}

	res, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return response{}, ctx.Err()
		}
		return response{}, &crawler.FetchError{URL: endpoint, Err: fmt.Errorf("%w: %w", crawler.ErrTransient, stripDeadline(err))}
	}
	defer res.Body.Close()

	switch {
	case res.StatusCode == http.StatusUnauthorized || res.StatusCode == http.StatusForbidden:
		return response{}, &crawler.FetchError{URL: endpoint, StatusCode: res.StatusCode, Err: crawler.ErrUnauthorized}
	case res.StatusCode < 200 || res.StatusCode >= 300:
		snippet, _ := io.ReadAll(io.LimitReader(res.Body, maxErrorBody))
		return response{}, &crawler.FetchError{
			URL:        endpoint,
			StatusCode: res.StatusCode,
			Err:        fmt.Errorf("%w: %s", crawler.ClassifyStatus(res.StatusCode), strings.TrimSpace(string(snippet))),
		}
	}

	var out response
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		c.logger.Warn("unreadable ingest response", zap.Int("status", res.StatusCode), zap.Error(err))
		return response{}, nil
	}
	out.readable = true
	return out, nil
}

// stripDeadline keeps client timeouts retryable; the retry policy never
// retries an error that matches context.DeadlineExceeded.
func stripDeadline(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return errors.New(err.Error())
	}
	return err
}

func delivered(batch []crawler.Job, failures []crawler.IngestFailure) []string {
	failed := make(map[string]struct{}, len(failures))
	for _, f := range failures {
		failed[f.Hash] = struct{}{}
	}
	out := make([]string, 0, len(batch))
	for _, job := range batch {
		if _, bad := failed[job.Hash]; !bad {
			out = append(out, job.Hash)
		}
	}
	return out
}
