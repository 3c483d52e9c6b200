package crawler

import (
	"context"
	"io"
	"time"
)

// Fetcher performs a single HTTP GET and returns the body plus metadata.
// Non-2xx statuses are returned as responses, not errors.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// Adapter produces raw postings for one family of job boards.
type Adapter interface {
	Name() string
	Scrape(ctx context.Context, source SourceConfig) ([]RawPosting, error)
}

// Gate throttles requests per domain. The returned func releases the slot.
type Gate interface {
	Acquire(ctx context.Context, rawURL string) (func(), error)
}

// RetryPolicy decides whether and when to retry a failed attempt.
type RetryPolicy interface {
	ShouldRetry(err error, attempt int) bool
	Backoff(attempt int) time.Duration
}

// HashStore remembers job hashes the backend already holds.
type HashStore interface {
	Known(ctx context.Context, hashes []string) (map[string]struct{}, error)
	Remember(ctx context.Context, hashes []string) error
}

// Ingester delivers canonical jobs to the backend.
type Ingester interface {
	Ingest(ctx context.Context, runID string, jobs []Job) (IngestResult, error)
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes run reports to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// RunStore keeps run reports for the serve-mode API.
type RunStore interface {
	SaveRun(ctx context.Context, report RunReport) error
	GetRun(ctx context.Context, runID string) (RunReport, error)
	LatestRun(ctx context.Context) (RunReport, error)
}

// Hasher computes digests for deduplication/integrity.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
