// Package htmlboard scrapes unstructured HTML job boards with the card
// extractor.
package htmlboard

import (
	"bytes"
	"context"
	"fmt"
	"net/http"

	"github.com/gosimple/slug"
	"go.uber.org/zap"

	"github.com/JakeFAU/job-ingest-crawler/internal/adapter"
	"github.com/JakeFAU/job-ingest-crawler/internal/crawler"
	"github.com/JakeFAU/job-ingest-crawler/internal/extract"
	"github.com/JakeFAU/job-ingest-crawler/internal/extract/htmldoc"
)

// FirstFetcher returns the first usable response among fallback URLs.
type FirstFetcher interface {
	FetchFirst(ctx context.Context, urls []string, headers http.Header) (crawler.FetchResponse, error)
}

// Adapter fetches a board page, archives it and extracts cards from it.
type Adapter struct {
	fetcher   FirstFetcher
	extractor *extract.Extractor
	blobs     crawler.BlobStore
	hasher    crawler.Hasher
	clock     crawler.Clock
	logger    *zap.Logger
}

var _ crawler.Adapter = (*Adapter)(nil)

// Option customizes an Adapter.
type Option func(*Adapter)

// WithSnapshots archives every page that produced postings to blobs, keyed
// by the hasher's digest of the body.
func WithSnapshots(blobs crawler.BlobStore, hasher crawler.Hasher, clock crawler.Clock) Option {
	return func(a *Adapter) {
		a.blobs = blobs
		a.hasher = hasher
		a.clock = clock
	}
}

// New creates an Adapter.
func New(f FirstFetcher, extractor *extract.Extractor, logger *zap.Logger, opts ...Option) *Adapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &Adapter{fetcher: f, extractor: extractor, logger: logger.Named("htmlboard")}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Name implements crawler.Adapter.
func (a *Adapter) Name() string { return string(crawler.SourceKindHTML) }

// Scrape tries the board's URLs in order and extracts postings from the
// first usable page. A board whose URLs all fail is a source error, as is a
// page that only renders its listings in the browser.
func (a *Adapter) Scrape(ctx context.Context, source crawler.SourceConfig) ([]crawler.RawPosting, error) {
	label := adapter.Label(source, "")
	headers := http.Header{}
	headers.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := a.fetcher.FetchFirst(ctx, source.URLs, headers)
	if err != nil {
		return nil, &crawler.SourceError{Source: label, Err: err}
	}

	pageURL := resp.URL
	if pageURL == "" && len(source.URLs) > 0 {
		pageURL = source.URLs[0]
	}
	doc, err := htmldoc.Parse(bytes.NewReader(resp.Body), pageURL)
	if err != nil {
		return nil, &crawler.SourceError{Source: label, Err: fmt.Errorf("%w: %w", crawler.ErrPermanent, err)}
	}

	raws := a.extractor.Extract(doc.Root, label, doc.BaseURL)
	for i := range raws {
		if raws[i].SourceURL == "" {
			raws[i].SourceURL = raws[i].ApplyURL
		}
		if raws[i].Company == "" {
			raws[i].Company = source.Company
		}
	}
	a.logger.Info("board extracted",
		zap.String("source", label),
		zap.String("url", pageURL),
		zap.String("title", doc.Title),
		zap.Int("postings", len(raws)),
	)
	if len(raws) == 0 && doc.ClientRendered {
		a.logger.Warn("board serves a script shell, no cards in static html",
			zap.String("source", label),
			zap.String("url", pageURL),
		)
		return nil, &crawler.SourceError{Source: label, Err: fmt.Errorf("%w: %s", crawler.ErrClientRendered, pageURL)}
	}
	if len(raws) > 0 {
		a.snapshot(ctx, label, resp.Body)
	}
	return raws, nil
}

// snapshot failures are logged and never fail the board.
func (a *Adapter) snapshot(ctx context.Context, label string, body []byte) {
	if a.blobs == nil || a.hasher == nil || a.clock == nil {
		return
	}
	sum, err := a.hasher.Hash(body)
	if err != nil {
		a.logger.Warn("snapshot hash failed", zap.String("source", label), zap.Error(err))
		return
	}
	path := SnapshotPath(label, a.clock.Now().UTC().Format("2006-01-02"), sum)
	uri, err := a.blobs.PutObject(ctx, path, "text/html; charset=utf-8", bytes.NewReader(body))
	if err != nil {
		a.logger.Warn("snapshot write failed", zap.String("path", path), zap.Error(err))
		return
	}
	a.logger.Debug("snapshot stored", zap.String("uri", uri))
}

// SnapshotPath is snapshots/<source>/<date>/<digest>.html.
func SnapshotPath(label, date, digest string) string {
	return fmt.Sprintf("snapshots/%s/%s/%s.html", slug.Make(label), date, digest)
}
