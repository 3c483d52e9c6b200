// Package lever reads postings from the Lever postings API.
package lever

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/job-ingest-crawler/internal/adapter"
	"github.com/JakeFAU/job-ingest-crawler/internal/crawler"
)

const (
	// DefaultBaseURL is the public postings API root.
	DefaultBaseURL = "https://api.lever.co/v0/postings"

	defaultPageSize = 100
	defaultMaxPages = 20
)

// Adapter scrapes every configured Lever company of a source.
type Adapter struct {
	fetcher crawler.Fetcher
	baseURL string
	logger  *zap.Logger
}

var _ crawler.Adapter = (*Adapter)(nil)

// Option customizes an Adapter.
type Option func(*Adapter)

// WithBaseURL points the adapter at a different API root.
func WithBaseURL(u string) Option {
	return func(a *Adapter) { a.baseURL = strings.TrimRight(u, "/") }
}

// New creates an Adapter that issues requests through f.
func New(f crawler.Fetcher, logger *zap.Logger, opts ...Option) *Adapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &Adapter{fetcher: f, baseURL: DefaultBaseURL, logger: logger.Named("lever")}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Name implements crawler.Adapter.
func (a *Adapter) Name() string { return string(crawler.SourceKindLever) }

type posting struct {
	ID               string `json:"id"`
	Text             string `json:"text"`
	HostedURL        string `json:"hostedUrl"`
	ApplyURL         string `json:"applyUrl"`
	CreatedAt        int64  `json:"createdAt"`
	Description      string `json:"description"`
	DescriptionPlain string `json:"descriptionPlain"`
	Categories       struct {
		Location   string `json:"location"`
		Team       string `json:"team"`
		Commitment string `json:"commitment"`
	} `json:"categories"`
}

// Scrape pages through each company's postings. A failing company is logged
// and reported in the returned error while the others continue.
func (a *Adapter) Scrape(ctx context.Context, source crawler.SourceConfig) ([]crawler.RawPosting, error) {
	var (
		out  []crawler.RawPosting
		errs []error
	)
	for _, co := range source.Companies {
		if ctx.Err() != nil {
			errs = append(errs, &crawler.SourceError{Source: adapter.Label(source, co.Slug), Err: ctx.Err()})
			break
		}
		postings, err := a.company(ctx, source, co)
		if err != nil {
			a.logger.Warn("company failed", zap.String("slug", co.Slug), zap.Error(err))
			errs = append(errs, &crawler.SourceError{Source: adapter.Label(source, co.Slug), Err: err})
			continue
		}
		out = append(out, postings...)
	}
	return out, errors.Join(errs...)
}

func (a *Adapter) company(ctx context.Context, source crawler.SourceConfig, co crawler.CompanyConfig) ([]crawler.RawPosting, error) {
	if strings.TrimSpace(co.Slug) == "" {
		return nil, fmt.Errorf("%w: company slug", crawler.ErrMissingConfig)
	}
	limit := source.PageSize
	if limit <= 0 {
		limit = defaultPageSize
	}
	maxPages := source.MaxPages
	if maxPages <= 0 {
		maxPages = defaultMaxPages
	}

	label := adapter.Label(source, co.Slug)
	company := co.Name
	if company == "" {
		company = co.Slug
	}

	var out []crawler.RawPosting
	for page := 0; page < maxPages; page++ {
		q := url.Values{}
		q.Set("mode", "json")
		q.Set("skip", strconv.Itoa(page*limit))
		q.Set("limit", strconv.Itoa(limit))
		endpoint := fmt.Sprintf("%s/%s?%s", a.baseURL, url.PathEscape(co.Slug), q.Encode())

		var postings []posting
		if err := adapter.FetchJSON(ctx, a.fetcher, endpoint, nil, &postings); err != nil {
			return nil, fmt.Errorf("page %d: %w", page, err)
		}
		for _, p := range postings {
			out = append(out, toRaw(p, label, company))
		}
		if len(postings) < limit {
			break
		}
	}
	a.logger.Debug("company scraped", zap.String("slug", co.Slug), zap.Int("postings", len(out)))
	return out, nil
}

func toRaw(p posting, label, company string) crawler.RawPosting {
	apply := p.ApplyURL
	if apply == "" {
		apply = p.HostedURL
	}
	desc := p.DescriptionPlain
	if desc == "" {
		desc = p.Description
	}
	raw := crawler.RawPosting{
		Source:      label,
		SourceURL:   p.HostedURL,
		Title:       p.Text,
		Company:     company,
		Location:    p.Categories.Location,
		ApplyURL:    apply,
		Description: desc,
		Industry:    p.Categories.Team,
	}
	if p.CreatedAt > 0 {
		t := time.UnixMilli(p.CreatedAt).UTC()
		raw.PostedAt = &t
	}
	return raw
}
