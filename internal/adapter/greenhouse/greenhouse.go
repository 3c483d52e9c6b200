// Package greenhouse reads postings from the Greenhouse job board API.
package greenhouse

import (
	"context"
	"errors"
	"fmt"
	"html"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/job-ingest-crawler/internal/adapter"
	"github.com/JakeFAU/job-ingest-crawler/internal/crawler"
)

// DefaultBaseURL is the public board API root.
const DefaultBaseURL = "https://boards-api.greenhouse.io/v1/boards"

// Adapter scrapes every configured Greenhouse board of a source.
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
	a := &Adapter{fetcher: f, baseURL: DefaultBaseURL, logger: logger.Named("greenhouse")}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Name implements crawler.Adapter.
func (a *Adapter) Name() string { return string(crawler.SourceKindGreenhouse) }

type boardResponse struct {
	Jobs []posting `json:"jobs"`
}

type posting struct {
	ID             int64  `json:"id"`
	Title          string `json:"title"`
	AbsoluteURL    string `json:"absolute_url"`
	UpdatedAt      string `json:"updated_at"`
	FirstPublished string `json:"first_published"`
	CompanyName    string `json:"company_name"`
	Content        string `json:"content"`
	Location       struct {
		Name string `json:"name"`
	} `json:"location"`
	Departments []struct {
		Name string `json:"name"`
	} `json:"departments"`
}

// Scrape fetches each company board in turn. A failing board is logged and
// reported in the returned error while the remaining boards continue.
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
			a.logger.Warn("board failed", zap.String("slug", co.Slug), zap.Error(err))
			errs = append(errs, &crawler.SourceError{Source: adapter.Label(source, co.Slug), Err: err})
			continue
		}
		a.logger.Debug("board scraped", zap.String("slug", co.Slug), zap.Int("postings", len(postings)))
		out = append(out, postings...)
	}
	return out, errors.Join(errs...)
}

func (a *Adapter) company(ctx context.Context, source crawler.SourceConfig, co crawler.CompanyConfig) ([]crawler.RawPosting, error) {
	if strings.TrimSpace(co.Slug) == "" {
		return nil, fmt.Errorf("%w: company slug", crawler.ErrMissingConfig)
	}
	endpoint := fmt.Sprintf("%s/%s/jobs?content=true", a.baseURL, url.PathEscape(co.Slug))
	var board boardResponse
	if err := adapter.FetchJSON(ctx, a.fetcher, endpoint, nil, &board); err != nil {
		return nil, err
	}

	label := adapter.Label(source, co.Slug)
	out := make([]crawler.RawPosting, 0, len(board.Jobs))
	for _, p := range board.Jobs {
		company := co.Name
		if company == "" {
			company = p.CompanyName
		}
		raw := crawler.RawPosting{
			Source:      label,
			SourceURL:   p.AbsoluteURL,
			Title:       p.Title,
			Company:     company,
			Location:    p.Location.Name,
			ApplyURL:    p.AbsoluteURL,
			Description: html.UnescapeString(p.Content),
			PostedAt:    postedAt(p),
		}
		if len(p.Departments) > 0 {
			raw.Industry = p.Departments[0].Name
		}
		out = append(out, raw)
	}
	return out, nil
}

func postedAt(p posting) *time.Time {
	for _, v := range []string{p.FirstPublished, p.UpdatedAt} {
		if v == "" {
			continue
		}
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}
