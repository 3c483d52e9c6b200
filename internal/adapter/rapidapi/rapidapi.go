// Package rapidapi reads postings from a JSearch-style aggregator hosted on
// RapidAPI.
package rapidapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/job-ingest-crawler/internal/adapter"
	"github.com/JakeFAU/job-ingest-crawler/internal/crawler"
)

const (
	// DefaultHost is used when a source does not set api_host.
	DefaultHost = "jsearch.p.rapidapi.com"

	defaultMaxPages = 1
)

// Adapter runs each configured query against the aggregator.
type Adapter struct {
	fetcher crawler.Fetcher
	baseURL string
	logger  *zap.Logger
}

var _ crawler.Adapter = (*Adapter)(nil)

// Option customizes an Adapter.
type Option func(*Adapter)

// WithBaseURL overrides the https://{api_host} root.
func WithBaseURL(u string) Option {
	return func(a *Adapter) { a.baseURL = strings.TrimRight(u, "/") }
}

// New creates an Adapter that issues requests through f.
func New(f crawler.Fetcher, logger *zap.Logger, opts ...Option) *Adapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &Adapter{fetcher: f, logger: logger.Named("rapidapi")}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Name implements crawler.Adapter.
func (a *Adapter) Name() string { return string(crawler.SourceKindRapidAPI) }

type searchResponse struct {
	Status string    `json:"status"`
	Data   []posting `json:"data"`
}

type posting struct {
	JobID          string   `json:"job_id"`
	Title          string   `json:"job_title"`
	EmployerName   string   `json:"employer_name"`
	ApplyLink      string   `json:"job_apply_link"`
	GoogleLink     string   `json:"job_google_link"`
	City           string   `json:"job_city"`
	State          string   `json:"job_state"`
	Country        string   `json:"job_country"`
	Description    string   `json:"job_description"`
	PostedAt       string   `json:"job_posted_at_datetime_utc"`
	MinSalary      *float64 `json:"job_min_salary"`
	MaxSalary      *float64 `json:"job_max_salary"`
	SalaryCurrency string   `json:"job_salary_currency"`
	SalaryPeriod   string   `json:"job_salary_period"`
	Highlights     struct {
		Qualifications []string `json:"Qualifications"`
	} `json:"job_highlights"`
}

// Scrape runs every query for up to max_pages pages. A failing query is
// logged and reported in the returned error while the others continue.
func (a *Adapter) Scrape(ctx context.Context, source crawler.SourceConfig) ([]crawler.RawPosting, error) {
	if strings.TrimSpace(source.APIKey) == "" {
		return nil, &crawler.SourceError{Source: adapter.Label(source, ""), Err: fmt.Errorf("%w: rapidapi key", crawler.ErrMissingConfig)}
	}
	host := source.APIHost
	if host == "" {
		host = DefaultHost
	}
	base := a.baseURL
	if base == "" {
		base = "https://" + host
	}
	headers := http.Header{}
	headers.Set("X-RapidAPI-Key", source.APIKey)
	headers.Set("X-RapidAPI-Host", host)

	maxPages := source.MaxPages
	if maxPages <= 0 {
		maxPages = defaultMaxPages
	}

	var (
		out  []crawler.RawPosting
		errs []error
	)
	for _, query := range source.Queries {
		postings, err := a.query(ctx, source, base, headers, query, maxPages)
		out = append(out, postings...)
		if err != nil {
			a.logger.Warn("query failed", zap.String("query", query), zap.Error(err))
			errs = append(errs, &crawler.SourceError{Source: adapter.Label(source, query), Err: err})
			if ctx.Err() != nil {
				break
			}
		}
	}
	return out, errors.Join(errs...)
}

// query keeps the pages fetched before a failure.
func (a *Adapter) query(ctx context.Context, source crawler.SourceConfig, base string, headers http.Header, query string, maxPages int) ([]crawler.RawPosting, error) {
	label := adapter.Label(source, "")
	var out []crawler.RawPosting
	for page := 1; page <= maxPages; page++ {
		q := url.Values{}
		q.Set("query", query)
		q.Set("page", strconv.Itoa(page))
		q.Set("num_pages", "1")
		endpoint := base + "/search?" + q.Encode()

		var resp searchResponse
		if err := adapter.FetchJSON(ctx, a.fetcher, endpoint, headers, &resp); err != nil {
			return out, fmt.Errorf("page %d: %w", page, err)
		}
		if resp.Status != "" && !strings.EqualFold(resp.Status, "OK") {
			return out, fmt.Errorf("page %d: %w: api status %q", page, crawler.ErrPermanent, resp.Status)
		}
		for _, p := range resp.Data {
			out = append(out, toRaw(p, label, source.Company))
		}
		if len(resp.Data) == 0 {
			break
		}
	}
	return out, nil
}

func toRaw(p posting, label, fallbackCompany string) crawler.RawPosting {
	company := p.EmployerName
	if company == "" {
		company = fallbackCompany
	}
	apply := p.ApplyLink
	if apply == "" {
		apply = p.GoogleLink
	}
	raw := crawler.RawPosting{
		Source:      label,
		SourceURL:   p.GoogleLink,
		Title:       p.Title,
		Company:     company,
		Location:    joinNonEmpty(", ", p.City, p.State, p.Country),
		ApplyURL:    apply,
		Description: p.Description,
		Salary:      salary(p),
	}
	if len(p.Highlights.Qualifications) > 0 {
		raw.RelatedDegree = degreeHint(p.Highlights.Qualifications)
	}
	if t, err := time.Parse(time.RFC3339, p.PostedAt); err == nil {
		t = t.UTC()
		raw.PostedAt = &t
	}
	return raw
}

func salary(p posting) string {
	if p.MinSalary == nil && p.MaxSalary == nil {
		return ""
	}
	format := func(v *float64) string {
		if v == nil {
			return "?"
		}
		return strconv.FormatFloat(*v, 'f', -1, 64)
	}
	var b strings.Builder
	if p.SalaryCurrency != "" {
		b.WriteString(p.SalaryCurrency)
		b.WriteByte(' ')
	}
	b.WriteString(format(p.MinSalary))
	if p.MaxSalary != nil && (p.MinSalary == nil || *p.MaxSalary != *p.MinSalary) {
		b.WriteByte('-')
		b.WriteString(format(p.MaxSalary))
	}
	if p.SalaryPeriod != "" {
		b.WriteByte('/')
		b.WriteString(strings.ToLower(p.SalaryPeriod))
	}
	return b.String()
}

// degreeHint returns the first qualification line that mentions a degree.
func degreeHint(lines []string) string {
	for _, l := range lines {
		lower := strings.ToLower(l)
		if strings.Contains(lower, "degree") || strings.Contains(lower, "bachelor") || strings.Contains(lower, "master") {
			return strings.TrimSpace(l)
		}
	}
	return ""
}

func joinNonEmpty(sep string, parts ...string) string {
	kept := parts[:0:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, sep)
}
