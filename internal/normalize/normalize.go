// Package normalize maps raw postings onto the canonical Job schema,
// classifies them and applies the relevance filter.
package normalize

import (
	"fmt"
	"html"
	"strings"

	"github.com/gosimple/slug"
	"github.com/microcosm-cc/bluemonday"
	"go.uber.org/zap"

	"github.com/JakeFAU/job-ingest-crawler/internal/crawler"
	"github.com/JakeFAU/job-ingest-crawler/internal/metrics"
)

// DropReason explains why a posting did not become a Job.
type DropReason string

// Drop reasons, also used as metric labels.
const (
	DropMissingTitle    DropReason = "missing_title"
	DropMissingApplyURL DropReason = "missing_apply_url"
	DropInvalidApplyURL DropReason = "invalid_apply_url"
	DropNotRelevant     DropReason = "not_relevant"
	DropSeniority       DropReason = "seniority"
	DropHashFailed      DropReason = "hash_failed"
)

const (
	fieldSeparator = "\x1f"
	slugHashLen    = 8
)

// Normalizer turns raw postings into canonical jobs.
type Normalizer struct {
	classifier *Classifier
	hasher     crawler.Hasher
	strip      *bluemonday.Policy
	logger     *zap.Logger
}

// New builds a Normalizer.
func New(classifier *Classifier, hasher crawler.Hasher, logger *zap.Logger) *Normalizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Normalizer{
		classifier: classifier,
		hasher:     hasher,
		strip:      bluemonday.StrictPolicy(),
		logger:     logger.Named("normalize"),
	}
}

// Result is the outcome of normalizing one batch.
type Result struct {
	Jobs    []crawler.Job
	Dropped map[DropReason]int
}

// All normalizes raws in order. defaultCompany fills postings that carry no
// employer name.
func (n *Normalizer) All(raws []crawler.RawPosting, defaultCompany string) Result {
	res := Result{Jobs: make([]crawler.Job, 0, len(raws)), Dropped: make(map[DropReason]int)}
	for _, raw := range raws {
		job, reason := n.Normalize(raw, defaultCompany)
		if reason != "" {
			res.Dropped[reason]++
			continue
		}
		res.Jobs = append(res.Jobs, job)
	}
	return res
}

// Normalize converts one posting. A non-empty reason means the posting was dropped.
func (n *Normalizer) Normalize(raw crawler.RawPosting, defaultCompany string) (crawler.Job, DropReason) {
	title := CleanText(raw.Title)
	if title == "" {
		return n.drop(raw, DropMissingTitle, nil)
	}
	if strings.TrimSpace(raw.ApplyURL) == "" {
		return n.drop(raw, DropMissingApplyURL, nil)
	}
	resolved, err := crawler.ResolveURL(raw.SourceURL, raw.ApplyURL)
	if err != nil {
		return n.drop(raw, DropInvalidApplyURL, err)
	}
	applyURL, err := crawler.NormalizeURL(resolved)
	if err != nil {
		return n.drop(raw, DropInvalidApplyURL, err)
	}

	description := n.PlainText(raw.Description)
	if ok, reason := n.classifier.Relevant(title, description); !ok {
		return n.drop(raw, reason, nil)
	}

	company := CleanText(raw.Company)
	if company == "" {
		company = CleanText(defaultCompany)
	}
	source := CleanText(raw.Source)

	hash, err := n.Hash(title, company, applyURL, source)
	if err != nil {
		return n.drop(raw, DropHashFailed, err)
	}

	sourceURL := applyURL
	if raw.SourceURL != "" {
		if canon, err := crawler.NormalizeURL(raw.SourceURL); err == nil {
			sourceURL = canon
		}
	}

	return crawler.Job{
		Source:        source,
		SourceURL:     sourceURL,
		Title:         title,
		Company:       crawler.Company{Name: company},
		Location:      CleanText(raw.Location),
		ApplyURL:      applyURL,
		JobType:       n.classifier.Classify(title, description),
		Industry:      optional(raw.Industry),
		Salary:        optional(raw.Salary),
		RelatedDegree: optional(raw.RelatedDegree),
		DegreeLevel:   optional(raw.DegreeLevel),
		Description:   description,
		PostedAt:      raw.PostedAt,
		Slug:          Slug(title, company, hash),
		Hash:          hash,
	}, ""
}

// Hash computes the identity key: hex SHA-256 over the lowercased,
// whitespace-collapsed title, company, canonical apply URL and source.
func (n *Normalizer) Hash(title, company, applyURL, source string) (string, error) {
	key := strings.Join([]string{
		strings.ToLower(CleanText(title)),
		strings.ToLower(CleanText(company)),
		strings.ToLower(applyURL),
		strings.ToLower(CleanText(source)),
	}, fieldSeparator)
	sum, err := n.hasher.Hash([]byte(key))
	if err != nil {
		return "", fmt.Errorf("hash job identity: %w", err)
	}
	return sum, nil
}

// PlainText strips markup from s. Escaped HTML, as some APIs return it, is
// unescaped first.
func (n *Normalizer) PlainText(s string) string {
	if strings.TrimSpace(s) == "" {
		return ""
	}
	s = html.UnescapeString(s)
	// Keep words in adjacent blocks apart once tags are gone.
	s = strings.ReplaceAll(s, "<", " <")
	s = n.strip.Sanitize(s)
	return CleanText(html.UnescapeString(s))
}

func (n *Normalizer) drop(raw crawler.RawPosting, reason DropReason, err error) (crawler.Job, DropReason) {
	fields := []zap.Field{
		zap.String("source", raw.Source),
		zap.String("title", raw.Title),
		zap.String("apply_url", raw.ApplyURL),
		zap.String("reason", string(reason)),
	}
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	n.logger.Debug("dropping posting", fields...)
	metrics.ObserveDrop(string(reason))
	return crawler.Job{}, reason
}

// Slug builds the display slug: title and company plus a hash prefix.
func Slug(title, company, hash string) string {
	suffix := hash
	if len(suffix) > slugHashLen {
		suffix = suffix[:slugHashLen]
	}
	return slug.Make(strings.TrimSpace(title + " " + company + " " + suffix))
}

// CleanText collapses whitespace, including non-breaking spaces, and trims.
func CleanText(s string) string {
	s = strings.ReplaceAll(s, "\u00a0", " ")
	return strings.Join(strings.Fields(s), " ")
}

func optional(s string) *string {
	s = CleanText(s)
	if s == "" {
		return nil
	}
	return &s
}
