// Package adapter holds the registry of source adapters and the helpers the
// structured adapters share.
package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"sync"

	"github.com/JakeFAU/job-ingest-crawler/internal/crawler"
)

// Registry maps a source kind to the adapter that scrapes it.
type Registry struct {
	mu       sync.RWMutex
	adapters map[crawler.SourceKind]crawler.Adapter
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[crawler.SourceKind]crawler.Adapter)}
}

// Register installs a for kind, replacing any previous adapter.
func (r *Registry) Register(kind crawler.SourceKind, a crawler.Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[kind] = a
}

// Get looks up the adapter for kind.
func (r *Registry) Get(kind crawler.SourceKind) (crawler.Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[kind]
	return a, ok
}

// Kinds lists the registered kinds in sorted order.
func (r *Registry) Kinds() []crawler.SourceKind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]crawler.SourceKind, 0, len(r.adapters))
	for k := range r.adapters {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Label names a source, or one company of it, in records and failure lists.
func Label(source crawler.SourceConfig, part string) string {
	name := source.Name
	if name == "" {
		name = string(source.Kind)
	}
	if part == "" {
		return name
	}
	return name + ":" + part
}

// FetchJSON GETs rawURL through f and decodes the 2xx body into v. A body
// that is not valid JSON is a permanent failure.
func FetchJSON(ctx context.Context, f crawler.Fetcher, rawURL string, headers http.Header, v any) error {
	h := http.Header{}
	for k, vals := range headers {
		h[k] = append([]string(nil), vals...)
	}
	h.Set("Accept", "application/json")

	resp, err := f.Fetch(ctx, crawler.FetchRequest{URL: rawURL, Headers: h})
	if err != nil {
		return err
	}
	if err := crawler.ClassifyStatus(resp.StatusCode); err != nil {
		return &crawler.FetchError{URL: rawURL, StatusCode: resp.StatusCode, Err: err}
	}
	if err := json.Unmarshal(resp.Body, v); err != nil {
		return &crawler.FetchError{URL: rawURL, Err: fmt.Errorf("%w: decode json: %w", crawler.ErrPermanent, err)}
	}
	return nil
}
