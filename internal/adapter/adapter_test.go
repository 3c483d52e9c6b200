package adapter

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/job-ingest-crawler/internal/crawler"
)

type stubAdapter struct{ name string }

func (s stubAdapter) Name() string { return s.name }

func (stubAdapter) Scrape(context.Context, crawler.SourceConfig) ([]crawler.RawPosting, error) {
	return nil, nil
}

type stubFetcher struct {
	resp crawler.FetchResponse
	err  error
	got  crawler.FetchRequest
}

func (s *stubFetcher) Fetch(_ context.Context, req crawler.FetchRequest) (crawler.FetchResponse, error) {
	s.got = req
	return s.resp, s.err
}

func TestRegistry(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	r.Register(crawler.SourceKindLever, stubAdapter{name: "lever"})
	r.Register(crawler.SourceKindGreenhouse, stubAdapter{name: "greenhouse"})

	a, ok := r.Get(crawler.SourceKindLever)
	require.True(t, ok)
	assert.Equal(t, "lever", a.Name())

	_, ok = r.Get(crawler.SourceKindHTML)
	assert.False(t, ok)
	assert.Equal(t, []crawler.SourceKind{crawler.SourceKindGreenhouse, crawler.SourceKindLever}, r.Kinds())
}

func TestLabel(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "greenhouse:stripe", Label(crawler.SourceConfig{Kind: crawler.SourceKindGreenhouse}, "stripe"))
	assert.Equal(t, "uni-board", Label(crawler.SourceConfig{Name: "uni-board", Kind: crawler.SourceKindHTML}, ""))
}

func TestFetchJSON(t *testing.T) {
	t.Parallel()

	f := &stubFetcher{resp: crawler.FetchResponse{StatusCode: 200, Body: []byte(`{"n":3}`)}}
	var out struct{ N int }
	require.NoError(t, FetchJSON(context.Background(), f, "https://api.example.com/x", nil, &out))
	assert.Equal(t, 3, out.N)
	assert.Equal(t, "application/json", f.got.Headers.Get("Accept"))
}

func TestFetchJSONErrors(t *testing.T) {
	t.Parallel()

	var out map[string]any
	bad := &stubFetcher{resp: crawler.FetchResponse{StatusCode: 200, Body: []byte(`<html>`)}}
	err := FetchJSON(context.Background(), bad, "https://api.example.com/x", nil, &out)
	require.ErrorIs(t, err, crawler.ErrPermanent)

	notFound := &stubFetcher{resp: crawler.FetchResponse{StatusCode: 404}}
	err = FetchJSON(context.Background(), notFound, "https://api.example.com/x", nil, &out)
	var fe *crawler.FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, 404, fe.StatusCode)
}
