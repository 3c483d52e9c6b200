package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/job-ingest-crawler/internal/crawler"
)

type scripted struct {
	status int
	body   string
	err    error
}

type stubTransport struct {
	mu      sync.Mutex
	scripts map[string][]scripted
	calls   map[string]int
	block   bool
}

func newStubTransport() *stubTransport {
	return &stubTransport{scripts: map[string][]scripted{}, calls: map[string]int{}}
}

func (s *stubTransport) on(url string, steps ...scripted) {
	s.scripts[url] = steps
}

func (s *stubTransport) Fetch(ctx context.Context, req crawler.FetchRequest) (crawler.FetchResponse, error) {
	s.mu.Lock()
	idx := s.calls[req.URL]
	s.calls[req.URL]++
	steps := s.scripts[req.URL]
	s.mu.Unlock()

	if s.block {
		<-ctx.Done()
		return crawler.FetchResponse{}, ctx.Err()
	}
	if len(steps) == 0 {
		return crawler.FetchResponse{URL: req.URL, StatusCode: http.StatusNotFound}, nil
	}
	if idx >= len(steps) {
		idx = len(steps) - 1
	}
	step := steps[idx]
	if step.err != nil {
		return crawler.FetchResponse{}, step.err
	}
	return crawler.FetchResponse{URL: req.URL, StatusCode: step.status, Body: []byte(step.body)}, nil
}

func (s *stubTransport) count(url string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[url]
}

type countingGate struct {
	mu       sync.Mutex
	acquired int
	released int
}

func (g *countingGate) Acquire(_ context.Context, _ string) (func(), error) {
	g.mu.Lock()
	g.acquired++
	g.mu.Unlock()
	return func() {
		g.mu.Lock()
		g.released++
		g.mu.Unlock()
	}, nil
}

type denyPolicy struct{}

func (denyPolicy) Admit(rawURL string) error {
	return fmt.Errorf("%w: %s", crawler.ErrDomainBlocked, rawURL)
}

func noSleep(context.Context, time.Duration) error { return nil }

func newLayer(t *testing.T, transport crawler.Fetcher, gate crawler.Gate, cfg Config) *Layer {
	t.Helper()
	return New(transport, gate, crawler.NewRetryPolicy(3, time.Millisecond, 5*time.Millisecond), zap.NewNop(), cfg, WithSleep(noSleep))
}

func TestFetchRetriesTransientThenSucceeds(t *testing.T) {
	t.Parallel()

	tr := newStubTransport()
	tr.on("https://a.example/jobs",
		scripted{status: http.StatusServiceUnavailable},
		scripted{status: http.StatusTooManyRequests},
		scripted{status: http.StatusOK, body: "ok"},
	)
	gate := &countingGate{}
	l := newLayer(t, tr, gate, Config{})

	resp, err := l.Fetch(context.Background(), crawler.FetchRequest{URL: "https://a.example/jobs"})
	require.NoError(t, err)
	assert.Equal(t, "ok", string(resp.Body))
	assert.Equal(t, 3, tr.count("https://a.example/jobs"))
	assert.Equal(t, 3, gate.acquired)
	assert.Equal(t, gate.acquired, gate.released)
}

func TestFetchDoesNotRetryPermanent(t *testing.T) {
	t.Parallel()

	tr := newStubTransport()
	tr.on("https://a.example/gone", scripted{status: http.StatusNotFound})
	l := newLayer(t, tr, &countingGate{}, Config{})

	resp, err := l.Fetch(context.Background(), crawler.FetchRequest{URL: "https://a.example/gone"})
	require.ErrorIs(t, err, crawler.ErrPermanent)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, 1, tr.count("https://a.example/gone"))

	var fe *crawler.FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, http.StatusNotFound, fe.StatusCode)
}

func TestFetchGivesUpAfterMaxAttempts(t *testing.T) {
	t.Parallel()

	tr := newStubTransport()
	tr.on("https://a.example/down", scripted{err: errors.New("connection reset by peer")})
	l := newLayer(t, tr, &countingGate{}, Config{})

	_, err := l.Fetch(context.Background(), crawler.FetchRequest{URL: "https://a.example/down"})
	require.ErrorIs(t, err, crawler.ErrTransient)
	assert.Equal(t, 3, tr.count("https://a.example/down"))
}

func TestFetchTimesOutHungRequest(t *testing.T) {
	t.Parallel()

	tr := newStubTransport()
	tr.block = true
	l := New(tr, &countingGate{}, crawler.NewRetryPolicy(2, time.Millisecond, time.Millisecond), zap.NewNop(),
		Config{RequestTimeout: 20 * time.Millisecond}, WithSleep(noSleep))

	start := time.Now()
	_, err := l.Fetch(context.Background(), crawler.FetchRequest{URL: "https://slow.example/"})
	require.ErrorIs(t, err, crawler.ErrTransient)
	assert.Equal(t, 2, tr.count("https://slow.example/"))
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestFetchRefusedByPolicy(t *testing.T) {
	t.Parallel()

	tr := newStubTransport()
	l := New(tr, &countingGate{}, crawler.NewExponentialRetryPolicy(), zap.NewNop(), Config{}, WithPolicy(denyPolicy{}))

	_, err := l.Fetch(context.Background(), crawler.FetchRequest{URL: "https://blocked.example/"})
	require.ErrorIs(t, err, crawler.ErrDomainBlocked)
	assert.Zero(t, tr.count("https://blocked.example/"))
}

func TestFetchBlocksHostAfterRepeatedForbidden(t *testing.T) {
	t.Parallel()

	tr := newStubTransport()
	tr.on("https://walled.example/a", scripted{status: http.StatusForbidden})
	tr.on("https://walled.example/b", scripted{status: http.StatusForbidden})
	l := newLayer(t, tr, &countingGate{}, Config{ForbiddenThreshold: 2})

	acme := crawler.WithSource(context.Background(), "html:acme")
	globex := crawler.WithSource(context.Background(), "html:globex")
	_, err := l.Fetch(acme, crawler.FetchRequest{URL: "https://walled.example/a"})
	require.ErrorIs(t, err, crawler.ErrPermanent)
	_, err = l.Fetch(globex, crawler.FetchRequest{URL: "https://walled.example/b"})
	require.ErrorIs(t, err, crawler.ErrPermanent)

	_, err = l.Fetch(acme, crawler.FetchRequest{URL: "https://walled.example/c"})
	require.ErrorIs(t, err, crawler.ErrDomainBlocked)
	assert.Zero(t, tr.count("https://walled.example/c"))

	blocks := l.DrainBlockedHosts()
	require.Len(t, blocks, 1)
	assert.Equal(t, "walled.example", blocks[0].Host)
	assert.Equal(t, "html:globex", blocks[0].TrippedBy)
	assert.Equal(t, []string{"html:acme", "html:globex"}, blocks[0].Sources)
}

func TestFetchUnblocksHostAfterDrain(t *testing.T) {
	t.Parallel()

	tr := newStubTransport()
	tr.on("https://walled.example/a", scripted{status: http.StatusUnauthorized})
	tr.on("https://walled.example/b", scripted{status: http.StatusOK, body: "open again"})
	l := newLayer(t, tr, &countingGate{}, Config{ForbiddenThreshold: 1})

	_, err := l.Fetch(context.Background(), crawler.FetchRequest{URL: "https://walled.example/a"})
	require.ErrorIs(t, err, crawler.ErrPermanent)
	_, err = l.Fetch(context.Background(), crawler.FetchRequest{URL: "https://walled.example/b"})
	require.ErrorIs(t, err, crawler.ErrDomainBlocked)

	require.Len(t, l.DrainBlockedHosts(), 1)

	resp, err := l.Fetch(context.Background(), crawler.FetchRequest{URL: "https://walled.example/b"})
	require.NoError(t, err)
	assert.Equal(t, "open again", string(resp.Body))
}

func TestFetchFirstRotatesToUsableURL(t *testing.T) {
	t.Parallel()

	tr := newStubTransport()
	tr.on("https://board.example/primary", scripted{status: http.StatusInternalServerError})
	tr.on("https://board.example/short", scripted{status: http.StatusOK, body: "tiny"})
	tr.on("https://board.example/mirror", scripted{status: http.StatusOK, body: strings.Repeat("x", 64)})
	l := newLayer(t, tr, &countingGate{}, Config{MinBodyBytes: 32})

	resp, err := l.FetchFirst(context.Background(), []string{
		"https://board.example/primary",
		"https://board.example/short",
		"https://board.example/mirror",
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, "https://board.example/mirror", resp.URL)
}

func TestFetchFirstExhausted(t *testing.T) {
	t.Parallel()

	tr := newStubTransport()
	tr.on("https://board.example/a", scripted{status: http.StatusNotFound})
	tr.on("https://board.example/b", scripted{status: http.StatusOK, body: ""})
	l := newLayer(t, tr, &countingGate{}, Config{MinBodyBytes: 1})

	_, err := l.FetchFirst(context.Background(), []string{"https://board.example/a", "https://board.example/b"}, nil)
	require.ErrorIs(t, err, crawler.ErrFallbackExhausted)
	require.ErrorIs(t, err, crawler.ErrPermanent)
	require.ErrorIs(t, err, crawler.ErrUnusableContent)
}

func TestFetchFirstNoURLs(t *testing.T) {
	t.Parallel()

	l := newLayer(t, newStubTransport(), &countingGate{}, Config{})
	_, err := l.FetchFirst(context.Background(), nil, nil)
	require.ErrorIs(t, err, crawler.ErrFallbackExhausted)
}
