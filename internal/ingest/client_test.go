package ingest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/job-ingest-crawler/internal/crawler"
)

func noSleep(context.Context, time.Duration) error { return nil }

func jobs(n int) []crawler.Job {
	out := make([]crawler.Job, n)
	for i := range out {
		out[i] = crawler.Job{
			Title:    "Graduate Analyst",
			Company:  crawler.Company{Name: "Acme"},
			ApplyURL: "https://acme.example/jobs/" + string(rune('a'+i)),
			JobType:  crawler.JobTypeGraduate,
			Hash:     string(rune('a' + i)),
		}
	}
	return out
}

func newClient(t *testing.T, url string, batch int) *Client {
	t.Helper()
	c, err := New(Config{BaseURL: url + "/", Secret: "s3cret", BatchSize: batch}, crawler.NewRetryPolicy(3, time.Millisecond, time.Millisecond), nil, WithSleep(noSleep))
	require.NoError(t, err)
	return c
}

func TestNewRequiresConfig(t *testing.T) {
	t.Parallel()

	_, err := New(Config{Secret: "x"}, nil, nil)
	require.ErrorIs(t, err, crawler.ErrMissingConfig)
	_, err = New(Config{BaseURL: "https://api.example.com"}, nil, nil)
	require.ErrorIs(t, err, crawler.ErrMissingConfig)
}

func TestIngestBatchesAndAggregates(t *testing.T) {
	t.Parallel()

	var batches []int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, Path, r.URL.Path)
		assert.Equal(t, "s3cret", r.Header.Get("x-seed-secret"))
		assert.Equal(t, "run-42", r.Header.Get("x-run-id"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body struct {
			Data []map[string]any `json:"data"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		batches = append(batches, len(body.Data))
		assert.Equal(t, "graduate", body.Data[0]["jobType"])
		assert.Contains(t, body.Data[0], "industry")

		resp := map[string]any{"created": len(body.Data), "updated": 0, "failed": 0}
		if len(batches) == 1 {
			resp = map[string]any{"created": 1, "updated": 0, "failed": 1, "errors": []map[string]string{{"hash": "b", "error": "bad location"}}}
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	res, err := newClient(t, srv.URL, 2).Ingest(context.Background(), "run-42", jobs(5))
	require.NoError(t, err)
	assert.Equal(t, []int{2, 2, 1}, batches)
	assert.Equal(t, 3, res.Batches)
	assert.Equal(t, 5, res.Sent)
	assert.Equal(t, 4, res.Created)
	assert.Equal(t, 1, res.Failed)
	require.Len(t, res.Failures, 1)
	assert.Equal(t, "b", res.Failures[0].Hash)
	assert.Equal(t, []string{"a", "c", "d", "e"}, res.Delivered)
}

func TestIngestUnauthorizedIsFatal(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	res, err := newClient(t, srv.URL, 1).Ingest(context.Background(), "run", jobs(3))
	require.ErrorIs(t, err, crawler.ErrUnauthorized)
	assert.Equal(t, int32(1), calls.Load())
	assert.Empty(t, res.Delivered)
}

func TestIngestRetriesTransient(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		switch calls.Add(1) {
		case 1:
			w.WriteHeader(http.StatusServiceUnavailable)
		case 2:
			w.WriteHeader(http.StatusTooManyRequests)
		default:
			_, _ = w.Write([]byte(`{"created":0,"updated":1,"failed":0}`))
		}
	}))
	defer srv.Close()

	res, err := newClient(t, srv.URL, 10).Ingest(context.Background(), "run", jobs(1))
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, 1, res.Updated)
	assert.Zero(t, res.FailedBatches)
}

func TestIngestBadRequestContinues(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "schema mismatch", http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte(`{"created":1}`))
	}))
	defer srv.Close()

	res, err := newClient(t, srv.URL, 1).Ingest(context.Background(), "run", jobs(2))
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load(), "4xx is not retried")
	assert.Equal(t, 1, res.FailedBatches)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, 1, res.Created)
	assert.Equal(t, []string{"b"}, res.Delivered)
}

func TestIngestExhaustedRetriesCountAsFailedBatch(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	res, err := newClient(t, srv.URL, 5).Ingest(context.Background(), "run", jobs(2))
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, 1, res.FailedBatches)
	assert.Empty(t, res.Delivered)
}

func TestIngestNetworkErrorRetried(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	c := newClient(t, url, 5)
	res, err := c.Ingest(context.Background(), "run", jobs(1))
	require.NoError(t, err)
	assert.Equal(t, 1, res.FailedBatches)
}

func TestIngestUnreadableResponseIsUnconfirmed(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		switch calls.Add(1) {
		case 1:
			_, _ = w.Write([]byte(`<html>gateway says ok</html>`))
		case 2:
			w.WriteHeader(http.StatusOK)
		default:
			_, _ = w.Write([]byte(`{"created":1}`))
		}
	}))
	defer srv.Close()

	res, err := newClient(t, srv.URL, 2).Ingest(context.Background(), "run", jobs(5))
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, 4, res.Unconfirmed)
	assert.Zero(t, res.FailedBatches)
	assert.Equal(t, []string{"e"}, res.Delivered)
}

func TestIngestUnnamedFailuresAreUnconfirmed(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			_, _ = w.Write([]byte(`{"created":1,"failed":2,"errors":[{"hash":"a","error":"bad title"}]}`))
			return
		}
		_, _ = w.Write([]byte(`{"created":1,"failed":1,"errors":[{"hash":"d","error":"bad location"}]}`))
	}))
	defer srv.Close()

	res, err := newClient(t, srv.URL, 3).Ingest(context.Background(), "run", jobs(5))
	require.NoError(t, err)
	assert.Equal(t, 3, res.Unconfirmed)
	assert.Equal(t, 3, res.Failed)
	assert.Equal(t, 2, res.Created)
	assert.Len(t, res.Failures, 2)
	assert.Equal(t, []string{"e"}, res.Delivered)
}

func TestIngestEmpty(t *testing.T) {
	t.Parallel()

	res, err := newClient(t, "http://127.0.0.1:1", 5).Ingest(context.Background(), "run", nil)
	require.NoError(t, err)
	assert.Zero(t, res.Batches)
}
