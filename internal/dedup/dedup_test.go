package dedup

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/job-ingest-crawler/internal/crawler"
	"github.com/JakeFAU/job-ingest-crawler/internal/storage/memory"
)

type brokenStore struct{}

func (brokenStore) Known(context.Context, []string) (map[string]struct{}, error) {
	return nil, errors.New("connection refused")
}

func (brokenStore) Remember(context.Context, []string) error {
	return errors.New("connection refused")
}

func job(hash, title string) crawler.Job {
	return crawler.Job{Hash: hash, Title: title}
}

func TestDedupLaterWinsFirstPosition(t *testing.T) {
	t.Parallel()

	d := New(nil, false, nil)
	out, stats, err := d.Dedup(context.Background(), []crawler.Job{
		job("a", "first a"),
		job("b", "b"),
		job("a", "second a"),
		job("c", "c"),
	})
	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.Equal(t, "second a", out[0].Title)
	assert.Equal(t, "b", out[1].Title)
	assert.Equal(t, "c", out[2].Title)
	assert.Equal(t, Stats{Input: 4, Unique: 3, Duplicates: 1}, stats)
}

func TestDedupSkipsKnown(t *testing.T) {
	t.Parallel()

	store := memory.NewHashStore()
	require.NoError(t, store.Remember(context.Background(), []string{"b"}))

	d := New(store, true, nil)
	out, stats, err := d.Dedup(context.Background(), []crawler.Job{job("a", "a"), job("b", "b")})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "a", out[0].Hash)
	assert.Equal(t, 1, stats.Known)

	d = New(store, false, nil)
	out, _, err = d.Dedup(context.Background(), []crawler.Job{job("a", "a"), job("b", "b")})
	require.NoError(t, err)
	assert.Len(t, out, 2)
}

func TestDedupIdempotentAcrossRuns(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memory.NewHashStore()
	d := New(store, true, nil)
	batch := []crawler.Job{job("a", "a"), job("b", "b")}

	first, _, err := d.Dedup(ctx, batch)
	require.NoError(t, err)
	require.Len(t, first, 2)
	require.NoError(t, d.Remember(ctx, first))

	second, stats, err := d.Dedup(ctx, batch)
	require.NoError(t, err)
	assert.Empty(t, second)
	assert.Equal(t, 2, stats.Known)
}

func TestDedupStoreFailureDegrades(t *testing.T) {
	t.Parallel()

	d := New(brokenStore{}, true, nil)
	out, stats, err := d.Dedup(context.Background(), []crawler.Job{job("a", "a")})
	require.NoError(t, err)
	assert.Len(t, out, 1)
	assert.Zero(t, stats.Known)

	require.Error(t, d.Remember(context.Background(), out))
}

func TestDedupCanceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := New(nil, false, nil).Dedup(ctx, []crawler.Job{job("a", "a")})
	require.ErrorIs(t, err, context.Canceled)
}
