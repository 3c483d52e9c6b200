package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashStoreKnownAndRemember(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewHashStore()

	known, err := store.Known(ctx, []string{"a", "b"})
	require.NoError(t, err)
	assert.Empty(t, known)

	require.NoError(t, store.Remember(ctx, []string{"a", "c", "a"}))
	assert.Equal(t, 2, store.Len())

	known, err = store.Known(ctx, []string{"a", "b", "c"})
	require.NoError(t, err)
	assert.Equal(t, map[string]struct{}{"a": {}, "c": {}}, known)
}
