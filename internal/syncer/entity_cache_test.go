package syncer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/propsync-io/propsync/internal/ingestion"
)

func TestEntityCache(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	ctx := context.Background()
	store := newMemEntityStore()
	p1 := store.seed(ingestion.ResourceProperties, "P1")
	p2 := store.seed(ingestion.ResourceProperties, "P2")

	cache := NewEntityCache(store)

	t.Run("prefetch dedupes and skips blanks", func(t *testing.T) {
		require.NoError(t, cache.Prefetch(ctx, ingestion.ResourceProperties, []string{"P1", "P1", "", "P2", "P9"}))

		assert.Equal(t, 2, cache.Len(ingestion.ResourceProperties))
		assert.Equal(t, 1, cache.Lookups())
	})

	t.Run("prefetch of cached ids issues no query", func(t *testing.T) {
		require.NoError(t, cache.Prefetch(ctx, ingestion.ResourceProperties, []string{"P1", "P2"}))

		assert.Equal(t, 1, cache.Lookups())
	})

	t.Run("resolve hits", func(t *testing.T) {
		id, found, err := cache.Resolve(ctx, ingestion.ResourceProperties, "P2")
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, p2, id)
		assert.Equal(t, 1, cache.Lookups())
	})

	t.Run("resolve miss falls back to the store", func(t *testing.T) {
		_, found, err := cache.Resolve(ctx, ingestion.ResourceProperties, "P9")
		require.NoError(t, err)
		assert.False(t, found)
		assert.Equal(t, 2, cache.Lookups())
		assert.Equal(t, 1, store.singleLookups)
	})

	t.Run("put makes fresh rows resolvable", func(t *testing.T) {
		cache.Put(ingestion.ResourceUnits, "U1", 77)

		id, found, err := cache.Resolve(ctx, ingestion.ResourceUnits, "U1")
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, int64(77), id)
		assert.Equal(t, 1, store.singleLookups)
	})

	t.Run("types are isolated", func(t *testing.T) {
		_, found, err := cache.Resolve(ctx, ingestion.ResourceUnits, "P1")
		require.NoError(t, err)
		assert.False(t, found)

		id, found, err := cache.Resolve(ctx, ingestion.ResourceProperties, "P1")
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, p1, id)
	})
}
