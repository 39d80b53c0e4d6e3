package weaviate_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chunkforge/internal/adapter/weaviate"
	"chunkforge/internal/embedding"
	"chunkforge/internal/testutils"
)

func TestWeaviateStore_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := testutils.NewIntegrationSuite(t)
	s.Setup()
	defer s.Teardown()

	store := weaviate.NewStore(s.Weaviate)
	ctx := context.Background()
	require.NoError(t, store.EnsureSchema(ctx))

	for i, gen := range []string{"g1", "g1", "g2"} {
		err := store.StoreChunk(ctx, embedding.VectorChunk{
			FileID:     "f1",
			Generation: gen,
			ChunkIndex: i,
			Content:    "Postgres is a database",
			Vector:     []float32{0.1, 0.2, 0.3},
		})
		require.NoError(t, err)
	}

	count, err := store.CountChunks(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	require.NoError(t, store.DeleteStaleGenerations(ctx, "f1", "g2"))
	count, err = store.CountChunks(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	require.NoError(t, store.DeleteChunksByFile(ctx, "f1"))
	count, err = store.CountChunks(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}
