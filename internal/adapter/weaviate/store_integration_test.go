package weaviate_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"seen/internal/adapter/weaviate"
	"seen/internal/index"
	"seen/internal/testutils"
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

	entries := []index.Entry{
		{ID: "a1b2-c3-0", Values: []float32{1, 0, 0}, Metadata: &index.Metadata{DocumentID: "a1b2-c3", ChunkIndex: 0}},
		{ID: "a1b2-c3-1", Values: []float32{0, 1, 0}, Metadata: &index.Metadata{DocumentID: "a1b2-c3", ChunkIndex: 1}},
	}
	require.NoError(t, store.Insert(ctx, entries))
	// Re-inserting replaces rather than duplicates.
	require.NoError(t, store.Insert(ctx, entries))

	matches, err := store.Query(ctx, []float32{1, 0, 0}, 5)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "a1b2-c3-0", matches[0].ID)
	assert.InDelta(t, 1.0, matches[0].Score, 1e-4)

	got, err := store.GetByIDs(ctx, []string{"a1b2-c3-1"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, []float32{0, 1, 0}, got[0].Values)

	require.NoError(t, store.DeleteByIDs(ctx, []string{"a1b2-c3-0", "a1b2-c3-1"}))
	matches, err = store.Query(ctx, []float32{1, 0, 0}, 5)
	require.NoError(t, err)
	assert.Empty(t, matches)
}
