package vectorstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMemoryStoreSearchRanksByCosine(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()
	schema := Schema{Name: "docs", Fields: []Field{{Name: "vector", Type: FieldFloatVector, Dimension: 3}}}
	require.NoError(t, store.CreateCollection(ctx, schema))

	require.NoError(t, store.Insert(ctx, "docs", []Record{
		{ID: "a", Vector: []float32{1, 0, 0}, Payload: map[string]any{"tag": "x"}},
		{ID: "b", Vector: []float32{0, 1, 0}, Payload: map[string]any{"tag": "y"}},
	}))

	hits, err := store.Search(ctx, "docs", []float32{1, 0, 0}, 5, nil, nil)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	require.Equal(t, "a", hits[0].ID)
	require.InDelta(t, 1.0, hits[0].Score, 1e-9)
}

func TestMemoryStoreSearchFiltersByPayload(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()
	require.NoError(t, store.CreateCollection(ctx, Schema{Name: "docs", Fields: []Field{{Name: "vector", Type: FieldFloatVector, Dimension: 2}}}))
	require.NoError(t, store.Insert(ctx, "docs", []Record{
		{ID: "a", Vector: []float32{1, 0}, Payload: map[string]any{"userId": "u1"}},
		{ID: "b", Vector: []float32{1, 0}, Payload: map[string]any{"userId": "u2"}},
	}))

	hits, err := store.Search(ctx, "docs", []float32{1, 0}, 5, nil, map[string]string{"userId": "u2"})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	require.Equal(t, "b", hits[0].ID)
}

func TestCreateCollectionRecreatesOnDimensionMismatch(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()
	require.NoError(t, store.CreateCollection(ctx, Schema{Name: "docs", Fields: []Field{{Name: "vector", Type: FieldFloatVector, Dimension: 3}}}))
	require.NoError(t, store.Insert(ctx, "docs", []Record{{ID: "a", Vector: []float32{1, 0, 0}}}))

	require.NoError(t, store.CreateCollection(ctx, Schema{Name: "docs", Fields: []Field{{Name: "vector", Type: FieldFloatVector, Dimension: 8}}}))

	stats, err := store.GetStats(ctx, "docs")
	require.NoError(t, err)
	require.Equal(t, int64(0), stats.PointCount, "dimension change must drop existing points")
}
