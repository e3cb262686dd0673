package badger

import (
	"context"
	"testing"

	"github.com/poiesic/maildigest/core"
	"github.com/poiesic/maildigest/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupVectorIndex(t *testing.T, dimension int) *VectorIndex {
	t.Helper()
	backend, err := OpenBackend("", true)
	require.NoError(t, err)
	t.Cleanup(func() { backend.Close() })
	return NewVectorIndex(backend, dimension)
}

func TestVectorIndex_FindSimilarOrdering(t *testing.T) {
	index := setupVectorIndex(t, 0)
	ctx := context.Background()

	require.NoError(t, index.Upsert(ctx,
		core.Embedding{ID: "1", Values: []float32{1, 0, 0}},
		core.Embedding{ID: "2", Values: []float32{0.7, 0.7, 0}},
		core.Embedding{ID: "3", Values: []float32{0, 0, 1}},
	))

	matches, err := index.FindSimilar(ctx, []float32{1, 0, 0}, 0.5, 10)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "1", matches[0].ID)
	assert.InDelta(t, 1.0, matches[0].Score, 1e-6)
	assert.Equal(t, "2", matches[1].ID)
}

func TestVectorIndex_FindSimilarLimit(t *testing.T) {
	index := setupVectorIndex(t, 0)
	ctx := context.Background()

	for _, id := range []string{"1", "2", "3", "4"} {
		require.NoError(t, index.Upsert(ctx, core.Embedding{ID: id, Values: []float32{1, 1}}))
	}

	matches, err := index.FindSimilar(ctx, []float32{1, 1}, 0, 2)
	require.NoError(t, err)
	assert.Len(t, matches, 2)

	_, err = index.FindSimilar(ctx, []float32{1, 1}, 0, 0)
	assert.ErrorIs(t, err, storage.ErrInvalidQuery)
}

func TestVectorIndex_UpsertReplaces(t *testing.T) {
	index := setupVectorIndex(t, 0)
	ctx := context.Background()

	require.NoError(t, index.Upsert(ctx, core.Embedding{ID: "1", Values: []float32{1, 0}}))
	require.NoError(t, index.Upsert(ctx, core.Embedding{ID: "1", Values: []float32{0, 1}}))

	matches, err := index.FindSimilar(ctx, []float32{0, 1}, 0.9, 10)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "1", matches[0].ID)
}

func TestVectorIndex_UpsertValidation(t *testing.T) {
	index := setupVectorIndex(t, 3)
	ctx := context.Background()

	err := index.Upsert(ctx, core.Embedding{ID: "", Values: []float32{1, 2, 3}})
	assert.ErrorIs(t, err, core.ErrEmptyID)

	err = index.Upsert(ctx, core.Embedding{ID: "1"})
	assert.ErrorIs(t, err, core.ErrEmptyVector)

	err = index.Upsert(ctx, core.Embedding{ID: "1", Values: []float32{1, 2}})
	assert.ErrorIs(t, err, storage.ErrDimensionMismatch)
}

func TestVectorIndex_Missing(t *testing.T) {
	index := setupVectorIndex(t, 0)
	ctx := context.Background()

	require.NoError(t, index.Upsert(ctx, core.Embedding{ID: "2", Values: []float32{1}}))

	missing, err := index.Missing(ctx, "1", "2", "3")
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "3"}, missing)
}

func TestCosineSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, cosineSimilarity([]float32{2, 0}, []float32{5, 0}), 1e-6)
	assert.InDelta(t, 0.0, cosineSimilarity([]float32{1, 0}, []float32{0, 1}), 1e-6)
	assert.Equal(t, float32(0), cosineSimilarity([]float32{1}, []float32{1, 2}))
	assert.Equal(t, float32(0), cosineSimilarity([]float32{0, 0}, []float32{1, 2}))
}
