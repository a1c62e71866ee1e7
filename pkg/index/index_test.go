package index

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpsert_EstablishesDimensions(t *testing.T) {
	idx := New(0)
	require.NoError(t, idx.Upsert("a", []float32{1, 0, 0}, time.Now()))
	assert.Equal(t, 3, idx.Dimensions())

	err := idx.Upsert("b", []float32{1, 0}, time.Now())
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestUpsert_FixedDimensions(t *testing.T) {
	idx := New(4)
	err := idx.Upsert("a", []float32{1, 0}, time.Now())
	assert.ErrorIs(t, err, ErrDimensionMismatch)
	assert.Equal(t, 0, idx.Count())
}

func TestNearest_RanksBySimilarity(t *testing.T) {
	idx := New(3)
	now := time.Now()
	require.NoError(t, idx.Upsert("exact", []float32{1, 0, 0}, now))
	require.NoError(t, idx.Upsert("close", []float32{0.9, 0.4359, 0}, now))
	require.NoError(t, idx.Upsert("orthogonal", []float32{0, 1, 0}, now))

	hits, err := idx.Nearest([]float32{1, 0, 0}, 10, 0.5)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "exact", hits[0].ID)
	assert.InDelta(t, 1.0, hits[0].Similarity, 1e-6)
	assert.Equal(t, "close", hits[1].ID)
	assert.InDelta(t, 0.9, hits[1].Similarity, 1e-3)
}

func TestNearest_RespectsK(t *testing.T) {
	idx := New(2)
	now := time.Now()
	require.NoError(t, idx.Upsert("a", []float32{1, 0}, now))
	require.NoError(t, idx.Upsert("b", []float32{0.9, 0.1}, now))
	require.NoError(t, idx.Upsert("c", []float32{0.8, 0.2}, now))

	hits, err := idx.Nearest([]float32{1, 0}, 2, 0)
	require.NoError(t, err)
	assert.Len(t, hits, 2)
}

func TestNearest_TieBreaksByCreation(t *testing.T) {
	idx := New(2)
	older := time.Now().Add(-time.Hour)
	newer := time.Now()
	// Same vector, so identical similarity to any query.
	require.NoError(t, idx.Upsert("newer", []float32{1, 0}, newer))
	require.NoError(t, idx.Upsert("older", []float32{1, 0}, older))

	hits, err := idx.Nearest([]float32{1, 0}, 2, 0)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "older", hits[0].ID, "older note wins similarity ties")
	assert.Equal(t, "newer", hits[1].ID)
}

func TestNearest_ZeroQueryMatchesNothingAboveZero(t *testing.T) {
	idx := New(2)
	require.NoError(t, idx.Upsert("a", []float32{1, 0}, time.Now()))

	hits, err := idx.Nearest([]float32{0, 0}, 10, 0.1)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestNearest_DimensionMismatch(t *testing.T) {
	idx := New(3)
	_, err := idx.Nearest([]float32{1, 0}, 5, 0)
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestRemove_Idempotent(t *testing.T) {
	idx := New(2)
	require.NoError(t, idx.Upsert("a", []float32{1, 0}, time.Now()))
	idx.Remove("a")
	idx.Remove("a")
	assert.False(t, idx.Has("a"))
	assert.Equal(t, 0, idx.Count())
}

func TestSimilarity_Pairwise(t *testing.T) {
	idx := New(2)
	now := time.Now()
	require.NoError(t, idx.Upsert("a", []float32{1, 0}, now))
	require.NoError(t, idx.Upsert("b", []float32{0, 1}, now))
	require.NoError(t, idx.Upsert("c", []float32{3, 0}, now)) // normalizes to (1,0)

	sim, found := idx.Similarity("a", "c")
	assert.True(t, found)
	assert.InDelta(t, 1.0, sim, 1e-6)

	sim, found = idx.Similarity("a", "b")
	assert.True(t, found)
	assert.InDelta(t, 0.0, sim, 1e-6)

	_, found = idx.Similarity("a", "missing")
	assert.False(t, found)
}

func TestUpsert_Replaces(t *testing.T) {
	idx := New(2)
	now := time.Now()
	require.NoError(t, idx.Upsert("a", []float32{1, 0}, now))
	require.NoError(t, idx.Upsert("a", []float32{0, 1}, now))

	hits, err := idx.Nearest([]float32{0, 1}, 1, 0.9)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "a", hits[0].ID)
	assert.Equal(t, 1, idx.Count())
}

func TestNormalize_UnitLength(t *testing.T) {
	out, zero := normalize([]float32{3, 4})
	assert.False(t, zero)
	norm := math.Sqrt(float64(out[0])*float64(out[0]) + float64(out[1])*float64(out[1]))
	assert.InDelta(t, 1.0, norm, 1e-6)
}
