// Package index provides the in-memory similarity index shared by search
// and evolution.
//
// The index maps note identity to its embedding vector and answers two
// queries: top-K nearest neighbors above a minimum similarity, and pairwise
// cosine similarity between two named notes. Vectors are normalized on
// insert so similarity reduces to a dot product.
//
// The index holds no durable state; it is rebuilt in full from the note
// store on process start. Memory footprint is O(notes × dimensions).
//
// Example:
//
//	idx := index.New(4)
//	idx.Upsert("a", []float32{1, 0, 0, 0}, createdAtA)
//	idx.Upsert("b", []float32{0.9, 0.1, 0, 0}, createdAtB)
//
//	hits, err := idx.Nearest([]float32{1, 0, 0, 0}, 10, 0.5)
//	// hits[0].ID == "a" (similarity 1.0), hits[1].ID == "b"
//
// Thread Safety:
//
//	All reads may proceed concurrently; Upsert and Remove take the write
//	lock. Safe for use from multiple goroutines.
package index

import (
	"errors"
	"math"
	"sort"
	"sync"
	"time"
)

// ErrDimensionMismatch is returned when a vector's length differs from the
// index's fixed dimensionality.
var ErrDimensionMismatch = errors.New("vector dimension mismatch")

// Hit is a nearest-neighbor result.
type Hit struct {
	ID         string
	Similarity float64
}

type entry struct {
	vector    []float32 // unit length, or all zeros
	zero      bool      // true when the original vector had zero norm
	createdAt time.Time
}

// Index is the similarity index.
type Index struct {
	mu         sync.RWMutex
	dimensions int // 0 until established by config or first insert
	entries    map[string]entry
}

// New creates an index with the given dimensionality. Pass 0 to let the
// first inserted vector establish it.
func New(dimensions int) *Index {
	return &Index{
		dimensions: dimensions,
		entries:    make(map[string]entry),
	}
}

// Upsert replaces any prior vector for id. The note's creation timestamp
// is kept for deterministic tie-breaking in Nearest.
func (ix *Index) Upsert(id string, vector []float32, createdAt time.Time) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if ix.dimensions == 0 {
		ix.dimensions = len(vector)
	}
	if len(vector) != ix.dimensions {
		return ErrDimensionMismatch
	}

	normalized, zero := normalize(vector)
	ix.entries[id] = entry{vector: normalized, zero: zero, createdAt: createdAt}
	return nil
}

// Remove deletes the entry for id. Removing an absent id is a no-op.
func (ix *Index) Remove(id string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	delete(ix.entries, id)
}

// Nearest returns up to k ids ranked descending by cosine similarity to
// the query vector, excluding entries below minSimilarity. Ties are broken
// by lower creation timestamp so ordering is stable across calls.
func (ix *Index) Nearest(query []float32, k int, minSimilarity float64) ([]Hit, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	if ix.dimensions != 0 && len(query) != ix.dimensions {
		return nil, ErrDimensionMismatch
	}
	if k <= 0 {
		return nil, nil
	}

	normalizedQuery, zero := normalize(query)

	type scored struct {
		id        string
		score     float64
		createdAt time.Time
	}
	var results []scored
	for id, e := range ix.entries {
		var sim float64
		if !zero && !e.zero {
			sim = dot(normalizedQuery, e.vector)
		}
		if sim >= minSimilarity {
			results = append(results, scored{id: id, score: sim, createdAt: e.createdAt})
		}
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].score != results[j].score {
			return results[i].score > results[j].score
		}
		return results[i].createdAt.Before(results[j].createdAt)
	})

	if len(results) > k {
		results = results[:k]
	}

	hits := make([]Hit, len(results))
	for i, r := range results {
		hits[i] = Hit{ID: r.id, Similarity: r.score}
	}
	return hits, nil
}

// Similarity returns the cosine similarity between two indexed notes.
// Returns 0 when either id is absent or either vector is zero; found
// reports whether both ids were present.
func (ix *Index) Similarity(a, b string) (sim float64, found bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	ea, okA := ix.entries[a]
	eb, okB := ix.entries[b]
	if !okA || !okB {
		return 0, false
	}
	if ea.zero || eb.zero {
		return 0, true
	}
	return dot(ea.vector, eb.vector), true
}

// Has reports whether an entry exists for id.
func (ix *Index) Has(id string) bool {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	_, ok := ix.entries[id]
	return ok
}

// Count returns the number of indexed vectors.
func (ix *Index) Count() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.entries)
}

// Dimensions returns the index's fixed dimensionality (0 if not yet
// established).
func (ix *Index) Dimensions() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.dimensions
}

// normalize returns a unit vector and whether the input had zero norm.
// A zero vector is kept as-is; callers treat it as similarity 0 against
// everything so no division by zero can occur.
func normalize(vec []float32) ([]float32, bool) {
	var sumSquares float64
	for _, v := range vec {
		sumSquares += float64(v) * float64(v)
	}
	if sumSquares == 0 {
		return vec, true
	}
	norm := math.Sqrt(sumSquares)
	out := make([]float32, len(vec))
	for i, v := range vec {
		out[i] = float32(float64(v) / norm)
	}
	return out, false
}

// dot computes the dot product. For unit vectors this is the cosine
// similarity.
func dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}
