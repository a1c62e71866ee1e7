// Package search implements hybrid retrieval over the note collection:
// semantic similarity from embedding vectors blended with lexical
// keyword overlap from an inverted index.
//
// The blend is a single weighted sum:
//
//	score = α × semantic + (1 − α) × lexical
//
// where semantic is cosine similarity clamped to [0, 1], lexical is the
// IDF-weighted term overlap in [0, 1], and α (default 0.6) leans the
// ranking toward meaning over exact wording. When no embedding provider
// is configured — or the provider is unreachable at query time — the
// engine degrades to pure lexical ranking (α = 0) instead of failing,
// so search keeps working offline.
//
// Retrieval has side effects: every returned note gets its retrieval
// counter bumped, its last-accessed timestamp refreshed, and a
// diminishing-returns importance boost. Those writes are best-effort;
// a version conflict with a concurrent writer never fails the search.
package search

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/orneryd/muninn/pkg/embed"
	"github.com/orneryd/muninn/pkg/importance"
	"github.com/orneryd/muninn/pkg/index"
	"github.com/orneryd/muninn/pkg/note"
	"github.com/orneryd/muninn/pkg/store"
)

// ErrInvalidLimit is returned when Search is called with limit <= 0.
var ErrInvalidLimit = errors.New("search: limit must be positive")

// DefaultAlpha is the default semantic weight in the hybrid blend.
const DefaultAlpha = 0.6

// retrievalPutRetries bounds optimistic-write retries for the
// retrieval side effects.
const retrievalPutRetries = 3

// Result is a single ranked search hit.
type Result struct {
	Note     *note.Note `json:"note"`
	Score    float64    `json:"score"`
	Semantic float64    `json:"semantic"`
	Lexical  float64    `json:"lexical"`
}

// Engine ranks notes with the hybrid semantic+lexical score.
// Safe for concurrent use.
type Engine struct {
	store    store.Store
	vectors  *index.Index
	lexical  *LexicalIndex
	provider embed.Provider // nil: lexical-only
	scorer   *importance.Scorer
	alpha    float64
	logger   *log.Logger
}

// Options configures an Engine.
type Options struct {
	// Provider supplies query embeddings. Nil disables semantic scoring.
	Provider embed.Provider

	// Alpha is the semantic weight in [0, 1]. Zero value means
	// DefaultAlpha; pass a negative value for an explicit 0.
	Alpha float64

	// Logger receives degradation notices. Nil discards them.
	Logger *log.Logger
}

// NewEngine creates a search engine over the given store and indexes.
// The scorer applies the retrieval side effects; it must not be nil.
func NewEngine(s store.Store, vectors *index.Index, lexical *LexicalIndex, scorer *importance.Scorer, opts Options) *Engine {
	alpha := opts.Alpha
	if alpha == 0 {
		alpha = DefaultAlpha
	}
	if alpha < 0 {
		alpha = 0
	}
	if alpha > 1 {
		alpha = 1
	}
	return &Engine{
		store:    s,
		vectors:  vectors,
		lexical:  lexical,
		provider: opts.Provider,
		scorer:   scorer,
		alpha:    alpha,
		logger:   opts.Logger,
	}
}

// Search returns up to limit notes ranked by hybrid score, best first.
//
// An empty or stop-word-only query returns an empty result, not an
// error. limit <= 0 returns ErrInvalidLimit. Ties on score break by
// importance (descending), then last-accessed (most recent first).
func (e *Engine) Search(ctx context.Context, query string, limit int) ([]Result, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidLimit, limit)
	}

	terms := Tokenize(query)
	if len(terms) == 0 {
		return []Result{}, nil
	}

	lexScores := e.lexical.Match(terms)
	semScores := e.semanticScores(ctx, query)

	alpha := e.alpha
	if semScores == nil {
		// No provider, or the provider is down: lexical-only ranking.
		alpha = 0
	}

	// Candidates: any note matched by either side.
	candidates := make(map[string]bool, len(lexScores)+len(semScores))
	for id := range lexScores {
		candidates[id] = true
	}
	for id := range semScores {
		candidates[id] = true
	}

	results := make([]Result, 0, len(candidates))
	for id := range candidates {
		n, err := e.store.Get(id)
		if err != nil {
			// Index can briefly trail the store after a delete.
			continue
		}
		sem := semScores[id]
		if sem < 0 {
			sem = 0
		}
		lex := lexScores[id]
		score := alpha*sem + (1-alpha)*lex
		if score <= 0 {
			continue
		}
		results = append(results, Result{Note: n, Score: score, Semantic: sem, Lexical: lex})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		if results[i].Note.Importance != results[j].Note.Importance {
			return results[i].Note.Importance > results[j].Note.Importance
		}
		return results[i].Note.LastAccessed.After(results[j].Note.LastAccessed)
	})
	if len(results) > limit {
		results = results[:limit]
	}

	e.recordRetrievals(results)
	return results, nil
}

// semanticScores embeds the query and returns cosine similarity per
// indexed note. Returns nil when semantic scoring is unavailable
// (no provider, provider down, or dimension mismatch).
func (e *Engine) semanticScores(ctx context.Context, query string) map[string]float64 {
	if e.provider == nil {
		return nil
	}
	vec, err := e.provider.Embed(ctx, query)
	if err != nil {
		if e.logger != nil {
			e.logger.Printf("search: embedding unavailable, lexical-only ranking: %v", err)
		}
		return nil
	}
	hits, err := e.vectors.Nearest(vec, e.vectors.Count(), 0)
	if err != nil {
		if e.logger != nil {
			e.logger.Printf("search: vector lookup failed, lexical-only ranking: %v", err)
		}
		return nil
	}
	scores := make(map[string]float64, len(hits))
	for _, h := range hits {
		scores[h.ID] = h.Similarity
	}
	return scores
}

// recordRetrievals applies the retrieval side effects to each returned
// note: counter, last-accessed, importance boost. Writes retry on
// version conflict against a fresh read; persistent conflicts are
// logged and skipped, never surfaced to the caller.
func (e *Engine) recordRetrievals(results []Result) {
	now := time.Now()
	for _, r := range results {
		n := r.Note
		e.scorer.RecordRetrieval(n, now)
		if err := e.putWithRetry(n, now); err != nil && e.logger != nil {
			e.logger.Printf("search: retrieval update skipped for %s: %v", n.ID, err)
		}
	}
}

func (e *Engine) putWithRetry(n *note.Note, now time.Time) error {
	err := e.store.Put(n, n.Version)
	for attempt := 1; errors.Is(err, store.ErrVersionConflict) && attempt < retrievalPutRetries; attempt++ {
		time.Sleep(time.Duration(attempt) * 5 * time.Millisecond)
		fresh, getErr := e.store.Get(n.ID)
		if getErr != nil {
			return getErr
		}
		e.scorer.RecordRetrieval(fresh, now)
		*n = *fresh
		err = e.store.Put(fresh, fresh.Version)
		if err == nil {
			n.Version = fresh.Version
		}
	}
	return err
}
