// Package evolution keeps the knowledge graph alive between edits: it
// discovers links from embedding similarity, reinforces and decays
// them, propagates tags across strongly-related notes, fills empty
// contexts, and ages importance scores.
//
// Two entry points drive everything:
//
//   - EvolveNote runs the incremental pass for a single note, right
//     after it gains an embedding. It finds the nearest neighbors above
//     the link threshold and wires them in.
//
//   - Sweep runs the periodic maintenance pass over the whole
//     collection: decay and prune weak links, re-run the incremental
//     pass for every note, then age importance.
//
// Link lifecycle:
//
//	discover:  similarity >= minLinkSimilarity creates a link with
//	           strength = similarity
//	reinforce: rediscovery raises strength to max(existing, similarity)
//	           and refreshes last-reinforced
//	decay:     each sweep multiplies non-user link strength by the
//	           decay factor (default 0.98)
//	prune:     strength below the prune threshold (default 0.3) deletes
//	           the link — unless a user created it by hand; user links
//	           are never decayed or pruned
//
// Tag propagation fires on very strong pairs (similarity >= 0.85 by
// default): each note receives the other's tags, at most once per pair
// per sweep, so a hub note cannot flood the graph in a single pass.
// Context refinement is gentler still: a note's context is only ever
// copied into a neighbor whose context is empty, never overwritten.
//
// All note writes are optimistic: read, mutate, compare-and-swap on
// version, retry with backoff on conflict. A sweep that exhausts
// retries on some notes finishes the rest and reports
// ErrPartialFailure with a count, so one contended note cannot stall
// graph maintenance.
//
// ELI12 (Explain Like I'm 12):
//
// Think of your notes as kids in a schoolyard. When two kids have a lot
// in common, they become friends (a link). Friendships that nobody
// exercises slowly fade, and the weakest ones are forgotten — except
// the friendships you set up yourself, which are forever. Best friends
// (really similar notes) swap interests (tags), and a kid who doesn't
// know what group they belong to (empty context) borrows a best
// friend's answer.
package evolution

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/orneryd/muninn/pkg/importance"
	"github.com/orneryd/muninn/pkg/index"
	"github.com/orneryd/muninn/pkg/note"
	"github.com/orneryd/muninn/pkg/search"
	"github.com/orneryd/muninn/pkg/store"
)

// ErrPartialFailure reports a sweep that completed but could not update
// every note. The returned SweepReport carries the failure count.
var ErrPartialFailure = errors.New("evolution: sweep completed with failures")

// Config holds the evolution thresholds and cadence.
type Config struct {
	// MinLinkSimilarity is the cosine similarity floor for creating a
	// link between two notes. Default: 0.75.
	MinLinkSimilarity float64

	// TagPropagationThreshold is the similarity floor for copying tags
	// between linked notes. Must be >= MinLinkSimilarity to be
	// meaningful. Default: 0.85.
	TagPropagationThreshold float64

	// LinkDecayFactor multiplies every non-user link strength on each
	// sweep. Default: 0.98.
	LinkDecayFactor float64

	// LinkPruneThreshold deletes non-user links whose strength falls
	// below it. Default: 0.3.
	LinkPruneThreshold float64

	// NeighborFanout is how many nearest neighbors the incremental pass
	// considers per note. Default: 5.
	NeighborFanout int

	// SweepInterval is the cadence of the background sweep when the
	// engine is started. Default: 1h.
	SweepInterval time.Duration

	// WriteSweepThreshold triggers an extra sweep after this many note
	// writes. Zero disables write-triggered sweeps. Default: 100.
	WriteSweepThreshold int

	// MaxRetries bounds optimistic-write retries per note before the
	// note is counted as failed. Default: 3.
	MaxRetries int
}

// DefaultConfig returns the standard evolution parameters.
func DefaultConfig() *Config {
	return &Config{
		MinLinkSimilarity:       0.75,
		TagPropagationThreshold: 0.85,
		LinkDecayFactor:         0.98,
		LinkPruneThreshold:      0.3,
		NeighborFanout:          5,
		SweepInterval:           time.Hour,
		WriteSweepThreshold:     100,
		MaxRetries:              3,
	}
}

// Engine runs incremental and sweep evolution over a store and its
// indexes. Safe for concurrent use; evolution of a given note is
// serialized, and only one sweep runs at a time.
type Engine struct {
	store   store.Store
	vectors *index.Index
	lexical *search.LexicalIndex
	scorer  *importance.Scorer
	config  *Config
	logger  *log.Logger

	// noteMu serializes evolution per note ID.
	lockMu  sync.Mutex
	noteMu  map[string]*sync.Mutex
	sweepMu sync.Mutex

	writes atomic.Int64

	// Background work — the sweep ticker and write-triggered sweeps —
	// runs under ctx and wg so Stop cancels it and waits for it.
	runMu   sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
	stopped bool
}

// NewEngine creates an evolution engine. If config is nil,
// DefaultConfig() is used. Logger may be nil.
func NewEngine(s store.Store, vectors *index.Index, lexical *search.LexicalIndex, scorer *importance.Scorer, config *Config, logger *log.Logger) *Engine {
	if config == nil {
		config = DefaultConfig()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		store:   s,
		vectors: vectors,
		lexical: lexical,
		scorer:  scorer,
		config:  config,
		logger:  logger,
		noteMu:  make(map[string]*sync.Mutex),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// noteLock returns the mutex serializing evolution of a note.
func (e *Engine) noteLock(id string) *sync.Mutex {
	e.lockMu.Lock()
	defer e.lockMu.Unlock()
	mu := e.noteMu[id]
	if mu == nil {
		mu = &sync.Mutex{}
		e.noteMu[id] = mu
	}
	return mu
}

// RecordWrite notes that a note was written. Every WriteSweepThreshold
// writes it fires an asynchronous sweep, tracked by the engine's
// WaitGroup so Stop waits for it to finish before the caller tears
// down the store underneath it.
func (e *Engine) RecordWrite() {
	if e.config.WriteSweepThreshold <= 0 {
		return
	}
	if e.writes.Add(1)%int64(e.config.WriteSweepThreshold) != 0 {
		return
	}

	e.runMu.Lock()
	defer e.runMu.Unlock()
	if e.stopped {
		return
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		_, err := e.Sweep(e.ctx)
		if err != nil && !errors.Is(err, ErrPartialFailure) && !errors.Is(err, context.Canceled) && e.logger != nil {
			e.logger.Printf("evolution: write-triggered sweep failed: %v", err)
		}
	}()
}

// EvolveNote runs the incremental pass for a single note: neighbor
// discovery, link creation or reinforcement, tag propagation, and
// context refinement. The note must already be present in the vector
// index; otherwise the call is a no-op.
func (e *Engine) EvolveNote(ctx context.Context, id string) error {
	mu := e.noteLock(id)
	mu.Lock()
	defer mu.Unlock()

	return e.evolveLocked(ctx, id, nil, &SweepReport{})
}

// evolveLocked is the incremental pass body. propagated, when non-nil,
// caps tag propagation to once per pair for the enclosing sweep.
func (e *Engine) evolveLocked(ctx context.Context, id string, propagated map[string]bool, report *SweepReport) error {
	n, err := e.store.Get(id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil // deleted since scan
		}
		return err
	}
	if len(n.Embedding) == 0 {
		return nil
	}

	hits, err := e.vectors.Nearest(n.Embedding, e.config.NeighborFanout+1, e.config.MinLinkSimilarity)
	if err != nil {
		return fmt.Errorf("neighbor lookup for %s: %w", id, err)
	}

	taken := 0
	for _, hit := range hits {
		if hit.ID == id {
			continue
		}
		if taken >= e.config.NeighborFanout {
			break
		}
		taken++
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := e.processPair(n, hit.ID, hit.Similarity, propagated, report); err != nil {
			return err
		}
	}
	return nil
}

// processPair wires one neighbor: link create/reinforce, then tag and
// context exchange when the pair is strong enough.
func (e *Engine) processPair(n *note.Note, otherID string, sim float64, propagated map[string]bool, report *SweepReport) error {
	now := time.Now()

	_, err := e.store.GetLink(n.ID, otherID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		link, lerr := note.NewLink(n.ID, otherID, sim, false)
		if lerr != nil {
			return lerr
		}
		link.LastReinforced = now
		if perr := e.store.PutLink(link); perr != nil {
			return perr
		}
		report.LinksCreated++
	case err != nil:
		return err
	default:
		// Reinforce against the stored strength, not the copy read
		// above, so a concurrent write is never lowered.
		uerr := e.store.UpdateLink(n.ID, otherID, func(cur *note.Link) bool {
			if sim > cur.Strength {
				cur.Strength = note.ClampStrength(sim)
			}
			cur.LastReinforced = now
			return true
		})
		if uerr != nil {
			return uerr
		}
	}

	if sim < e.config.TagPropagationThreshold {
		return nil
	}
	pair := note.PairKey(n.ID, otherID)
	if propagated != nil {
		if propagated[pair] {
			return nil
		}
		propagated[pair] = true
	}
	return e.exchange(n.ID, otherID, report)
}

// exchange copies tags symmetrically between two notes and fills an
// empty context from the other side. Both writes are optimistic with
// retry; the first note is re-read rather than trusting the caller's
// copy, since the pair may have been touched since.
func (e *Engine) exchange(aID, bID string, report *SweepReport) error {
	a, err := e.store.Get(aID)
	if err != nil {
		return err
	}
	b, err := e.store.Get(bID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return err
	}

	aTags, aCtx := a.Tags, a.Context
	bTags, bCtx := b.Tags, b.Context

	if err := e.updateNote(aID, func(n *note.Note) bool {
		return mergeFrom(n, bTags, bCtx, report)
	}); err != nil {
		return err
	}
	return e.updateNote(bID, func(n *note.Note) bool {
		return mergeFrom(n, aTags, aCtx, report)
	})
}

// mergeFrom applies one direction of the exchange to n. Returns true
// if n changed.
func mergeFrom(n *note.Note, tags []string, context string, report *SweepReport) bool {
	changed := false
	for _, t := range tags {
		if n.AddTag(t) {
			report.TagsPropagated++
			changed = true
		}
	}
	if n.Context == "" && context != "" {
		n.Context = context
		report.ContextsFilled++
		changed = true
	}
	return changed
}

// updateNote applies mutate to a fresh read of the note and writes it
// back under optimistic versioning, retrying with backoff on conflict.
// mutate returns false to skip the write. The lexical index is
// refreshed after a successful write so tag and context changes become
// searchable immediately.
func (e *Engine) updateNote(id string, mutate func(*note.Note) bool) error {
	var lastErr error
	for attempt := 0; attempt < e.config.MaxRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(time.Duration(attempt) * 10 * time.Millisecond)
		}
		n, err := e.store.Get(id)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil
			}
			return err
		}
		if !mutate(n) {
			return nil
		}
		n.UpdatedAt = time.Now()
		err = e.store.Put(n, n.Version)
		if err == nil {
			e.lexical.Index(id, n.EmbeddingText())
			return nil
		}
		if !errors.Is(err, store.ErrVersionConflict) {
			return err
		}
		lastErr = err
	}
	return fmt.Errorf("update %s exhausted %d retries: %w", id, e.config.MaxRetries, lastErr)
}
