package muninn

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/orneryd/muninn/pkg/embed"
	"github.com/orneryd/muninn/pkg/evolution"
	"github.com/orneryd/muninn/pkg/index"
	"github.com/orneryd/muninn/pkg/note"
	"github.com/orneryd/muninn/pkg/store"
)

// EmbedWorker backfills embeddings for notes that don't have one yet:
// notes created while the provider was down, or edited since their
// last embedding. It is pull-based — each cycle scans the store rather
// than draining a queue, so nothing is lost across restarts and there
// is no queue to corrupt.
//
// When a note gains its embedding, the worker also runs the
// incremental evolution pass so new links appear without waiting for
// the next sweep.
type EmbedWorker struct {
	store     store.Store
	provider  embed.Provider
	vectors   *index.Index
	evolution *evolution.Engine
	interval  time.Duration
	logger    *log.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// NewEmbedWorker creates a backfill worker. It does not start scanning
// until Start is called.
func NewEmbedWorker(s store.Store, provider embed.Provider, vectors *index.Index, ev *evolution.Engine, interval time.Duration, logger *log.Logger) *EmbedWorker {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &EmbedWorker{
		store:     s,
		provider:  provider,
		vectors:   vectors,
		evolution: ev,
		interval:  interval,
		logger:    logger,
	}
}

// Start launches the scan loop. No-op if already running.
func (w *EmbedWorker) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel
	w.running = true

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				w.runCycle(ctx)
			}
		}
	}()
}

// Stop halts the scan loop and waits for the current cycle to finish.
func (w *EmbedWorker) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.running {
		return
	}
	w.cancel()
	w.wg.Wait()
	w.running = false
}

// runCycle embeds every note currently missing an embedding. If the
// provider is down the cycle stops at the first failure; the remaining
// notes stay pending for the next cycle.
func (w *EmbedWorker) runCycle(ctx context.Context) {
	var pending []string
	err := w.store.ScanAll(ctx, func(n *note.Note) error {
		if len(n.Embedding) == 0 {
			pending = append(pending, n.ID)
		}
		return nil
	})
	if err != nil {
		if w.logger != nil && ctx.Err() == nil {
			w.logger.Printf("embed worker: scan failed: %v", err)
		}
		return
	}

	for _, id := range pending {
		if ctx.Err() != nil {
			return
		}
		if err := w.embedOne(ctx, id); err != nil {
			if errors.Is(err, embed.ErrUnavailable) {
				if w.logger != nil {
					w.logger.Printf("embed worker: provider unavailable, %d notes still pending", len(pending))
				}
				return
			}
			if w.logger != nil {
				w.logger.Printf("embed worker: note %s: %v", id, err)
			}
		}
	}
}

func (w *EmbedWorker) embedOne(ctx context.Context, id string) error {
	n, err := w.store.Get(id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return err
	}
	if len(n.Embedding) > 0 {
		return nil // embedded since the scan
	}

	vec, err := w.provider.Embed(ctx, n.EmbeddingText())
	if err != nil {
		return err
	}

	n.Embedding = vec
	if err := w.store.Put(n, n.Version); err != nil {
		if errors.Is(err, store.ErrVersionConflict) {
			return nil // note changed underneath; next cycle retries
		}
		return err
	}
	if err := w.vectors.Upsert(id, vec, n.CreatedAt); err != nil {
		return err
	}
	return w.evolution.EvolveNote(ctx, id)
}
