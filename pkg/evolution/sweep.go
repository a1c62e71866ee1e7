package evolution

import (
	"context"
	"fmt"
	"time"

	"github.com/orneryd/muninn/pkg/note"
)

// SweepReport summarizes one maintenance pass.
type SweepReport struct {
	LinksCreated   int           `json:"links_created"`
	LinksPruned    int           `json:"links_pruned"`
	TagsPropagated int           `json:"tags_propagated"`
	ContextsFilled int           `json:"contexts_filled"`
	NotesProcessed int           `json:"notes_processed"`
	NotesFailed    int           `json:"notes_failed"`
	Duration       time.Duration `json:"duration"`
}

// Sweep runs one full maintenance pass:
//
//  1. decay every non-user link and prune those below the threshold
//  2. re-run the incremental pass for every note, with tag propagation
//     capped to once per pair
//  3. age importance: time decay plus a capped centrality bonus
//
// Only one sweep runs at a time; a second caller blocks. The context
// is checked between notes, so cancellation stops promptly without
// leaving a note half-evolved. Notes that exhaust their write retries
// are skipped and counted; if any were, the report is returned
// alongside ErrPartialFailure.
func (e *Engine) Sweep(ctx context.Context) (*SweepReport, error) {
	e.sweepMu.Lock()
	defer e.sweepMu.Unlock()

	start := time.Now()
	report := &SweepReport{}

	if err := e.decayLinks(ctx, report); err != nil {
		report.Duration = time.Since(start)
		return report, err
	}

	var ids []string
	err := e.store.ScanAll(ctx, func(n *note.Note) error {
		ids = append(ids, n.ID)
		return nil
	})
	if err != nil {
		report.Duration = time.Since(start)
		return report, err
	}

	propagated := make(map[string]bool)
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			report.Duration = time.Since(start)
			return report, err
		}
		mu := e.noteLock(id)
		mu.Lock()
		err := e.evolveLocked(ctx, id, propagated, report)
		mu.Unlock()
		if err != nil {
			if ctx.Err() != nil {
				report.Duration = time.Since(start)
				return report, ctx.Err()
			}
			report.NotesFailed++
			if e.logger != nil {
				e.logger.Printf("evolution: sweep skipped note %s: %v", id, err)
			}
			continue
		}
		report.NotesProcessed++
	}

	now := time.Now()
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			report.Duration = time.Since(start)
			return report, err
		}
		links, lerr := e.store.LinksOf(id)
		if lerr != nil {
			report.NotesFailed++
			continue
		}
		live := len(links)
		uerr := e.updateNote(id, func(n *note.Note) bool {
			return e.scorer.SweepAdjust(n, live, now)
		})
		if uerr != nil {
			report.NotesFailed++
			if e.logger != nil {
				e.logger.Printf("evolution: importance pass skipped note %s: %v", id, uerr)
			}
		}
	}

	report.Duration = time.Since(start)
	if report.NotesFailed > 0 {
		return report, fmt.Errorf("%w: %d notes", ErrPartialFailure, report.NotesFailed)
	}
	return report, nil
}

// decayLinks multiplies every non-user link strength by the decay
// factor and deletes those that fall below the prune threshold.
// User-created links are untouched. The AllLinks snapshot is only a
// worklist; each write re-reads the stored link inside UpdateLink, so
// a reinforcement that lands mid-sweep is decayed rather than
// clobbered by the snapshot's stale strength.
func (e *Engine) decayLinks(ctx context.Context, report *SweepReport) error {
	links, err := e.store.AllLinks()
	if err != nil {
		return err
	}
	for _, link := range links {
		if err := ctx.Err(); err != nil {
			return err
		}
		if link.UserCreated {
			continue
		}
		pruned := false
		uerr := e.store.UpdateLink(link.A, link.B, func(cur *note.Link) bool {
			if cur.UserCreated {
				return true
			}
			cur.Strength *= e.config.LinkDecayFactor
			if cur.Strength < e.config.LinkPruneThreshold {
				pruned = true
				return false
			}
			return true
		})
		if uerr != nil {
			return uerr
		}
		if pruned {
			report.LinksPruned++
		}
	}
	return nil
}

// Start launches the background sweep loop at the configured interval.
// Calling Start on a running or stopped engine is a no-op.
func (e *Engine) Start() {
	e.runMu.Lock()
	defer e.runMu.Unlock()
	if e.running || e.stopped {
		return
	}
	e.running = true

	ctx := e.ctx
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		ticker := time.NewTicker(e.config.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				report, err := e.Sweep(ctx)
				if e.logger == nil {
					continue
				}
				if err != nil {
					e.logger.Printf("evolution: sweep finished with error: %v", err)
				} else {
					e.logger.Printf("evolution: sweep done in %s: +%d links, -%d pruned, %d tags propagated",
						report.Duration.Round(time.Millisecond), report.LinksCreated, report.LinksPruned, report.TagsPropagated)
				}
			}
		}
	}()
}

// Stop cancels all background work — the sweep loop and any
// write-triggered sweep still in flight — and waits for it to finish.
// Safe to call multiple times, with or without a prior Start.
func (e *Engine) Stop() {
	e.runMu.Lock()
	if e.stopped {
		e.runMu.Unlock()
		return
	}
	e.stopped = true
	e.running = false
	e.cancel()
	e.runMu.Unlock()

	e.wg.Wait()
}
