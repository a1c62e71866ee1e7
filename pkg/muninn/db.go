// Package muninn wires the engine together: storage, indexes,
// embedding, search, and evolution behind one DB facade.
//
// Open builds the whole stack from a Config, rebuilds the in-memory
// indexes from the store, and starts the background workers (embedding
// backfill and the evolution sweep). Close stops the workers and
// releases the store.
//
// Example:
//
//	db, err := muninn.Open(config.LoadFromEnv(), nil)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer db.Close()
//
//	n, _ := db.CreateNote(ctx, "BadgerDB tuning notes", []string{"go", "storage"}, "")
//	results, _ := db.Search(ctx, "badger performance", 10)
package muninn

import (
	"context"
	"fmt"
	"log"
	"os"
	"sort"
	"time"

	"github.com/orneryd/muninn/pkg/config"
	"github.com/orneryd/muninn/pkg/embed"
	"github.com/orneryd/muninn/pkg/evolution"
	"github.com/orneryd/muninn/pkg/importance"
	"github.com/orneryd/muninn/pkg/index"
	"github.com/orneryd/muninn/pkg/note"
	"github.com/orneryd/muninn/pkg/search"
	"github.com/orneryd/muninn/pkg/store"
)

// DB is the assembled knowledge base engine.
type DB struct {
	config    *config.Config
	store     store.Store
	vectors   *index.Index
	lexical   *search.LexicalIndex
	provider  embed.Provider // nil when provider is "none"
	scorer    *importance.Scorer
	searchEng *search.Engine
	evolution *evolution.Engine
	worker    *EmbedWorker
	logger    *log.Logger
}

// NoteUpdate describes a partial note update. Nil fields are left
// unchanged.
type NoteUpdate struct {
	Content *string
	Tags    *[]string
	Context *string
}

// Neighbor is a linked note with the connecting link's strength.
type Neighbor struct {
	Note        *note.Note `json:"note"`
	Strength    float64    `json:"strength"`
	UserCreated bool       `json:"user_created"`
}

// Stats summarizes the collection.
type Stats struct {
	Notes          int `json:"notes"`
	Links          int `json:"links"`
	IndexedVectors int `json:"indexed_vectors"`
	PendingEmbeds  int `json:"pending_embeds"`
}

// Open builds a DB from the config, rebuilds indexes from the store,
// and starts the background workers. If logger is nil, a stderr logger
// with a "muninn " prefix is used.
func Open(cfg *config.Config, logger *log.Logger) (*DB, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if logger == nil {
		logger = log.New(os.Stderr, "muninn ", log.LstdFlags)
	}

	var st store.Store
	var err error
	if cfg.Database.DataDir == "" {
		st = store.NewMemoryStore()
	} else {
		st, err = store.NewBadgerStore(cfg.Database.DataDir)
		if err != nil {
			return nil, fmt.Errorf("open store: %w", err)
		}
	}

	var provider embed.Provider
	if cfg.Embedding.Provider != "none" {
		provider, err = embed.New(&embed.Config{
			Provider:   cfg.Embedding.Provider,
			APIURL:     cfg.Embedding.APIURL,
			APIKey:     cfg.Embedding.APIKey,
			Model:      cfg.Embedding.Model,
			Dimensions: cfg.Embedding.Dimensions,
			Timeout:    cfg.Embedding.Timeout,
		})
		if err != nil {
			st.Close()
			return nil, fmt.Errorf("embedding provider: %w", err)
		}
	}

	dims := 0
	if provider != nil {
		dims = provider.Dimensions()
	}

	db := &DB{
		config:   cfg,
		store:    st,
		vectors:  index.New(dims),
		lexical:  search.NewLexicalIndex(),
		provider: provider,
		scorer: importance.New(&importance.Config{
			RetrievalBoost:    cfg.Search.RetrievalBoost,
			DecayRate:         cfg.Evolution.ImportanceDecayRate,
			CentralityPerLink: importance.DefaultConfig().CentralityPerLink,
			CentralityCap:     importance.DefaultConfig().CentralityCap,
		}),
		logger: logger,
	}

	db.evolution = evolution.NewEngine(st, db.vectors, db.lexical, db.scorer, &evolution.Config{
		MinLinkSimilarity:       cfg.Evolution.MinLinkSimilarity,
		TagPropagationThreshold: cfg.Evolution.TagPropagationThreshold,
		LinkDecayFactor:         cfg.Evolution.LinkDecayFactor,
		LinkPruneThreshold:      cfg.Evolution.LinkPruneThreshold,
		NeighborFanout:          cfg.Evolution.NeighborFanout,
		SweepInterval:           cfg.Evolution.SweepInterval,
		WriteSweepThreshold:     cfg.Evolution.WriteSweepThreshold,
		MaxRetries:              evolution.DefaultConfig().MaxRetries,
	}, logger)

	alpha := cfg.Search.HybridWeight
	if alpha == 0 {
		alpha = -1 // explicit lexical-only, not "use the default"
	}
	db.searchEng = search.NewEngine(st, db.vectors, db.lexical, db.scorer, search.Options{
		Provider: provider,
		Alpha:    alpha,
		Logger:   logger,
	})

	if err := db.rebuildIndexes(); err != nil {
		st.Close()
		return nil, fmt.Errorf("rebuild indexes: %w", err)
	}

	if cfg.Evolution.SweepEnabled {
		db.evolution.Start()
	}
	if provider != nil {
		db.worker = NewEmbedWorker(st, provider, db.vectors, db.evolution, cfg.Embedding.WorkerInterval, logger)
		db.worker.Start()
	}

	logger.Printf("opened: %s", cfg)
	return db, nil
}

// rebuildIndexes loads every stored note into the vector and lexical
// indexes. Runs once at startup; the store is the source of truth.
func (db *DB) rebuildIndexes() error {
	indexed, pending := 0, 0
	err := db.store.ScanAll(context.Background(), func(n *note.Note) error {
		db.lexical.Index(n.ID, n.EmbeddingText())
		if len(n.Embedding) == 0 {
			pending++
			return nil
		}
		if err := db.vectors.Upsert(n.ID, n.Embedding, n.CreatedAt); err != nil {
			// Dimension changed between runs; re-embed instead of failing.
			pending++
			return nil
		}
		indexed++
		return nil
	})
	if err != nil {
		return err
	}
	db.logger.Printf("indexes rebuilt: %d vectors, %d pending embeds", indexed, pending)
	return nil
}

// CreateNote validates and stores a new note. Embedding is attempted
// inline; if the provider is unavailable the note is stored anyway and
// the backfill worker picks it up later, so creation works offline.
func (db *DB) CreateNote(ctx context.Context, content string, tags []string, noteContext string) (*note.Note, error) {
	n := note.New(content)
	n.Tags = tags
	n.Context = noteContext
	if err := n.Validate(); err != nil {
		return nil, err
	}

	if err := db.store.Put(n, 0); err != nil {
		return nil, err
	}
	db.lexical.Index(n.ID, n.EmbeddingText())

	db.embedInline(ctx, n)
	db.afterWrite()
	return n.Clone(), nil
}

// embedInline tries to embed and index a note right now. Provider
// failures are logged and left to the backfill worker.
func (db *DB) embedInline(ctx context.Context, n *note.Note) {
	if db.provider == nil {
		return
	}
	vec, err := db.provider.Embed(ctx, n.EmbeddingText())
	if err != nil {
		db.logger.Printf("inline embed deferred for %s: %v", n.ID, err)
		return
	}
	n.Embedding = vec
	if err := db.store.Put(n, n.Version); err != nil {
		db.logger.Printf("inline embed write failed for %s: %v", n.ID, err)
		return
	}
	if err := db.vectors.Upsert(n.ID, vec, n.CreatedAt); err != nil {
		db.logger.Printf("inline embed index failed for %s: %v", n.ID, err)
		return
	}
	if err := db.evolution.EvolveNote(ctx, n.ID); err != nil {
		db.logger.Printf("incremental evolution failed for %s: %v", n.ID, err)
	}
}

// afterWrite bumps the write counter; the evolution engine fires a
// tracked background sweep when the threshold is crossed, so Close
// waits for it before tearing down the store.
func (db *DB) afterWrite() {
	db.evolution.RecordWrite()
}

// GetNote returns a note by ID without retrieval side effects.
func (db *DB) GetNote(id string) (*note.Note, error) {
	return db.store.Get(id)
}

// UpdateNote applies a partial update. A content change invalidates the
// stored embedding; the note drops out of semantic ranking until the
// worker (or an inline attempt here) re-embeds it.
func (db *DB) UpdateNote(ctx context.Context, id string, upd NoteUpdate) (*note.Note, error) {
	n, err := db.store.Get(id)
	if err != nil {
		return nil, err
	}

	reembed := false
	if upd.Content != nil && *upd.Content != n.Content {
		n.Content = *upd.Content
		reembed = true
	}
	if upd.Tags != nil {
		n.Tags = *upd.Tags
		reembed = true
	}
	if upd.Context != nil && *upd.Context != n.Context {
		n.Context = *upd.Context
		reembed = true
	}
	if err := n.Validate(); err != nil {
		return nil, err
	}
	if !reembed {
		return n, nil
	}

	n.Embedding = nil
	n.UpdatedAt = time.Now()
	if err := db.store.Put(n, n.Version); err != nil {
		return nil, err
	}
	db.vectors.Remove(id)
	db.lexical.Index(id, n.EmbeddingText())

	db.embedInline(ctx, n)
	db.afterWrite()
	return n.Clone(), nil
}

// DeleteNote removes a note, its links, and its index entries.
// Deleting an unknown ID returns store.ErrNotFound.
func (db *DB) DeleteNote(id string) error {
	if err := db.store.Delete(id); err != nil {
		return err
	}
	db.vectors.Remove(id)
	db.lexical.Remove(id)
	return nil
}

// Search runs hybrid retrieval. See the search package for ranking and
// side-effect semantics.
func (db *DB) Search(ctx context.Context, query string, limit int) ([]search.Result, error) {
	return db.searchEng.Search(ctx, query, limit)
}

// Link creates or replaces a user link between two notes. User links
// are exempt from decay and pruning. Strength is clamped to [0, 1].
func (db *DB) Link(aID, bID string, strength float64) (*note.Link, error) {
	if _, err := db.store.Get(aID); err != nil {
		return nil, err
	}
	if _, err := db.store.Get(bID); err != nil {
		return nil, err
	}
	link, err := note.NewLink(aID, bID, strength, true)
	if err != nil {
		return nil, err
	}
	link.LastReinforced = link.CreatedAt
	if err := db.store.PutLink(link); err != nil {
		return nil, err
	}
	return link, nil
}

// Unlink removes the link between two notes. Unlinking a pair with no
// link is a no-op.
func (db *DB) Unlink(aID, bID string) error {
	return db.store.DeleteLink(aID, bID)
}

// Neighbors returns the notes linked to id, strongest link first.
func (db *DB) Neighbors(id string) ([]Neighbor, error) {
	if _, err := db.store.Get(id); err != nil {
		return nil, err
	}
	links, err := db.store.LinksOf(id)
	if err != nil {
		return nil, err
	}
	neighbors := make([]Neighbor, 0, len(links))
	for _, l := range links {
		n, err := db.store.Get(l.Other(id))
		if err != nil {
			continue
		}
		neighbors = append(neighbors, Neighbor{Note: n, Strength: l.Strength, UserCreated: l.UserCreated})
	}
	sort.Slice(neighbors, func(i, j int) bool {
		return neighbors[i].Strength > neighbors[j].Strength
	})
	return neighbors, nil
}

// Tags returns every tag in the collection with its note count.
func (db *DB) Tags() (map[string]int, error) {
	counts := make(map[string]int)
	err := db.store.ScanAll(context.Background(), func(n *note.Note) error {
		for _, t := range n.Tags {
			counts[t]++
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return counts, nil
}

// RunSweep triggers a maintenance sweep immediately and returns its
// report. A concurrent background sweep finishes first.
func (db *DB) RunSweep(ctx context.Context) (*evolution.SweepReport, error) {
	return db.evolution.Sweep(ctx)
}

// Stats returns collection counts.
func (db *DB) Stats() (*Stats, error) {
	notes, err := db.store.NoteCount()
	if err != nil {
		return nil, err
	}
	links, err := db.store.LinkCount()
	if err != nil {
		return nil, err
	}
	indexed := db.vectors.Count()
	pending := int(notes) - indexed
	if pending < 0 {
		pending = 0
	}
	return &Stats{Notes: int(notes), Links: int(links), IndexedVectors: indexed, PendingEmbeds: pending}, nil
}

// Close stops the background workers and closes the store.
func (db *DB) Close() error {
	if db.worker != nil {
		db.worker.Stop()
	}
	db.evolution.Stop()
	return db.store.Close()
}
