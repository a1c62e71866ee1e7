// Package importance maintains each note's bounded importance score.
//
// The score lives in [0.0, 2.0] and moves through three forces:
//
//  1. Retrieval boost (on search hit):
//     importance += boost / (1 + retrievalCount)
//     Diminishing returns keep frequently-retrieved notes from pinning
//     to the ceiling on every hit.
//
//  2. Linear decay (on sweep):
//     importance -= decayRate × daysSinceLastAccess
//     Untouched notes slowly fade toward the floor.
//
//  3. Centrality bonus (on sweep):
//     importance += min(cap, perLink × liveLinkCount)
//     Well-connected notes are probably relevant even when not searched.
//
// Every adjustment clamps back into [0, 2]. The scorer never deletes
// notes; retention is someone else's policy.
//
// ELI12 (Explain Like I'm 12):
//
// Imagine each note has a battery from 0% to 200%. Looking a note up
// charges it a little (but the more you've looked it up before, the
// smaller the top-up). Time drains the battery slowly. And notes with
// lots of friends (links) get a small trickle charge for being popular.
// The battery can never overcharge or go negative.
package importance

import (
	"time"

	"github.com/orneryd/muninn/pkg/note"
)

// Config holds the scorer's tuning knobs.
type Config struct {
	// RetrievalBoost is the base boost added on each search hit, before
	// the diminishing-returns scaling. Default: 0.05.
	RetrievalBoost float64

	// DecayRate is the importance lost per day since last access during a
	// sweep. Default: 0.01.
	DecayRate float64

	// CentralityPerLink is the sweep bonus per live incident link.
	// Default: 0.01.
	CentralityPerLink float64

	// CentralityCap bounds the total centrality bonus per sweep so
	// connectivity alone cannot drive a note to the ceiling.
	// Default: 0.1.
	CentralityCap float64
}

// DefaultConfig returns the standard scoring parameters.
func DefaultConfig() *Config {
	return &Config{
		RetrievalBoost:    0.05,
		DecayRate:         0.01,
		CentralityPerLink: 0.01,
		CentralityCap:     0.1,
	}
}

// Scorer applies importance adjustments to notes. Stateless apart from
// its config; safe for concurrent use.
type Scorer struct {
	config *Config
}

// New creates a Scorer. If config is nil, DefaultConfig() is used.
func New(config *Config) *Scorer {
	if config == nil {
		config = DefaultConfig()
	}
	return &Scorer{config: config}
}

// RecordRetrieval applies the retrieval side effects to a note: boosts
// importance with diminishing returns, increments the retrieval counter,
// and stamps last-accessed. Call once per note per search result.
func (s *Scorer) RecordRetrieval(n *note.Note, now time.Time) {
	boost := s.config.RetrievalBoost / (1 + float64(n.RetrievalCount))
	n.Importance = note.ClampImportance(n.Importance + boost)
	n.RetrievalCount++
	n.LastAccessed = now
}

// SweepAdjust applies the periodic decay-and-centrality pass to a note.
// liveLinks is the count of non-pruned links incident to the note at
// sweep time. Returns true if the importance changed.
func (s *Scorer) SweepAdjust(n *note.Note, liveLinks int, now time.Time) bool {
	before := n.Importance

	days := now.Sub(n.LastAccessed).Hours() / 24
	if days > 0 {
		n.Importance = note.ClampImportance(n.Importance - s.config.DecayRate*days)
	}

	if liveLinks > 0 {
		bonus := s.config.CentralityPerLink * float64(liveLinks)
		if bonus > s.config.CentralityCap {
			bonus = s.config.CentralityCap
		}
		n.Importance = note.ClampImportance(n.Importance + bonus)
	}

	return n.Importance != before
}
