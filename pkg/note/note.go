// Package note defines the core data model for Muninn: notes and the
// strength-weighted links between them.
//
// A Note is a unit of content with tags, a free-form context string, an
// optional embedding vector, and a bounded importance score. A Link is an
// undirected relation between two notes, stored once under a canonical key
// and queryable from either endpoint.
//
// Example:
//
//	n := note.New("graph databases store relationships as first-class data")
//	n.Tags = []string{"databases", "graphs"}
//
//	if err := n.Validate(); err != nil {
//		log.Fatal(err)
//	}
//
// Thread Safety:
//
//	Note and Link structs are NOT thread-safe. The store and the evolution
//	engine handle concurrency.
package note

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Importance score bounds. Every mutation of a note's importance clamps
// into this range.
const (
	ImportanceMin     = 0.0
	ImportanceMax     = 2.0
	ImportanceDefault = 1.0
)

var (
	// ErrEmptyContent is returned when validating a note with no content.
	ErrEmptyContent = errors.New("note content is empty")
	// ErrSelfLink is returned when a link would connect a note to itself.
	ErrSelfLink = errors.New("note cannot link to itself")
)

// Note is a stored unit of content.
//
// The Version field supports optimistic concurrency: writers read a note,
// mutate it, and write back conditional on the version being unchanged.
type Note struct {
	ID      string `json:"id"`
	Content string `json:"content"`

	// Tags is a set: no duplicates, order not significant.
	Tags []string `json:"tags,omitempty"`

	// Context is a free-form string summarizing the note's semantic role.
	// Evolution may fill an empty context from a close neighbor but never
	// overwrites a non-empty one.
	Context string `json:"context,omitempty"`

	// Embedding is nil when the provider was unavailable at write time.
	Embedding []float32 `json:"-"`

	Importance     float64 `json:"importance"`
	RetrievalCount int64   `json:"retrievalCount"`

	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
	LastAccessed time.Time `json:"lastAccessed"`

	Version uint64 `json:"version"`
}

// New creates a note with a fresh ID, default importance, and timestamps
// set to now.
func New(content string) *Note {
	now := time.Now()
	return &Note{
		ID:           uuid.NewString(),
		Content:      content,
		Importance:   ImportanceDefault,
		CreatedAt:    now,
		UpdatedAt:    now,
		LastAccessed: now,
	}
}

// Validate checks structural invariants. It normalizes the tag set and
// clamps importance as a side effect, so a validated note always satisfies
// the model invariants.
func (n *Note) Validate() error {
	if n.ID == "" {
		return errors.New("note id is empty")
	}
	if strings.TrimSpace(n.Content) == "" {
		return ErrEmptyContent
	}
	n.Tags = NormalizeTags(n.Tags)
	n.Importance = ClampImportance(n.Importance)
	return nil
}

// HasTag reports whether the tag is present on the note.
func (n *Note) HasTag(tag string) bool {
	for _, t := range n.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// AddTag adds a tag to the note's set. Tags are lowercased. Returns
// false if already present.
func (n *Note) AddTag(tag string) bool {
	tag = strings.ToLower(strings.TrimSpace(tag))
	if tag == "" || n.HasTag(tag) {
		return false
	}
	n.Tags = append(n.Tags, tag)
	return true
}

// EmbeddingText returns the text that should be embedded for this note:
// content plus tags plus context, so metadata contributes to semantic
// matching.
func (n *Note) EmbeddingText() string {
	parts := []string{n.Content}
	if len(n.Tags) > 0 {
		parts = append(parts, strings.Join(n.Tags, " "))
	}
	if n.Context != "" {
		parts = append(parts, n.Context)
	}
	return strings.Join(parts, " ")
}

// Clone returns a deep copy of the note. The store hands out clones so
// callers can mutate freely before writing back.
func (n *Note) Clone() *Note {
	c := *n
	if n.Tags != nil {
		c.Tags = append([]string(nil), n.Tags...)
	}
	if n.Embedding != nil {
		c.Embedding = append([]float32(nil), n.Embedding...)
	}
	return &c
}

// ClampImportance forces v into [ImportanceMin, ImportanceMax].
func ClampImportance(v float64) float64 {
	if v < ImportanceMin {
		return ImportanceMin
	}
	if v > ImportanceMax {
		return ImportanceMax
	}
	return v
}

// NormalizeTags lowercases, trims, drops empties, and deduplicates
// while preserving first-seen order.
func NormalizeTags(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// Link is an undirected, strength-weighted relation between two notes.
//
// Links are stored once under the canonical (A < B) ordering. Strength is
// the cosine similarity measured at discovery time, decayed on each sweep
// and refreshed on rediscovery. User-created links are never auto-pruned.
type Link struct {
	A        string  `json:"a"`
	B        string  `json:"b"`
	Strength float64 `json:"strength"`

	CreatedAt      time.Time `json:"createdAt"`
	LastReinforced time.Time `json:"lastReinforced"`

	// UserCreated marks links added explicitly rather than discovered by
	// evolution. They survive decay below the prune threshold.
	UserCreated bool `json:"userCreated"`
}

// NewLink creates a link between two notes with canonical endpoint
// ordering. Returns ErrSelfLink if a == b.
func NewLink(a, b string, strength float64, userCreated bool) (*Link, error) {
	if a == b {
		return nil, ErrSelfLink
	}
	a, b = OrderPair(a, b)
	now := time.Now()
	return &Link{
		A:              a,
		B:              b,
		Strength:       ClampStrength(strength),
		CreatedAt:      now,
		LastReinforced: now,
		UserCreated:    userCreated,
	}, nil
}

// Other returns the endpoint that is not id, or "" if id is not an
// endpoint.
func (l *Link) Other(id string) string {
	switch id {
	case l.A:
		return l.B
	case l.B:
		return l.A
	}
	return ""
}

// Key returns the canonical storage key for the link's endpoint pair.
func (l *Link) Key() string {
	return PairKey(l.A, l.B)
}

// OrderPair returns the two ids in canonical (lexicographic) order.
func OrderPair(a, b string) (string, string) {
	if b < a {
		return b, a
	}
	return a, b
}

// PairKey builds the canonical key for an unordered note pair.
func PairKey(a, b string) string {
	a, b = OrderPair(a, b)
	return fmt.Sprintf("%s|%s", a, b)
}

// ClampStrength forces v into [0, 1].
func ClampStrength(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
