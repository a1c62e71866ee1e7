// Package store provides durable keyed storage for notes and links.
//
// Two engines implement the Store interface:
//   - MemoryStore: in-memory maps, used by tests and small corpora
//   - BadgerStore: persistent disk storage on BadgerDB
//
// Note writes are guarded by optimistic versioning: Put takes the version
// the caller read, and fails with ErrVersionConflict if the stored note has
// moved on. Callers re-read and retry rather than blindly overwriting.
//
// Links are stored once, keyed by the canonical endpoint pair, and indexed
// from both endpoints so they are queryable from either side. Deleting a
// note removes every incident link; no link is ever left dangling.
package store

import (
	"context"
	"errors"

	"github.com/orneryd/muninn/pkg/note"
)

var (
	// ErrNotFound is returned when a note or link id is absent.
	ErrNotFound = errors.New("not found")

	// ErrVersionConflict is returned by Put when the stored note's version
	// differs from the version the caller read.
	ErrVersionConflict = errors.New("version conflict")

	// ErrAlreadyExists is returned when creating a note whose id is taken.
	ErrAlreadyExists = errors.New("already exists")
)

// Store is the durable storage contract the engine components depend on.
//
// All implementations must be safe for concurrent use.
type Store interface {
	// Get returns a copy of the note, or ErrNotFound.
	Get(id string) (*note.Note, error)

	// Put writes the note conditional on expectedVersion matching the
	// stored version (0 for a create). On success the stored note's
	// version becomes expectedVersion+1 and the caller's note is updated
	// to match. Returns ErrAlreadyExists when a create (expectedVersion
	// 0) hits a taken id, ErrVersionConflict on any other mismatch.
	Put(n *note.Note, expectedVersion uint64) error

	// Delete removes the note and all incident links. ErrNotFound if the
	// id is absent.
	Delete(id string) error

	// ScanAll streams every note to fn. Iteration stops on the first
	// error from fn or on context cancellation. Used by index rebuild and
	// the evolution sweep.
	ScanAll(ctx context.Context, fn func(*note.Note) error) error

	// PutLink creates or replaces the link for its endpoint pair.
	PutLink(l *note.Link) error

	// GetLink returns the link between a and b, or ErrNotFound.
	GetLink(a, b string) (*note.Link, error)

	// DeleteLink removes the link between a and b. Absent pairs are a
	// no-op.
	DeleteLink(a, b string) error

	// UpdateLink atomically applies fn to the stored link between a and
	// b. fn mutates the link in place and returns false to delete it
	// instead of writing it back. Absent pairs are a no-op. Callers use
	// this for read-modify-write mutations (decay, reinforcement) so a
	// stale snapshot never overwrites a concurrent write.
	UpdateLink(a, b string, fn func(*note.Link) bool) error

	// LinksOf returns every link incident to the note.
	LinksOf(id string) ([]*note.Link, error)

	// AllLinks returns every stored link.
	AllLinks() ([]*note.Link, error)

	// NoteCount and LinkCount report corpus size.
	NoteCount() (int64, error)
	LinkCount() (int64, error)

	Close() error
}
