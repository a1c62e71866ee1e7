package store

import (
	"context"
	"sync"

	"github.com/orneryd/muninn/pkg/note"
)

// MemoryStore is a thread-safe in-memory Store implementation.
//
// Use Cases:
//   - Unit testing (no disk I/O, fast cleanup)
//   - Small corpora that fit entirely in RAM
//   - Development and prototyping
//
// All reads hand out deep copies so callers can mutate freely; writes go
// through the optimistic version check like any other engine.
type MemoryStore struct {
	mu    sync.RWMutex
	notes map[string]*note.Note
	links map[string]*note.Link

	// linksByNote indexes link keys from each endpoint.
	linksByNote map[string]map[string]struct{}
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		notes:       make(map[string]*note.Note),
		links:       make(map[string]*note.Link),
		linksByNote: make(map[string]map[string]struct{}),
	}
}

// Get returns a copy of the note, or ErrNotFound.
func (m *MemoryStore) Get(id string) (*note.Note, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n, ok := m.notes[id]
	if !ok {
		return nil, ErrNotFound
	}
	return n.Clone(), nil
}

// Put writes the note conditional on expectedVersion.
func (m *MemoryStore) Put(n *note.Note, expectedVersion uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.notes[n.ID]
	switch {
	case !ok:
		if expectedVersion != 0 {
			return ErrVersionConflict
		}
	case expectedVersion == 0:
		return ErrAlreadyExists
	case existing.Version != expectedVersion:
		return ErrVersionConflict
	}

	n.Version = expectedVersion + 1
	m.notes[n.ID] = n.Clone()
	return nil
}

// Delete removes the note and every incident link.
func (m *MemoryStore) Delete(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.notes[id]; !ok {
		return ErrNotFound
	}
	delete(m.notes, id)

	for key := range m.linksByNote[id] {
		l, ok := m.links[key]
		if !ok {
			continue
		}
		delete(m.links, key)
		other := l.Other(id)
		if set, ok := m.linksByNote[other]; ok {
			delete(set, key)
			if len(set) == 0 {
				delete(m.linksByNote, other)
			}
		}
	}
	delete(m.linksByNote, id)
	return nil
}

// ScanAll streams a snapshot of all notes to fn.
func (m *MemoryStore) ScanAll(ctx context.Context, fn func(*note.Note) error) error {
	// Snapshot under the lock, call fn outside it so fn may issue store
	// operations without deadlocking.
	m.mu.RLock()
	snapshot := make([]*note.Note, 0, len(m.notes))
	for _, n := range m.notes {
		snapshot = append(snapshot, n.Clone())
	}
	m.mu.RUnlock()

	for _, n := range snapshot {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err := fn(n); err != nil {
			return err
		}
	}
	return nil
}

// PutLink creates or replaces the link for its endpoint pair.
func (m *MemoryStore) PutLink(l *note.Link) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := l.Key()
	cp := *l
	m.links[key] = &cp
	m.indexLink(l.A, key)
	m.indexLink(l.B, key)
	return nil
}

func (m *MemoryStore) indexLink(id, key string) {
	set, ok := m.linksByNote[id]
	if !ok {
		set = make(map[string]struct{})
		m.linksByNote[id] = set
	}
	set[key] = struct{}{}
}

// GetLink returns the link between a and b, or ErrNotFound.
func (m *MemoryStore) GetLink(a, b string) (*note.Link, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	l, ok := m.links[note.PairKey(a, b)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *l
	return &cp, nil
}

// DeleteLink removes the link between a and b. Absent pairs are a no-op.
func (m *MemoryStore) DeleteLink(a, b string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := note.PairKey(a, b)
	l, ok := m.links[key]
	if !ok {
		return nil
	}
	m.removeLinkLocked(key, l)
	return nil
}

// UpdateLink atomically applies fn to the stored link for the pair.
func (m *MemoryStore) UpdateLink(a, b string, fn func(*note.Link) bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := note.PairKey(a, b)
	l, ok := m.links[key]
	if !ok {
		return nil
	}
	cp := *l
	if fn(&cp) {
		m.links[key] = &cp
		return nil
	}
	m.removeLinkLocked(key, l)
	return nil
}

// removeLinkLocked deletes the link and its endpoint index entries.
// Caller holds the write lock.
func (m *MemoryStore) removeLinkLocked(key string, l *note.Link) {
	delete(m.links, key)
	for _, end := range []string{l.A, l.B} {
		if set, ok := m.linksByNote[end]; ok {
			delete(set, key)
			if len(set) == 0 {
				delete(m.linksByNote, end)
			}
		}
	}
}

// LinksOf returns every link incident to the note.
func (m *MemoryStore) LinksOf(id string) ([]*note.Link, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*note.Link
	for key := range m.linksByNote[id] {
		if l, ok := m.links[key]; ok {
			cp := *l
			out = append(out, &cp)
		}
	}
	return out, nil
}

// AllLinks returns every stored link.
func (m *MemoryStore) AllLinks() ([]*note.Link, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*note.Link, 0, len(m.links))
	for _, l := range m.links {
		cp := *l
		out = append(out, &cp)
	}
	return out, nil
}

// NoteCount returns the number of stored notes.
func (m *MemoryStore) NoteCount() (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.notes)), nil
}

// LinkCount returns the number of stored links.
func (m *MemoryStore) LinkCount() (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.links)), nil
}

// Close releases all held data.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notes = make(map[string]*note.Note)
	m.links = make(map[string]*note.Link)
	m.linksByNote = make(map[string]map[string]struct{})
	return nil
}
