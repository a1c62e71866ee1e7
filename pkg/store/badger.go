package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/orneryd/muninn/pkg/note"
)

// Key prefixes. Links carry a per-endpoint index so they are queryable
// from either side without a full scan.
const (
	prefixNote     = 'n'
	prefixLink     = 'l'
	prefixLinkIdx  = 'i'
	keySeparator   = ':'
	linkIdxPattern = "%c%c%s%c%s" // i:<noteID>:<pairKey>
)

// BadgerStore is a persistent Store implementation on BadgerDB.
//
// Durability vs throughput follows badger defaults tuned for small
// footprints; every mutation runs inside a single badger transaction so
// the optimistic version check and the write are atomic.
type BadgerStore struct {
	db *badger.DB
}

// NewBadgerStore opens (or creates) a badger-backed store at dataDir.
func NewBadgerStore(dataDir string) (*BadgerStore, error) {
	return newBadgerStore(badger.DefaultOptions(dataDir))
}

// NewBadgerStoreInMemory creates a badger store that keeps everything in
// RAM. Useful for tests that want real transaction semantics without disk
// I/O.
func NewBadgerStoreInMemory() (*BadgerStore, error) {
	return newBadgerStore(badger.DefaultOptions("").WithInMemory(true))
}

func newBadgerStore(opts badger.Options) (*BadgerStore, error) {
	opts = opts.
		WithLogger(nil).
		WithMemTableSize(16 << 20).
		WithValueLogFileSize(64 << 20).
		WithNumMemtables(2).
		WithBlockCacheSize(32 << 20).
		WithIndexCacheSize(16 << 20)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger store: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

// ============================================================================
// Key encoding helpers
// ============================================================================

func noteKey(id string) []byte {
	return append([]byte{prefixNote, keySeparator}, id...)
}

func linkKey(pairKey string) []byte {
	return append([]byte{prefixLink, keySeparator}, pairKey...)
}

func linkIdxKey(noteID, pairKey string) []byte {
	return []byte(fmt.Sprintf(linkIdxPattern, prefixLinkIdx, keySeparator, noteID, keySeparator, pairKey))
}

func linkIdxPrefix(noteID string) []byte {
	return []byte(fmt.Sprintf("%c%c%s%c", prefixLinkIdx, keySeparator, noteID, keySeparator))
}

// serializableNote mirrors note.Note for storage, including the embedding
// which the public JSON representation omits.
type serializableNote struct {
	ID             string    `json:"id"`
	Content        string    `json:"content"`
	Tags           []string  `json:"tags,omitempty"`
	Context        string    `json:"context,omitempty"`
	Embedding      []float32 `json:"embedding,omitempty"`
	Importance     float64   `json:"importance"`
	RetrievalCount int64     `json:"retrievalCount"`
	CreatedAt      int64     `json:"createdAt"`
	UpdatedAt      int64     `json:"updatedAt"`
	LastAccessed   int64     `json:"lastAccessed"`
	Version        uint64    `json:"version"`
}

func encodeNote(n *note.Note) ([]byte, error) {
	return json.Marshal(&serializableNote{
		ID:             n.ID,
		Content:        n.Content,
		Tags:           n.Tags,
		Context:        n.Context,
		Embedding:      n.Embedding,
		Importance:     n.Importance,
		RetrievalCount: n.RetrievalCount,
		CreatedAt:      n.CreatedAt.UnixNano(),
		UpdatedAt:      n.UpdatedAt.UnixNano(),
		LastAccessed:   n.LastAccessed.UnixNano(),
		Version:        n.Version,
	})
}

func decodeNote(data []byte) (*note.Note, error) {
	var s serializableNote
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode note: %w", err)
	}
	return &note.Note{
		ID:             s.ID,
		Content:        s.Content,
		Tags:           s.Tags,
		Context:        s.Context,
		Embedding:      s.Embedding,
		Importance:     s.Importance,
		RetrievalCount: s.RetrievalCount,
		CreatedAt:      time.Unix(0, s.CreatedAt),
		UpdatedAt:      time.Unix(0, s.UpdatedAt),
		LastAccessed:   time.Unix(0, s.LastAccessed),
		Version:        s.Version,
	}, nil
}

// Get returns the stored note, or ErrNotFound.
func (b *BadgerStore) Get(id string) (*note.Note, error) {
	var n *note.Note
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(noteKey(id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			n, err = decodeNote(val)
			return err
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return n, nil
}

// Put writes the note conditional on expectedVersion. The version check
// and the write share a transaction, so concurrent writers cannot both
// succeed against the same version.
func (b *BadgerStore) Put(n *note.Note, expectedVersion uint64) error {
	return b.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(noteKey(n.ID))
		switch {
		case errors.Is(err, badger.ErrKeyNotFound):
			if expectedVersion != 0 {
				return ErrVersionConflict
			}
		case err != nil:
			return err
		default:
			var stored uint64
			verr := item.Value(func(val []byte) error {
				existing, derr := decodeNote(val)
				if derr != nil {
					return derr
				}
				stored = existing.Version
				return nil
			})
			if verr != nil {
				return verr
			}
			if expectedVersion == 0 {
				return ErrAlreadyExists
			}
			if stored != expectedVersion {
				return ErrVersionConflict
			}
		}

		n.Version = expectedVersion + 1
		data, err := encodeNote(n)
		if err != nil {
			return err
		}
		return txn.Set(noteKey(n.ID), data)
	})
}

// Delete removes the note and every incident link.
func (b *BadgerStore) Delete(id string) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(noteKey(id)); err != nil {
			return err
		}
		if err := txn.Delete(noteKey(id)); err != nil {
			return err
		}

		// Collect incident links via the endpoint index, then remove the
		// link, both index entries, and the index prefix itself.
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		it := txn.NewIterator(opts)

		prefix := linkIdxPrefix(id)
		var pairKeys []string
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				pairKeys = append(pairKeys, string(val))
				return nil
			})
			if err != nil {
				it.Close()
				return err
			}
		}
		it.Close()

		for _, pk := range pairKeys {
			l, err := b.getLinkInTxn(txn, pk)
			if err != nil {
				if errors.Is(err, ErrNotFound) {
					continue
				}
				return err
			}
			if err := b.deleteLinkInTxn(txn, l); err != nil {
				return err
			}
		}
		return nil
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return ErrNotFound
	}
	return err
}

// ScanAll streams every note to fn.
func (b *BadgerStore) ScanAll(ctx context.Context, fn func(*note.Note) error) error {
	return b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte{prefixNote, keySeparator}
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			var n *note.Note
			err := it.Item().Value(func(val []byte) error {
				var derr error
				n, derr = decodeNote(val)
				return derr
			})
			if err != nil {
				return err
			}
			if err := fn(n); err != nil {
				return err
			}
		}
		return nil
	})
}

// PutLink creates or replaces the link for its endpoint pair.
func (b *BadgerStore) PutLink(l *note.Link) error {
	data, err := json.Marshal(l)
	if err != nil {
		return err
	}
	pk := l.Key()
	return b.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(linkKey(pk), data); err != nil {
			return err
		}
		if err := txn.Set(linkIdxKey(l.A, pk), []byte(pk)); err != nil {
			return err
		}
		return txn.Set(linkIdxKey(l.B, pk), []byte(pk))
	})
}

func (b *BadgerStore) getLinkInTxn(txn *badger.Txn, pairKey string) (*note.Link, error) {
	item, err := txn.Get(linkKey(pairKey))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var l note.Link
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &l)
	})
	if err != nil {
		return nil, err
	}
	return &l, nil
}

func (b *BadgerStore) deleteLinkInTxn(txn *badger.Txn, l *note.Link) error {
	pk := l.Key()
	if err := txn.Delete(linkKey(pk)); err != nil {
		return err
	}
	if err := txn.Delete(linkIdxKey(l.A, pk)); err != nil {
		return err
	}
	return txn.Delete(linkIdxKey(l.B, pk))
}

// GetLink returns the link between a and b, or ErrNotFound.
func (b *BadgerStore) GetLink(a, bID string) (*note.Link, error) {
	var l *note.Link
	err := b.db.View(func(txn *badger.Txn) error {
		var terr error
		l, terr = b.getLinkInTxn(txn, note.PairKey(a, bID))
		return terr
	})
	if err != nil {
		return nil, err
	}
	return l, nil
}

// DeleteLink removes the link between a and b. Absent pairs are a no-op.
func (b *BadgerStore) DeleteLink(a, bID string) error {
	return b.db.Update(func(txn *badger.Txn) error {
		l, err := b.getLinkInTxn(txn, note.PairKey(a, bID))
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return b.deleteLinkInTxn(txn, l)
	})
}

// UpdateLink atomically applies fn to the stored link between a and b.
// The read, mutation, and write share one transaction.
func (b *BadgerStore) UpdateLink(a, bID string, fn func(*note.Link) bool) error {
	return b.db.Update(func(txn *badger.Txn) error {
		l, err := b.getLinkInTxn(txn, note.PairKey(a, bID))
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if !fn(l) {
			return b.deleteLinkInTxn(txn, l)
		}
		data, err := json.Marshal(l)
		if err != nil {
			return err
		}
		return txn.Set(linkKey(l.Key()), data)
	})
}

// LinksOf returns every link incident to the note.
func (b *BadgerStore) LinksOf(id string) ([]*note.Link, error) {
	var out []*note.Link
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := linkIdxPrefix(id)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var pk string
			err := it.Item().Value(func(val []byte) error {
				pk = string(val)
				return nil
			})
			if err != nil {
				return err
			}
			l, err := b.getLinkInTxn(txn, pk)
			if err != nil {
				if errors.Is(err, ErrNotFound) {
					continue
				}
				return err
			}
			out = append(out, l)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// AllLinks returns every stored link.
func (b *BadgerStore) AllLinks() ([]*note.Link, error) {
	var out []*note.Link
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte{prefixLink, keySeparator}
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var l note.Link
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &l)
			})
			if err != nil {
				return err
			}
			cp := l
			out = append(out, &cp)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// NoteCount returns the number of stored notes.
func (b *BadgerStore) NoteCount() (int64, error) {
	return b.countPrefix([]byte{prefixNote, keySeparator})
}

// LinkCount returns the number of stored links.
func (b *BadgerStore) LinkCount() (int64, error) {
	return b.countPrefix([]byte{prefixLink, keySeparator})
}

func (b *BadgerStore) countPrefix(prefix []byte) (int64, error) {
	var count int64
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			count++
		}
		return nil
	})
	return count, err
}

// Close flushes and closes the underlying badger database.
func (b *BadgerStore) Close() error {
	return b.db.Close()
}
