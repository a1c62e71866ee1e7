package muninn

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/muninn/pkg/embed"
	"github.com/orneryd/muninn/pkg/evolution"
	"github.com/orneryd/muninn/pkg/importance"
	"github.com/orneryd/muninn/pkg/index"
	"github.com/orneryd/muninn/pkg/note"
	"github.com/orneryd/muninn/pkg/search"
	"github.com/orneryd/muninn/pkg/store"
)

type workerFixture struct {
	store   *store.MemoryStore
	vectors *index.Index
	static  *embed.Static
	worker  *EmbedWorker
}

func newWorkerFixture(t *testing.T) *workerFixture {
	t.Helper()
	f := &workerFixture{
		store:   store.NewMemoryStore(),
		vectors: index.New(2),
		static:  embed.NewStatic(2),
	}
	ev := evolution.NewEngine(f.store, f.vectors, search.NewLexicalIndex(), importance.New(nil), nil, nil)
	f.worker = NewEmbedWorker(f.store, f.static, f.vectors, ev, 5*time.Millisecond, nil)
	return f
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition never satisfied")
}

func TestEmbedWorker_BackfillsAndEvolves(t *testing.T) {
	f := newWorkerFixture(t)

	a := note.New("first pending note")
	b := note.New("second pending note")
	require.NoError(t, f.store.Put(a, 0))
	require.NoError(t, f.store.Put(b, 0))

	// Near-identical vectors: strong enough to auto-link.
	f.static.Register(a.EmbeddingText(), []float32{1, 0})
	f.static.Register(b.EmbeddingText(), []float32{0.9, 0.4359})

	f.worker.Start()
	defer f.worker.Stop()

	eventually(t, func() bool {
		return f.vectors.Has(a.ID) && f.vectors.Has(b.ID)
	})

	got, err := f.store.Get(a.ID)
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 0}, got.Embedding)

	// Incremental evolution ran when the embedding landed.
	eventually(t, func() bool {
		_, err := f.store.GetLink(a.ID, b.ID)
		return err == nil
	})
}

func TestEmbedWorker_WaitsOutProviderOutage(t *testing.T) {
	f := newWorkerFixture(t)

	n := note.New("created during outage")
	require.NoError(t, f.store.Put(n, 0))
	f.static.Register(n.EmbeddingText(), []float32{0, 1})
	f.static.SetDown(true)

	f.worker.Start()
	defer f.worker.Stop()

	time.Sleep(30 * time.Millisecond)
	assert.False(t, f.vectors.Has(n.ID), "nothing indexed while the provider is down")

	f.static.SetDown(false)
	eventually(t, func() bool { return f.vectors.Has(n.ID) })
}

func TestEmbedWorker_SkipsAlreadyEmbedded(t *testing.T) {
	f := newWorkerFixture(t)

	n := note.New("already embedded")
	n.Embedding = []float32{1, 0}
	require.NoError(t, f.store.Put(n, 0))
	require.NoError(t, f.vectors.Upsert(n.ID, n.Embedding, n.CreatedAt))

	f.worker.Start()
	defer f.worker.Stop()
	time.Sleep(30 * time.Millisecond)

	got, err := f.store.Get(n.ID)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), got.Version, "no rewrite for embedded notes")
}

func TestEmbedWorker_StartStopIdempotent(t *testing.T) {
	f := newWorkerFixture(t)
	f.worker.Start()
	f.worker.Start()
	f.worker.Stop()
	f.worker.Stop()
}
