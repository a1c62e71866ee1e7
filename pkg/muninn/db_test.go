package muninn

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/muninn/pkg/config"
	"github.com/orneryd/muninn/pkg/note"
	"github.com/orneryd/muninn/pkg/search"
	"github.com/orneryd/muninn/pkg/store"
)

// testConfig returns a config suitable for fast tests: in-memory store,
// no embedding provider, no background sweeps.
func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Database.DataDir = ""
	cfg.Embedding.Provider = "none"
	cfg.Evolution.SweepEnabled = false
	return cfg
}

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(testConfig(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestOpen_RejectsInvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Server.Port = -1
	_, err := Open(cfg, nil)
	assert.Error(t, err)
}

func TestCreateNote_AndGet(t *testing.T) {
	db := openTestDB(t)

	n, err := db.CreateNote(context.Background(), "hello knowledge base", []string{"Greeting"}, "intro")
	require.NoError(t, err)
	assert.NotEmpty(t, n.ID)
	assert.Equal(t, []string{"greeting"}, n.Tags, "tags are normalized")

	got, err := db.GetNote(n.ID)
	require.NoError(t, err)
	assert.Equal(t, "hello knowledge base", got.Content)
	assert.Equal(t, "intro", got.Context)
}

func TestCreateNote_RejectsEmptyContent(t *testing.T) {
	db := openTestDB(t)
	_, err := db.CreateNote(context.Background(), "   ", nil, "")
	assert.ErrorIs(t, err, note.ErrEmptyContent)
}

func TestSearch_FindsCreatedNote(t *testing.T) {
	db := openTestDB(t)

	n, err := db.CreateNote(context.Background(), "badger compaction strategy", nil, "")
	require.NoError(t, err)
	_, err = db.CreateNote(context.Background(), "gardening in spring", nil, "")
	require.NoError(t, err)

	results, err := db.Search(context.Background(), "badger compaction", 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, n.ID, results[0].Note.ID)
}

func TestSearch_InvalidLimit(t *testing.T) {
	db := openTestDB(t)
	_, err := db.Search(context.Background(), "anything", 0)
	assert.ErrorIs(t, err, search.ErrInvalidLimit)
}

func TestUpdateNote_PartialAndLexicalReindex(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	n, err := db.CreateNote(ctx, "original wording", nil, "")
	require.NoError(t, err)

	content := "replacement phrasing"
	updated, err := db.UpdateNote(ctx, n.ID, NoteUpdate{Content: &content})
	require.NoError(t, err)
	assert.Equal(t, "replacement phrasing", updated.Content)

	results, err := db.Search(ctx, "original", 10)
	require.NoError(t, err)
	assert.Empty(t, results)

	results, err = db.Search(ctx, "replacement", 10)
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestUpdateNote_NoFieldsIsNoOp(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	n, err := db.CreateNote(ctx, "unchanged", nil, "")
	require.NoError(t, err)

	updated, err := db.UpdateNote(ctx, n.ID, NoteUpdate{})
	require.NoError(t, err)
	assert.Equal(t, n.Version, updated.Version)
}

func TestUpdateNote_Missing(t *testing.T) {
	db := openTestDB(t)
	content := "x"
	_, err := db.UpdateNote(context.Background(), "ghost", NoteUpdate{Content: &content})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestDeleteNote_RemovesEverywhere(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	n, err := db.CreateNote(ctx, "disposable note", nil, "")
	require.NoError(t, err)
	require.NoError(t, db.DeleteNote(n.ID))

	_, err = db.GetNote(n.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	results, err := db.Search(ctx, "disposable", 10)
	require.NoError(t, err)
	assert.Empty(t, results)

	assert.ErrorIs(t, db.DeleteNote(n.ID), store.ErrNotFound)
}

func TestLink_Unlink_Neighbors(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	a, err := db.CreateNote(ctx, "note a", nil, "")
	require.NoError(t, err)
	b, err := db.CreateNote(ctx, "note b", nil, "")
	require.NoError(t, err)
	c, err := db.CreateNote(ctx, "note c", nil, "")
	require.NoError(t, err)

	_, err = db.Link(a.ID, b.ID, 0.9)
	require.NoError(t, err)
	_, err = db.Link(a.ID, c.ID, 0.4)
	require.NoError(t, err)

	neighbors, err := db.Neighbors(a.ID)
	require.NoError(t, err)
	require.Len(t, neighbors, 2)
	assert.Equal(t, b.ID, neighbors[0].Note.ID, "strongest link first")
	assert.True(t, neighbors[0].UserCreated)

	require.NoError(t, db.Unlink(a.ID, b.ID))
	neighbors, err = db.Neighbors(a.ID)
	require.NoError(t, err)
	assert.Len(t, neighbors, 1)
}

func TestLink_RejectsMissingAndSelf(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	a, err := db.CreateNote(ctx, "note a", nil, "")
	require.NoError(t, err)

	_, err = db.Link(a.ID, "ghost", 0.5)
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = db.Link(a.ID, a.ID, 0.5)
	assert.ErrorIs(t, err, note.ErrSelfLink)
}

func TestTags_Counts(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	_, err := db.CreateNote(ctx, "one", []string{"go", "db"}, "")
	require.NoError(t, err)
	_, err = db.CreateNote(ctx, "two", []string{"go"}, "")
	require.NoError(t, err)

	tags, err := db.Tags()
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"go": 2, "db": 1}, tags)
}

func TestStats_AndSweep(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	a, err := db.CreateNote(ctx, "alpha", nil, "")
	require.NoError(t, err)
	b, err := db.CreateNote(ctx, "beta", nil, "")
	require.NoError(t, err)
	_, err = db.Link(a.ID, b.ID, 0.8)
	require.NoError(t, err)

	stats, err := db.Stats()
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Notes)
	assert.Equal(t, 1, stats.Links)
	assert.Equal(t, 2, stats.PendingEmbeds, "no provider, nothing indexed")

	report, err := db.RunSweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, report.NotesProcessed)

	// The user link survives untouched.
	stats, err = db.Stats()
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Links)
}

func TestOpen_RebuildsIndexesFromDisk(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig()
	cfg.Database.DataDir = dir

	db, err := Open(cfg, nil)
	require.NoError(t, err)
	n, err := db.CreateNote(context.Background(), "durable searching", nil, "")
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db, err = Open(cfg, nil)
	require.NoError(t, err)
	defer db.Close()

	results, err := db.Search(context.Background(), "durable", 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, n.ID, results[0].Note.ID)
}
