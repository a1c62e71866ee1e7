package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/muninn/pkg/config"
	"github.com/orneryd/muninn/pkg/muninn"
	"github.com/orneryd/muninn/pkg/note"
)

func newTestServer(t *testing.T) (*Server, *muninn.DB) {
	t.Helper()
	cfg := config.Default()
	cfg.Database.DataDir = ""
	cfg.Embedding.Provider = "none"
	cfg.Evolution.SweepEnabled = false

	db, err := muninn.Open(cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return New(db, cfg.Server, nil), db
}

func doJSON(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.buildRouter().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v))
	return v
}

func TestHandleCreateNote(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doJSON(t, s, http.MethodPost, "/notes", map[string]any{
		"content": "note over http",
		"tags":    []string{"api"},
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	n := decode[note.Note](t, rec)
	assert.NotEmpty(t, n.ID)
	assert.Equal(t, "note over http", n.Content)
	assert.Equal(t, []string{"api"}, n.Tags)
}

func TestHandleCreateNote_BadRequests(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doJSON(t, s, http.MethodPost, "/notes", map[string]any{"content": "  "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/notes", bytes.NewBufferString("{broken"))
	rr := httptest.NewRecorder()
	s.buildRouter().ServeHTTP(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestHandleGetNote(t *testing.T) {
	s, db := newTestServer(t)
	n, err := db.CreateNote(t.Context(), "fetch me", nil, "")
	require.NoError(t, err)

	rec := doJSON(t, s, http.MethodGet, "/notes/"+n.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[note.Note](t, rec)
	assert.Equal(t, n.ID, got.ID)

	rec = doJSON(t, s, http.MethodGet, "/notes/ghost", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleUpdateNote(t *testing.T) {
	s, db := newTestServer(t)
	n, err := db.CreateNote(t.Context(), "before edit", nil, "")
	require.NoError(t, err)

	rec := doJSON(t, s, http.MethodPatch, "/notes/"+n.ID, map[string]any{
		"content": "after edit",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[note.Note](t, rec)
	assert.Equal(t, "after edit", got.Content)
}

func TestHandleDeleteNote(t *testing.T) {
	s, db := newTestServer(t)
	n, err := db.CreateNote(t.Context(), "delete me", nil, "")
	require.NoError(t, err)

	rec := doJSON(t, s, http.MethodDelete, "/notes/"+n.ID, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = doJSON(t, s, http.MethodDelete, "/notes/"+n.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleSearch(t *testing.T) {
	s, db := newTestServer(t)
	_, err := db.CreateNote(t.Context(), "searchable payload", nil, "")
	require.NoError(t, err)

	rec := doJSON(t, s, http.MethodGet, "/search?q=searchable&limit=5", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode[map[string]any](t, rec)
	assert.Equal(t, float64(1), body["count"])
}

func TestHandleSearch_BadLimits(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doJSON(t, s, http.MethodGet, "/search?q=x&limit=abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, s, http.MethodGet, "/search?q=x&limit=0", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleLinks(t *testing.T) {
	s, db := newTestServer(t)
	a, err := db.CreateNote(t.Context(), "endpoint a", nil, "")
	require.NoError(t, err)
	b, err := db.CreateNote(t.Context(), "endpoint b", nil, "")
	require.NoError(t, err)

	path := fmt.Sprintf("/notes/%s/links/%s", a.ID, b.ID)
	rec := doJSON(t, s, http.MethodPut, path, map[string]any{"strength": 0.7})
	require.Equal(t, http.StatusCreated, rec.Code)
	l := decode[note.Link](t, rec)
	assert.Equal(t, 0.7, l.Strength)
	assert.True(t, l.UserCreated)

	rec = doJSON(t, s, http.MethodGet, "/notes/"+a.ID+"/neighbors", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, s, http.MethodDelete, path, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestHandleLink_SelfLinkRejected(t *testing.T) {
	s, db := newTestServer(t)
	a, err := db.CreateNote(t.Context(), "loner", nil, "")
	require.NoError(t, err)

	path := fmt.Sprintf("/notes/%s/links/%s", a.ID, a.ID)
	rec := doJSON(t, s, http.MethodPut, path, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleSweepStatsHealth(t *testing.T) {
	s, db := newTestServer(t)
	_, err := db.CreateNote(t.Context(), "swept note", nil, "")
	require.NoError(t, err)

	rec := doJSON(t, s, http.MethodPost, "/sweep", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[map[string]any](t, rec)
	assert.Contains(t, body, "report")

	rec = doJSON(t, s, http.MethodGet, "/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	stats := decode[map[string]any](t, rec)
	assert.Equal(t, float64(1), stats["notes"])

	rec = doJSON(t, s, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleTags(t *testing.T) {
	s, db := newTestServer(t)
	_, err := db.CreateNote(t.Context(), "tagged", []string{"go"}, "")
	require.NoError(t, err)

	rec := doJSON(t, s, http.MethodGet, "/tags", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[map[string]map[string]int](t, rec)
	assert.Equal(t, 1, body["tags"]["go"])
}

func TestStartStop_RealListener(t *testing.T) {
	s, _ := newTestServer(t)
	s.config.Port = 0 // ephemeral

	require.NoError(t, s.Start())
	defer s.Stop(t.Context())

	resp, err := http.Get("http://" + s.Addr() + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
