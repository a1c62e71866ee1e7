// Package server exposes the engine over a JSON REST API.
//
// Endpoints:
//
//	POST   /notes                     create a note
//	GET    /notes/{id}                fetch a note
//	PATCH  /notes/{id}                partial update
//	DELETE /notes/{id}                delete a note and its links
//	GET    /notes/{id}/neighbors      linked notes, strongest first
//	GET    /search?q=...&limit=10     hybrid search
//	PUT    /notes/{id}/links/{other}  create a user link
//	DELETE /notes/{id}/links/{other}  remove a link
//	GET    /tags                      tag counts
//	POST   /sweep                     run a maintenance sweep now
//	GET    /stats                     collection counts
//	GET    /health                    liveness
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/orneryd/muninn/pkg/config"
	"github.com/orneryd/muninn/pkg/evolution"
	"github.com/orneryd/muninn/pkg/muninn"
	"github.com/orneryd/muninn/pkg/note"
	"github.com/orneryd/muninn/pkg/search"
	"github.com/orneryd/muninn/pkg/store"
)

// ErrServerClosed is returned by Start after Stop has been called.
var ErrServerClosed = errors.New("server: already closed")

// Server serves the REST API over a DB.
type Server struct {
	db     *muninn.DB
	config config.ServerConfig
	logger *log.Logger

	httpServer *http.Server
	listener   net.Listener
	closed     atomic.Bool
}

// New creates a Server. If logger is nil, a stderr logger is used.
func New(db *muninn.DB, cfg config.ServerConfig, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.New(os.Stderr, "muninn-http ", log.LstdFlags)
	}
	return &Server{db: db, config: cfg, logger: logger}
}

// Start binds the listener and begins serving in the background.
func (s *Server) Start() error {
	if s.closed.Load() {
		return ErrServerClosed
	}

	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.listener = listener

	s.httpServer = &http.Server{
		Handler:      s.buildRouter(),
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.logger.Printf("http server error: %v", err)
		}
	}()

	s.logger.Printf("listening on %s", listener.Addr())
	return nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

// Addr returns the bound listen address, useful with Port 0 in tests.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
}

func (s *Server) buildRouter() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /notes", s.handleCreateNote)
	mux.HandleFunc("GET /notes/{id}", s.handleGetNote)
	mux.HandleFunc("PATCH /notes/{id}", s.handleUpdateNote)
	mux.HandleFunc("DELETE /notes/{id}", s.handleDeleteNote)
	mux.HandleFunc("GET /notes/{id}/neighbors", s.handleNeighbors)
	mux.HandleFunc("PUT /notes/{id}/links/{other}", s.handlePutLink)
	mux.HandleFunc("DELETE /notes/{id}/links/{other}", s.handleDeleteLink)

	mux.HandleFunc("GET /search", s.handleSearch)
	mux.HandleFunc("GET /tags", s.handleTags)
	mux.HandleFunc("POST /sweep", s.handleSweep)
	mux.HandleFunc("GET /stats", s.handleStats)
	mux.HandleFunc("GET /health", s.handleHealth)

	return mux
}

type noteRequest struct {
	Content string   `json:"content"`
	Tags    []string `json:"tags"`
	Context string   `json:"context"`
}

type noteUpdateRequest struct {
	Content *string   `json:"content"`
	Tags    *[]string `json:"tags"`
	Context *string   `json:"context"`
}

type linkRequest struct {
	Strength float64 `json:"strength"`
}

func (s *Server) handleCreateNote(w http.ResponseWriter, r *http.Request) {
	var req noteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	n, err := s.db.CreateNote(r.Context(), req.Content, req.Tags, req.Context)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, n)
}

func (s *Server) handleGetNote(w http.ResponseWriter, r *http.Request) {
	n, err := s.db.GetNote(r.PathValue("id"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, n)
}

func (s *Server) handleUpdateNote(w http.ResponseWriter, r *http.Request) {
	var req noteUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	n, err := s.db.UpdateNote(r.Context(), r.PathValue("id"), muninn.NoteUpdate{
		Content: req.Content,
		Tags:    req.Tags,
		Context: req.Context,
	})
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, n)
}

func (s *Server) handleDeleteNote(w http.ResponseWriter, r *http.Request) {
	if err := s.db.DeleteNote(r.PathValue("id")); err != nil {
		s.writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleNeighbors(w http.ResponseWriter, r *http.Request) {
	neighbors, err := s.db.Neighbors(r.PathValue("id"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"neighbors": neighbors})
}

func (s *Server) handlePutLink(w http.ResponseWriter, r *http.Request) {
	req := linkRequest{Strength: 1.0}
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
	}
	link, err := s.db.Link(r.PathValue("id"), r.PathValue("other"), req.Strength)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, link)
}

func (s *Server) handleDeleteLink(w http.ResponseWriter, r *http.Request) {
	if err := s.db.Unlink(r.PathValue("id"), r.PathValue("other")); err != nil {
		s.writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	limit := 10
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "limit must be an integer")
			return
		}
		limit = parsed
	}
	results, err := s.db.Search(r.Context(), query, limit)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"query":   query,
		"count":   len(results),
		"results": results,
	})
}

func (s *Server) handleTags(w http.ResponseWriter, r *http.Request) {
	tags, err := s.db.Tags()
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"tags": tags})
}

func (s *Server) handleSweep(w http.ResponseWriter, r *http.Request) {
	report, err := s.db.RunSweep(r.Context())
	if err != nil && !errors.Is(err, evolution.ErrPartialFailure) {
		s.writeDomainError(w, err)
		return
	}
	body := map[string]any{"report": report}
	if err != nil {
		// Partial failure still returns the report; the client decides.
		body["warning"] = err.Error()
	}
	s.writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.db.Stats()
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// writeDomainError maps engine errors onto HTTP statuses.
func (s *Server) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		s.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, note.ErrEmptyContent),
		errors.Is(err, note.ErrSelfLink),
		errors.Is(err, search.ErrInvalidLimit):
		s.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, store.ErrVersionConflict),
		errors.Is(err, store.ErrAlreadyExists):
		s.writeError(w, http.StatusConflict, err.Error())
	default:
		s.logger.Printf("internal error: %v", err)
		s.writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]any{
		"error":   true,
		"message": message,
		"code":    status,
	})
}
