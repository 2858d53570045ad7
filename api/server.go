// Package api is the presentation layer: an HTTP control surface over
// keywords, sessions, results, export, and statistics, plus a WebSocket
// feed of live session progress.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	lru "github.com/hashicorp/golang-lru/v2"

	"pricescout/config"
	"pricescout/coordinator"
	"pricescout/export"
	"pricescout/models"
	"pricescout/stats"
	"pricescout/store"
	"pricescout/sweep"
)

const resultCacheSize = 64

// Server wires the control API to the coordinator and the store.
type Server struct {
	cfg   *config.Config
	store *store.Store
	coord *coordinator.Coordinator
	fwd   coordinator.Forwarder
	hub   *Hub
	cache *lru.Cache[string, []models.ProductRecord]
}

// NewServer builds the API server. The returned server implements
// coordinator.Notifier; hand it to the coordinator so result caches are
// invalidated and clients notified as sessions progress.
func NewServer(cfg *config.Config, st *store.Store, coord *coordinator.Coordinator) (*Server, error) {
	cache, err := lru.New[string, []models.ProductRecord](resultCacheSize)
	if err != nil {
		return nil, fmt.Errorf("build result cache: %w", err)
	}
	return &Server{
		cfg:   cfg,
		store: st,
		coord: coord,
		hub:   NewHub(),
		cache: cache,
	}, nil
}

// SetForwarder makes sweep results flow to the collector the way
// finished sessions do. Optional; sweeps still write export files and
// return their records without it.
func (s *Server) SetForwarder(f coordinator.Forwarder) { s.fwd = f }

// Notify implements coordinator.Notifier: terminal states invalidate the
// cached result set before clients hear about them.
func (s *Server) Notify(update coordinator.StatusUpdate) {
	switch update.State {
	case coordinator.StateDone, coordinator.StateCancelled, coordinator.StateError:
		s.cache.Remove(models.NormalizeTerm(update.Term))
	}
	s.hub.Notify(update)
}

// Handler returns the full route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/keywords", s.handleListKeywords)
	mux.HandleFunc("POST /api/keywords", s.handleAddKeyword)
	mux.HandleFunc("DELETE /api/keywords/{term}", s.handleDeleteKeyword)

	mux.HandleFunc("GET /api/sessions", s.handleListSessions)
	mux.HandleFunc("GET /api/sessions/interrupted", s.handleInterrupted)
	mux.HandleFunc("POST /api/sessions/start", s.handleStart)
	mux.HandleFunc("POST /api/sessions/{key}/pause", s.handlePause)
	mux.HandleFunc("POST /api/sessions/{key}/resume", s.handleResume)
	mux.HandleFunc("POST /api/sessions/{key}/cancel", s.handleCancel)

	mux.HandleFunc("GET /api/results/{term}", s.handleResults)
	mux.HandleFunc("GET /api/results/{term}/export", s.handleExport)
	mux.HandleFunc("GET /api/stats/{term}", s.handleStats)

	mux.HandleFunc("POST /api/sweep", s.handleSweep)
	mux.Handle("GET /ws", s.hub)

	return mux
}

func (s *Server) handleListKeywords(w http.ResponseWriter, r *http.Request) {
	entries, err := s.store.Keywords(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}
	if entries == nil {
		entries = []models.KeywordEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleAddKeyword(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Term string `json:"term"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || models.NormalizeTerm(body.Term) == "" {
		writeError(w, http.StatusBadRequest, "term is required")
		return
	}
	entry := models.KeywordEntry{Term: models.NormalizeTerm(body.Term), Status: models.KeywordIdle}
	if err := s.store.PutKeyword(r.Context(), entry); err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

func (s *Server) handleDeleteKeyword(w http.ResponseWriter, r *http.Request) {
	term := r.PathValue("term")
	if err := s.store.DeleteKeyword(r.Context(), term); err != nil {
		s.fail(w, err)
		return
	}
	if err := s.store.DeleteResults(r.Context(), term); err != nil {
		s.fail(w, err)
		return
	}
	s.cache.Remove(models.NormalizeTerm(term))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	all, err := s.store.LoadAllSessions(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}
	out := make(map[string]*models.ScrapeSession, len(all))
	for key, sess := range all {
		// Session list responses omit the record payload; it can be
		// large and the results endpoint serves it.
		trimmed := *sess
		trimmed.AccumulatedProducts = nil
		out[key] = &trimmed
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleInterrupted(w http.ResponseWriter, r *http.Request) {
	paused, err := s.store.ListPaused(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}
	out := make([]*models.ScrapeSession, 0, len(paused))
	for _, sess := range paused {
		trimmed := *sess
		trimmed.AccumulatedProducts = nil
		out = append(out, &trimmed)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Site models.Site `json:"site"`
		Term string      `json:"term"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !body.Site.Valid() {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown site %q", body.Site))
		return
	}
	if models.NormalizeTerm(body.Term) == "" {
		writeError(w, http.StatusBadRequest, "term is required")
		return
	}
	if err := s.coord.Start(r.Context(), body.Site, body.Term); err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"key": models.SessionKey(body.Site, body.Term),
	})
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	if err := s.coord.Pause(r.Context(), r.PathValue("key")); err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"state": string(coordinator.StatePaused)})
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	if err := s.coord.Resume(r.Context(), r.PathValue("key")); err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"state": string(coordinator.StateRunning)})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	if err := s.coord.Cancel(r.Context(), r.PathValue("key")); err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"state": string(coordinator.StateCancelled)})
}

func (s *Server) handleResults(w http.ResponseWriter, r *http.Request) {
	records, err := s.loadResults(r, r.PathValue("term"))
	if err != nil {
		s.fail(w, err)
		return
	}
	if records == nil {
		records = []models.ProductRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	term := r.PathValue("term")
	records, err := s.loadResults(r, term)
	if err != nil {
		s.fail(w, err)
		return
	}

	slug := models.NormalizeTerm(term)
	switch format := r.URL.Query().Get("format"); format {
	case "", "json":
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", slug+".json"))
		if err := export.WriteJSON(w, records); err != nil {
			slog.Error("stream json export", slog.Any("error", err))
		}
	case "csv":
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", slug+".csv"))
		if err := export.WriteCSV(w, records); err != nil {
			slog.Error("stream csv export", slog.Any("error", err))
		}
	default:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown export format %q", format))
	}
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	records, err := s.loadResults(r, r.PathValue("term"))
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats.Compute(records))
}

func (s *Server) handleSweep(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Site models.Site `json:"site"`
		Term string      `json:"term"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !body.Site.Valid() {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown site %q", body.Site))
		return
	}

	sw, err := sweep.New(s.cfg, body.Site)
	if err != nil {
		s.fail(w, err)
		return
	}
	result, err := sw.Run(r.Context(), body.Term)
	if err != nil {
		s.fail(w, err)
		return
	}

	if s.fwd != nil && len(result.Records) > 0 {
		batch := append([]models.ProductRecord(nil), result.Records...)
		go func() {
			if err := s.fwd.Forward(context.Background(), batch); err != nil {
				slog.Warn("forward sweep batch", slog.Any("error", err))
			}
		}()
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"records": result.Records,
		"pages":   result.Pages,
		"retries": result.Retries,
		"failed":  result.FailedURLs,
		"files":   result.Files,
	})
}

func (s *Server) loadResults(r *http.Request, term string) ([]models.ProductRecord, error) {
	normalized := models.NormalizeTerm(term)
	if cached, ok := s.cache.Get(normalized); ok {
		return cached, nil
	}
	records, err := s.store.LoadResults(r.Context(), normalized)
	if err != nil {
		return nil, err
	}
	if len(records) > 0 {
		s.cache.Add(normalized, records)
	}
	return records, nil
}

// fail maps coordinator and store errors onto HTTP statuses.
func (s *Server) fail(w http.ResponseWriter, err error) {
	var conflict coordinator.ConflictError
	switch {
	case errors.As(err, &conflict):
		writeError(w, http.StatusConflict, conflict.Error())
	case errors.Is(err, coordinator.ErrSessionNotFound), errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, coordinator.ErrNoActiveSession):
		writeError(w, http.StatusConflict, err.Error())
	default:
		slog.Error("api request failed", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("encode response", slog.Any("error", err))
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]interface{}{
		"success": false,
		"message": message,
		"code":    status,
	})
}
