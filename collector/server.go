// Package collector implements the local sink endpoint: it stores the
// most recent payload POSTed to /data and serves it back on GET. It is a
// deliberately trivial HTTP server, meant to run next to the daemon
// during a scraping run.
package collector

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// maxBodyBytes caps inbound payloads; a full 25-page result set is well
// under this.
const maxBodyBytes = 5 << 20

// Server holds the last payload received.
type Server struct {
	mu        sync.RWMutex
	last      json.RawMessage
	updatedAt time.Time
}

// New builds an empty collector.
func New() *Server {
	return &Server{}
}

// Handler returns the HTTP handler for the collector.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/data", s.handleData)
	mux.HandleFunc("/", s.handleNotFound)
	return mux
}

func (s *Server) handleData(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.handleGet(w, r)
	case http.MethodPost:
		s.handlePost(w, r)
	default:
		writeJSON(w, http.StatusMethodNotAllowed, map[string]interface{}{
			"data":    nil,
			"message": "Método no permitido.",
			"success": false,
			"code":    http.StatusMethodNotAllowed,
		})
	}
}

func (s *Server) handleGet(w http.ResponseWriter, _ *http.Request) {
	s.mu.RLock()
	last, updatedAt := s.last, s.updatedAt
	s.mu.RUnlock()

	var data interface{}
	if len(last) > 0 {
		data = last
	}
	// updatedAt is always present, null until the first POST.
	var stamp interface{}
	if !updatedAt.IsZero() {
		stamp = updatedAt.UTC().Format(time.RFC3339)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"data":      data,
		"success":   true,
		"updatedAt": stamp,
	})
}

func (s *Server) handlePost(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	var body json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{
			"data":    nil,
			"message": "El cuerpo de la petición no es JSON válido.",
			"success": false,
			"code":    http.StatusBadRequest,
		})
		return
	}

	s.mu.Lock()
	s.last = body
	s.updatedAt = time.Now()
	s.mu.Unlock()

	items := countItems(body)
	slog.Info("payload received",
		slog.Int("bytes", len(body)),
		slog.Int("items", items),
	)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"items":   items,
	})
}

func (s *Server) handleNotFound(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusNotFound, map[string]interface{}{
		"data":    nil,
		"message": "La ruta solicitada no existe en esta API.",
		"success": false,
		"code":    http.StatusNotFound,
	})
}

// countItems reports how many records a payload carries: the length of a
// top-level array, or of a "records" array inside an object, else zero.
func countItems(body json.RawMessage) int {
	var asArray []json.RawMessage
	if err := json.Unmarshal(body, &asArray); err == nil {
		return len(asArray)
	}
	var asObject struct {
		Records []json.RawMessage `json:"records"`
	}
	if err := json.Unmarshal(body, &asObject); err == nil {
		return len(asObject.Records)
	}
	return 0
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("encode response", slog.Any("error", err))
	}
}
