// Package testserver provides an in-memory HTTP test double for the
// Record Store's wire surface (spec §6.1): create/get/update/delete,
// search/vector_search, secrets, and an SSE stream that broadcasts every
// write. It exists so recordclient, dispatcher and end-to-end scenario
// tests (spec §8 S1-S6) can run against a real HTTP server without a live
// record store. Grounded on the teacher's in-memory store
// (internal/storage/memory.go) for its mutex-guarded map shape, adapted
// from per-entity CRUD stores to the single breadcrumb table this spec
// defines, and on its HTTP test harness conventions (httptest.Server).
package testserver

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/haasonsaas/breadcrumb/pkg/models"
)

// Server is an in-memory Record Store double exposing the same HTTP
// surface the real record store does.
type Server struct {
	mu          sync.RWMutex
	breadcrumbs map[string]*models.Breadcrumb
	secrets     map[string]string

	subMu       sync.Mutex
	subscribers map[chan *models.Event]struct{}

	httpServer *httptest.Server
	mux        *http.ServeMux
}

// New builds a Server with no data and no secrets.
func New() *Server {
	s := &Server{
		breadcrumbs: make(map[string]*models.Breadcrumb),
		secrets:     make(map[string]string),
		subscribers: make(map[chan *models.Event]struct{}),
	}
	s.mux = http.NewServeMux()
	s.routes()
	return s
}

// Start launches the underlying httptest.Server and returns its base URL.
func (s *Server) Start() string {
	s.httpServer = httptest.NewServer(s.mux)
	return s.httpServer.URL
}

// Close shuts down the underlying HTTP server and all SSE subscribers.
func (s *Server) Close() {
	if s.httpServer != nil {
		s.httpServer.Close()
	}
	s.subMu.Lock()
	for ch := range s.subscribers {
		close(ch)
	}
	s.subscribers = make(map[chan *models.Event]struct{})
	s.subMu.Unlock()
}

// Seed directly inserts a breadcrumb, bypassing HTTP, for test setup.
func (s *Server) Seed(b *models.Breadcrumb) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	if b.Version == 0 {
		b.Version = 1
	}
	s.breadcrumbs[b.ID] = b
}

// SeedSecret registers a secret value retrievable via GetSecret.
func (s *Server) SeedSecret(name, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.secrets[name] = value
}

func (s *Server) routes() {
	s.mux.HandleFunc("/breadcrumbs/search", s.handleSearch)
	s.mux.HandleFunc("/breadcrumbs/vector_search", s.handleVectorSearch)
	s.mux.HandleFunc("/breadcrumbs/stream", s.handleStream)
	s.mux.HandleFunc("/breadcrumbs/", s.handleBreadcrumbByID)
	s.mux.HandleFunc("/breadcrumbs", s.handleBreadcrumbsRoot)
	s.mux.HandleFunc("/secrets/", s.handleGetSecret)
	s.mux.HandleFunc("/secrets", s.handleListSecrets)
}

func (s *Server) handleBreadcrumbsRoot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req models.CreateBreadcrumbRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	b := &models.Breadcrumb{
		ID:          uuid.NewString(),
		SchemaName:  req.SchemaName,
		Title:       req.Title,
		Tags:        req.Tags,
		Context:     req.Context,
		Version:     1,
		TTL:         req.TTL,
		Visibility:  req.Visibility,
		Sensitivity: req.Sensitivity,
	}

	s.mu.Lock()
	s.breadcrumbs[b.ID] = b
	s.mu.Unlock()

	s.broadcast(&models.Event{
		Type:         models.EventBreadcrumbCreated,
		BreadcrumbID: b.ID,
		SchemaName:   b.SchemaName,
		Tags:         b.Tags,
		Context:      b.Context,
	})

	writeJSON(w, http.StatusCreated, models.CreateBreadcrumbResult{ID: b.ID, Version: b.Version})
}

func (s *Server) handleBreadcrumbByID(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/breadcrumbs/")
	if id == "" {
		http.NotFound(w, r)
		return
	}

	switch r.Method {
	case http.MethodGet:
		s.mu.RLock()
		b, ok := s.breadcrumbs[id]
		s.mu.RUnlock()
		if !ok {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, b)

	case http.MethodPatch:
		s.handleUpdate(w, r, id)

	case http.MethodDelete:
		s.mu.Lock()
		_, ok := s.breadcrumbs[id]
		delete(s.breadcrumbs, id)
		s.mu.Unlock()
		if !ok {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		s.broadcast(&models.Event{Type: models.EventBreadcrumbDeleted, BreadcrumbID: id})
		w.WriteHeader(http.StatusNoContent)

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request, id string) {
	ifMatch := r.Header.Get("If-Match")
	expected, err := strconv.Atoi(ifMatch)
	if ifMatch != "" && err != nil {
		http.Error(w, "invalid If-Match", http.StatusBadRequest)
		return
	}

	var patch models.UpdatePatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	b, ok := s.breadcrumbs[id]
	if !ok {
		s.mu.Unlock()
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	if ifMatch != "" && b.Version != expected {
		s.mu.Unlock()
		http.Error(w, "version mismatch", http.StatusPreconditionFailed)
		return
	}

	if patch.Title != nil {
		b.Title = *patch.Title
	}
	if patch.Tags != nil {
		b.Tags = patch.Tags
	}
	if patch.Context != nil {
		b.Context = patch.Context
	}
	if patch.TTL != nil {
		b.TTL = patch.TTL
	}
	if patch.Visibility != nil {
		b.Visibility = *patch.Visibility
	}
	if patch.Sensitivity != nil {
		b.Sensitivity = *patch.Sensitivity
	}
	b.Version++
	updated := *b
	s.mu.Unlock()

	s.broadcast(&models.Event{
		Type:         models.EventBreadcrumbUpdated,
		BreadcrumbID: updated.ID,
		SchemaName:   updated.SchemaName,
		Tags:         updated.Tags,
		Context:      updated.Context,
	})

	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	schemaName := q.Get("schema_name")
	anyTags := q["any_tag"]
	allTags := q["all_tag"]
	limit := 0
	if l := q.Get("limit"); l != "" {
		limit, _ = strconv.Atoi(l)
	}

	s.mu.RLock()
	var results []models.Breadcrumb
	for _, b := range s.breadcrumbs {
		if schemaName != "" && b.SchemaName != schemaName {
			continue
		}
		if len(anyTags) > 0 && !anyIntersects(anyTags, b.Tags) {
			continue
		}
		if len(allTags) > 0 && !allContained(allTags, b.Tags) {
			continue
		}
		results = append(results, *b)
	}
	s.mu.RUnlock()

	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	writeJSON(w, http.StatusOK, results)
}

func (s *Server) handleVectorSearch(w http.ResponseWriter, r *http.Request) {
	var q struct {
		SchemaName string `json:"schema_name"`
		NN         int    `json:"nn"`
	}
	if err := json.NewDecoder(r.Body).Decode(&q); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.mu.RLock()
	var results []models.Breadcrumb
	for _, b := range s.breadcrumbs {
		if q.SchemaName != "" && b.SchemaName != q.SchemaName {
			continue
		}
		results = append(results, *b)
	}
	s.mu.RUnlock()

	if q.NN > 0 && len(results) > q.NN {
		results = results[:q.NN]
	}
	writeJSON(w, http.StatusOK, results)
}

func (s *Server) handleListSecrets(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]map[string]string, 0, len(s.secrets))
	for name := range s.secrets {
		names = append(names, map[string]string{"name": name})
	}
	writeJSON(w, http.StatusOK, names)
}

func (s *Server) handleGetSecret(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimPrefix(r.URL.Path, "/secrets/")
	s.mu.RLock()
	value, ok := s.secrets[name]
	s.mu.RUnlock()
	if !ok {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"value": value})
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	ch := make(chan *models.Event, 64)
	s.subMu.Lock()
	s.subscribers[ch] = struct{}{}
	s.subMu.Unlock()
	defer func() {
		s.subMu.Lock()
		delete(s.subscribers, ch)
		s.subMu.Unlock()
	}()

	w.Header().Set("Content-Type", "text/event-stream")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case ev, open := <-ch:
			if !open {
				return
			}
			data, _ := json.Marshal(ev)
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

// broadcast fans ev out to every connected SSE subscriber, dropping it for
// any subscriber whose buffer is full rather than blocking.
func (s *Server) broadcast(ev *models.Event) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for ch := range s.subscribers {
		select {
		case ch <- ev:
		default:
		}
	}
}

func anyIntersects(want, have []string) bool {
	set := make(map[string]struct{}, len(have))
	for _, t := range have {
		set[t] = struct{}{}
	}
	for _, t := range want {
		if _, ok := set[t]; ok {
			return true
		}
	}
	return false
}

func allContained(want, have []string) bool {
	set := make(map[string]struct{}, len(have))
	for _, t := range have {
		set[t] = struct{}{}
	}
	for _, t := range want {
		if _, ok := set[t]; !ok {
			return false
		}
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
