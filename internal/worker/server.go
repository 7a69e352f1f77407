package worker

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"net/http"
	"strconv"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/glossa/internal/config"
	"github.com/thebtf/glossa/internal/embedding"
	"github.com/thebtf/glossa/internal/ocr"
	"github.com/thebtf/glossa/internal/pipeline"
	"github.com/thebtf/glossa/internal/providers"
	"github.com/thebtf/glossa/internal/translate"
	"github.com/thebtf/glossa/internal/vocab"
	"github.com/thebtf/glossa/pkg/models"
)

// Server wires the pipeline, vocabulary store, and provider registry to
// HTTP handlers. One translation run may be active at a time; concurrent
// requests are rejected, not queued.
type Server struct {
	store    *vocab.Store
	registry *providers.Registry
	events   *Broadcaster

	mu      sync.Mutex
	current *pipeline.Worker
}

// NewServer builds the HTTP surface.
func NewServer(store *vocab.Store, registry *providers.Registry) *Server {
	return &Server{
		store:    store,
		registry: registry,
		events:   NewBroadcaster(),
	}
}

// Events returns the broadcaster, mainly for tests.
func (s *Server) Events() *Broadcaster {
	return s.events
}

// Router assembles the chi route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/api/health", s.handleHealth)
	r.Get("/api/events", s.events.HandleSSE)
	r.Post("/api/translate", s.handleTranslate)

	r.Route("/api/books", func(r chi.Router) {
		r.Get("/", s.handleListBooks)
		r.Post("/", s.handleCreateBook)
		r.Route("/{name}", func(r chi.Router) {
			r.Delete("/", s.handleDeleteBook)
			r.Post("/rename", s.handleRenameBook)
			r.Get("/entries", s.handleListEntries)
			r.Post("/entries", s.handleUpsertEntry)
			r.Post("/entries/import", s.handleImportEntries)
			r.Put("/entries/{id}", s.handleUpdateEntry)
			r.Post("/entries/delete", s.handleDeleteEntries)
			r.Get("/query", s.handleQuery)
		})
	})

	r.Route("/api/providers", func(r chi.Router) {
		r.Get("/", s.handleListProviders)
		r.Post("/", s.handleAddProvider)
		r.Delete("/{id}", s.handleDeleteProvider)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleTranslate starts a pipeline run and returns immediately; the
// outcome arrives on the event stream.
func (s *Server) handleTranslate(w http.ResponseWriter, r *http.Request) {
	var req models.TranslationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	cfg := config.Get()
	if req.TargetLang == "" {
		req.TargetLang = cfg.TargetLang
	}
	if req.SourceLang == "" {
		req.SourceLang = cfg.SourceLang
	}

	var img image.Image
	if len(req.ImagePNG) > 0 {
		decoded, err := png.Decode(bytes.NewReader(req.ImagePNG))
		if err != nil {
			writeError(w, http.StatusBadRequest, "image_png is not a valid PNG")
			return
		}
		img = decoded
	}

	backend := translate.New(cfg)
	recognizer := ocr.New(cfg.OCRBinary, cfg.OCRLanguage)
	run := pipeline.NewWorker(backend, recognizer, s.store)

	job := pipeline.Job{
		Image:          img,
		Text:           req.Text,
		SourceLang:     req.SourceLang,
		TargetLang:     req.TargetLang,
		VocabularyBook: req.VocabularyBook,
		Embedding: embedding.ProviderConfig{
			APIKey:  cfg.EmbeddingAPIKey,
			BaseURL: cfg.EmbeddingBaseURL,
			Model:   cfg.EmbeddingModel,
		},
	}

	// Start is held under the same lock as the busy check so a worker is
	// only ever published in the Running state; a concurrent request can
	// never slip between check and start.
	s.mu.Lock()
	if s.current != nil && s.current.State() == pipeline.StateRunning {
		s.mu.Unlock()
		writeError(w, http.StatusConflict, "translation already in progress")
		return
	}
	if err := run.Start(context.Background(), job); err != nil {
		s.mu.Unlock()
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	s.current = run
	s.mu.Unlock()

	go func() {
		outcome := <-run.Outcome()
		s.events.Broadcast(eventFromOutcome(outcome))
	}()

	log.Info().
		Str("backend", backend.Name()).
		Str("targetLang", req.TargetLang).
		Bool("hasImage", img != nil).
		Msg("Translation run started")
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

// --- vocabulary books ---

func (s *Server) handleListBooks(w http.ResponseWriter, _ *http.Request) {
	books, err := s.store.ListCollections()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if books == nil {
		books = []models.CollectionInfo{}
	}
	writeJSON(w, http.StatusOK, books)
}

func (s *Server) handleCreateBook(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	info, err := s.store.CreateCollection(body.Name)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, info)
}

func (s *Server) handleDeleteBook(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := s.store.DeleteCollection(name); err != nil {
		writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRenameBook(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	var body struct {
		NewName string `json:"new_name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.NewName == "" {
		writeError(w, http.StatusBadRequest, "new_name is required")
		return
	}
	if err := s.store.RenameCollection(name, body.NewName); err != nil {
		writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- vocabulary entries ---

func (s *Server) handleListEntries(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	limit := queryInt(r, "limit", 1000)
	offset := queryInt(r, "offset", 0)

	entries, err := s.store.GetAll(name, limit, offset)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if entries == nil {
		entries = []vocab.Match{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// entryPayload is the request body for entry writes. Language hints are
// optional and stored as metadata.
type entryPayload struct {
	Metadata     map[string]any `json:"metadata"`
	OriginalText string         `json:"original_text"`
	Translation  string         `json:"translation"`
	SourceLang   string         `json:"source_lang,omitempty"`
	TargetLang   string         `json:"target_lang,omitempty"`
}

func (p entryPayload) metadata() map[string]any {
	meta := make(map[string]any, len(p.Metadata)+2)
	for k, v := range p.Metadata {
		meta[k] = v
	}
	if p.SourceLang != "" {
		meta[models.MetaSourceLang] = p.SourceLang
	}
	if p.TargetLang != "" {
		meta[models.MetaTargetLang] = p.TargetLang
	}
	return meta
}

func (s *Server) handleUpsertEntry(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	var body entryPayload
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.OriginalText == "" {
		writeError(w, http.StatusBadRequest, "original_text is required")
		return
	}

	emb, err := s.embedder()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	id, err := s.store.Upsert(r.Context(), emb, name, body.OriginalText, body.Translation, body.metadata())
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

func (s *Server) handleImportEntries(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	var body struct {
		Entries []vocab.BulkEntry `json:"entries"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	emb, err := s.embedder()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	written, err := s.store.BulkUpsert(r.Context(), emb, name, body.Entries)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"imported": written})
}

func (s *Server) handleUpdateEntry(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	id := chi.URLParam(r, "id")
	var body entryPayload
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.OriginalText == "" {
		writeError(w, http.StatusBadRequest, "original_text is required")
		return
	}

	emb, err := s.embedder()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.store.Update(r.Context(), emb, name, id, body.OriginalText, body.Translation, body.metadata()); err != nil {
		writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeleteEntries(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	var body struct {
		IDs []string `json:"ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.store.DeleteEntries(name, body.IDs); err != nil {
		writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	text := r.URL.Query().Get("q")
	if text == "" {
		writeError(w, http.StatusBadRequest, "q is required")
		return
	}
	k := queryInt(r, "k", 5)

	emb, err := s.embedder()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	matches, err := s.store.Query(r.Context(), emb, name, text, k)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if matches == nil {
		matches = []vocab.Match{}
	}
	writeJSON(w, http.StatusOK, matches)
}

// --- embedding providers ---

func (s *Server) handleListProviders(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.registry.All())
}

func (s *Server) handleAddProvider(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name    string   `json:"name"`
		BaseURL string   `json:"base_url"`
		Models  []string `json:"models"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Name == "" || body.BaseURL == "" {
		writeError(w, http.StatusBadRequest, "name and base_url are required")
		return
	}
	p, err := s.registry.Add(body.Name, body.BaseURL, body.Models)
	if err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (s *Server) handleDeleteProvider(w http.ResponseWriter, r *http.Request) {
	if err := s.registry.Delete(chi.URLParam(r, "id")); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// embedder builds an embedding client from the current settings. Write and
// query paths require a fully configured provider and fail fast without one.
func (s *Server) embedder() (*embedding.Client, error) {
	cfg := config.Get()
	return embedding.NewClient(embedding.ProviderConfig{
		APIKey:  cfg.EmbeddingAPIKey,
		BaseURL: cfg.EmbeddingBaseURL,
		Model:   cfg.EmbeddingModel,
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, vocab.ErrNoCollection):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, embedding.ErrNotConfigured):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}
