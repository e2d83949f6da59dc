package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/jordanhubbard/quizhub/internal/auth"
	"github.com/jordanhubbard/quizhub/internal/service"
	"github.com/jordanhubbard/quizhub/internal/store"
)

type publisherRequest struct {
	ID      string                 `json:"id,omitempty"`
	Name    string                 `json:"name"`
	Domain  string                 `json:"domain"`
	Active  *bool                  `json:"active,omitempty"`
	IsAdmin bool                   `json:"is_admin,omitempty"`
	Config  *store.PublisherConfig `json:"config,omitempty"`
}

func defaultConfig() store.PublisherConfig {
	return store.PublisherConfig{
		DailyBlogLimit:   100,
		LLMModel:         "gpt-4o-mini",
		EmbeddingModel:   "text-embedding-3-small",
		QuestionsPerBlog: 5,
		RequestThreshold: 1,
	}
}

// normalizeDomain lowercases and strips a leading www so domain matching
// works against normalized URLs.
func normalizeDomain(d string) string {
	d = strings.ToLower(strings.TrimSpace(d))
	d = strings.TrimPrefix(d, "https://")
	d = strings.TrimPrefix(d, "http://")
	d = strings.TrimPrefix(d, "www.")
	return strings.TrimSuffix(d, "/")
}

func (s *Server) handlePublisherCreate(w http.ResponseWriter, r *http.Request) {
	var req publisherRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, service.CodeValidation, "invalid request body: "+err.Error(), "")
		return
	}
	if req.Name == "" {
		writeError(w, r, http.StatusBadRequest, service.CodeValidation, "name is required", "name")
		return
	}
	domain := normalizeDomain(req.Domain)
	if domain == "" {
		writeError(w, r, http.StatusBadRequest, service.CodeValidation, "domain is required", "domain")
		return
	}

	plaintext, hash, prefix, err := auth.NewKey()
	if err != nil {
		writeServiceError(w, r, s.log, err)
		return
	}

	cfg := defaultConfig()
	if req.Config != nil {
		cfg = *req.Config
		if cfg.QuestionsPerBlog <= 0 {
			cfg.QuestionsPerBlog = 5
		}
		if cfg.RequestThreshold <= 0 {
			cfg.RequestThreshold = 1
		}
	}

	now := time.Now().UTC()
	p := store.Publisher{
		ID:           req.ID,
		Name:         req.Name,
		Domain:       domain,
		APIKeyHash:   hash,
		APIKeyPrefix: prefix,
		Active:       true,
		IsAdmin:      req.IsAdmin,
		Config:       cfg,
		Usage:        store.PublisherUsage{CurrentDayBucket: store.DayBucket(now)},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if req.Active != nil {
		p.Active = *req.Active
	}

	if err := s.store.CreatePublisher(r.Context(), p); err != nil {
		writeServiceError(w, r, s.log, err)
		return
	}

	// The plaintext key is returned exactly once and never stored.
	writeSuccess(w, r, http.StatusCreated, "publisher created", map[string]any{
		"publisher": p,
		"api_key":   plaintext,
	})
}

func (s *Server) handlePublisherList(w http.ResponseWriter, r *http.Request) {
	pubs, err := s.store.ListPublishers(r.Context())
	if err != nil {
		writeServiceError(w, r, s.log, err)
		return
	}
	writeSuccess(w, r, http.StatusOK, "publishers", map[string]any{"publishers": pubs})
}

func (s *Server) handlePublisherGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	p, err := s.store.GetPublisherByID(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, s.log, err)
		return
	}
	if p == nil {
		writeError(w, r, http.StatusNotFound, service.CodeNotFound, "no publisher "+id, "")
		return
	}
	writeSuccess(w, r, http.StatusOK, "publisher", p)
}

func (s *Server) handlePublisherUpdate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	existing, err := s.store.GetPublisherByID(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, s.log, err)
		return
	}
	if existing == nil {
		writeError(w, r, http.StatusNotFound, service.CodeNotFound, "no publisher "+id, "")
		return
	}

	var req publisherRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, service.CodeValidation, "invalid request body: "+err.Error(), "")
		return
	}

	if req.Name != "" {
		existing.Name = req.Name
	}
	if req.Domain != "" {
		existing.Domain = normalizeDomain(req.Domain)
	}
	if req.Active != nil {
		existing.Active = *req.Active
	}
	if req.Config != nil {
		existing.Config = *req.Config
	}

	if err := s.store.UpdatePublisher(r.Context(), *existing); err != nil {
		writeServiceError(w, r, s.log, err)
		return
	}
	// Drop any cached key validations carrying the stale record.
	s.authMgr.Invalidate(id)
	writeSuccess(w, r, http.StatusOK, "publisher updated", existing)
}

func (s *Server) handlePublisherDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	err := s.store.DeletePublisher(r.Context(), id)
	if errors.Is(err, store.ErrPublisherReferenced) {
		writeError(w, r, http.StatusConflict, service.CodeConflict, err.Error(), "")
		return
	}
	if err != nil {
		writeServiceError(w, r, s.log, err)
		return
	}
	s.authMgr.Invalidate(id)
	writeSuccess(w, r, http.StatusOK, "publisher deleted", map[string]string{"id": id})
}

func (s *Server) handlePublisherRegenerateKey(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	plaintext, err := s.authMgr.Rotate(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, s.log, err)
		return
	}
	writeSuccess(w, r, http.StatusOK, "api key regenerated", map[string]string{
		"id":      id,
		"api_key": plaintext,
	})
}
