// Package server exposes the proposition engine over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/propale/propale/internal/drift"
	"github.com/propale/propale/internal/engine"
	"github.com/propale/propale/internal/filler"
	"github.com/propale/propale/internal/model"
)

// Service is the slice of the engine the HTTP layer depends on.
type Service interface {
	CreateDraft(ctx context.Context, orgID string, templateID *string, clientName string) (*model.Proposition, error)
	GetProposition(ctx context.Context, id string) (*model.Proposition, error)
	UpdateProposition(ctx context.Context, id string, patch engine.Patch) (*model.Proposition, error)
	DeleteProposition(ctx context.Context, id string) error
	ExtractData(ctx context.Context, id string) (*model.Proposition, error)
	Generate(ctx context.Context, id string) (*engine.GenerateResult, error)
	UpdateSuggestions(ctx context.Context, id string, edited []model.Suggestion, synthesis *model.Synthesis) (*model.Proposition, drift.ModificationState, error)
	CreateTemplate(ctx context.Context, tpl model.PropositionTemplate) (*model.PropositionTemplate, error)
	TestTemplate(ctx context.Context, templateID string) error
}

// Server routes HTTP requests to the engine and the billing webhook.
type Server struct {
	svc     Service
	webhook http.Handler
}

// New creates a Server. webhook may be nil when billing is not configured.
func New(svc Service, webhook http.Handler) *Server {
	return &Server{svc: svc, webhook: webhook}
}

// Router builds the chi handler tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/propositions", func(r chi.Router) {
		r.Post("/", s.handleCreateDraft)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.handleGetProposition)
			r.Patch("/", s.handleUpdateProposition)
			r.Delete("/", s.handleDeleteProposition)
			r.Post("/extract", s.handleExtract)
			r.Post("/generate", s.handleGenerate)
			r.Put("/suggestions", s.handleUpdateSuggestions)
		})
	})

	r.Route("/templates", func(r chi.Router) {
		r.Post("/", s.handleCreateTemplate)
		r.Post("/{id}/test", s.handleTestTemplate)
	})

	if s.webhook != nil {
		r.Post("/webhooks/stripe", s.webhook.ServeHTTP)
	}

	return r
}

func (s *Server) handleCreateDraft(w http.ResponseWriter, r *http.Request) {
	var req struct {
		OrganizationID string  `json:"organization_id"`
		TemplateID     *string `json:"template_id,omitempty"`
		ClientName     string  `json:"client_name,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.OrganizationID == "" {
		respondError(w, http.StatusBadRequest, "organization_id is required", nil)
		return
	}

	p, err := s.svc.CreateDraft(r.Context(), req.OrganizationID, req.TemplateID, req.ClientName)
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, p)
}

func (s *Server) handleGetProposition(w http.ResponseWriter, r *http.Request) {
	p, err := s.svc.GetProposition(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, p)
}

func (s *Server) handleUpdateProposition(w http.ResponseWriter, r *http.Request) {
	var patch engine.Patch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	p, err := s.svc.UpdateProposition(r.Context(), chi.URLParam(r, "id"), patch)
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, p)
}

func (s *Server) handleDeleteProposition(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.DeleteProposition(r.Context(), chi.URLParam(r, "id")); err != nil {
		respondEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleExtract(w http.ResponseWriter, r *http.Request) {
	p, err := s.svc.ExtractData(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, p)
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	result, err := s.svc.Generate(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

func (s *Server) handleUpdateSuggestions(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Suggestions []model.Suggestion `json:"suggestions"`
		Synthesis   *model.Synthesis   `json:"synthesis,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	p, state, err := s.svc.UpdateSuggestions(r.Context(), chi.URLParam(r, "id"), req.Suggestions, req.Synthesis)
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"proposition":   p,
		"modifications": state,
		"needs_warning": state.NeedsWarning(),
	})
}

func (s *Server) handleCreateTemplate(w http.ResponseWriter, r *http.Request) {
	var tpl model.PropositionTemplate
	if err := json.NewDecoder(r.Body).Decode(&tpl); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	created, err := s.svc.CreateTemplate(r.Context(), tpl)
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, created)
}

func (s *Server) handleTestTemplate(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.TestTemplate(r.Context(), chi.URLParam(r, "id")); err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "tested"})
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("response encoding failed", zap.Error(err))
	}
}

func respondError(w http.ResponseWriter, status int, message string, err error) {
	body := map[string]string{"error": message}
	if err != nil {
		body["details"] = err.Error()
	}
	respondJSON(w, status, body)
}

// respondEngineError maps engine and filler errors onto HTTP statuses,
// always carrying one human-readable message plus technical details.
func respondEngineError(w http.ResponseWriter, err error) {
	var unsupported *filler.UnsupportedTemplateError
	var structural *filler.TemplateStructureError

	switch {
	case errors.Is(err, engine.ErrNotFound):
		respondError(w, http.StatusNotFound, "resource not found", err)
	case errors.Is(err, engine.ErrNotReady):
		respondError(w, http.StatusConflict, "proposition is not ready for generation", err)
	case errors.Is(err, engine.ErrNoTemplate):
		respondError(w, http.StatusUnprocessableEntity, "proposition has no template", err)
	case errors.Is(err, engine.ErrTemplateLimit):
		respondError(w, http.StatusConflict, "template limit reached for this organization", err)
	case errors.Is(err, engine.ErrForeignOwner):
		respondError(w, http.StatusForbidden, "template belongs to another organization", err)
	case errors.As(err, &unsupported):
		respondError(w, http.StatusUnprocessableEntity, "this template cannot be filled", err)
	case errors.As(err, &structural):
		respondError(w, http.StatusUnprocessableEntity, "template structure does not match its configuration", err)
	default:
		zap.L().Error("request failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "generation failed", err)
	}
}
