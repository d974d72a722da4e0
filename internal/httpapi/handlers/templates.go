package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/spherical/docpipe/internal/template"
)

// TemplatesHandler handles GET /templates and GET /templates/{id}.
type TemplatesHandler struct {
	templates *template.Loader
}

// NewTemplatesHandler creates a TemplatesHandler.
func NewTemplatesHandler(templates *template.Loader) *TemplatesHandler {
	return &TemplatesHandler{templates: templates}
}

// List handles GET /templates.
func (h *TemplatesHandler) List(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.templates.List())
}

// Get handles GET /templates/{id}.
func (h *TemplatesHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	tmpl, ok := h.templates.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown template", id)
		return
	}
	writeJSON(w, http.StatusOK, tmpl)
}
