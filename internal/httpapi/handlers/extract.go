package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/spherical/docpipe/internal/extract"
	"github.com/spherical/docpipe/internal/observability"
	"github.com/spherical/docpipe/internal/template"
)

// ExtractHandler handles POST /extract-structured.
type ExtractHandler struct {
	logger    *observability.Logger
	extractor *extract.Service
}

// NewExtractHandler creates an ExtractHandler.
func NewExtractHandler(logger *observability.Logger, extractor *extract.Service) *ExtractHandler {
	return &ExtractHandler{logger: logger, extractor: extractor}
}

// ExtractRequestDTO is the POST /extract-structured request body.
type ExtractRequestDTO struct {
	Text          string  `json:"text"`
	Model         string  `json:"model,omitempty"`
	Provider      string  `json:"provider"`
	TemplateID    string  `json:"template_id"`
	Temperature   float64 `json:"temperature,omitempty"`
	MaxTokens     int     `json:"max_tokens,omitempty"`
	MaxTextLength int     `json:"max_text_length,omitempty"`
	TimeoutSecs   float64 `json:"timeout,omitempty"`
}

// Extract handles POST /extract-structured.
func (h *ExtractHandler) Extract(w http.ResponseWriter, r *http.Request) {
	var req ExtractRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if req.TemplateID == "" {
		writeError(w, http.StatusBadRequest, "missing template_id", "")
		return
	}
	if req.Text == "" {
		writeError(w, http.StatusBadRequest, "missing text", "")
		return
	}

	result := h.extractor.Extract(r.Context(), extract.Request{
		TemplateID: req.TemplateID,
		Provider:   extract.Provider(req.Provider),
		Model:      req.Model,
		Text:       req.Text,
		Overrides: template.RenderOverrides{
			MaxTextLength: req.MaxTextLength,
			Temperature:   req.Temperature,
			MaxTokens:     req.MaxTokens,
			Timeout:       time.Duration(req.TimeoutSecs * float64(time.Second)),
		},
	})

	writeJSON(w, http.StatusOK, result)
}
