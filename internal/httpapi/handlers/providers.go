package handlers

import (
	"net/http"

	"github.com/spherical/docpipe/internal/extract"
)

// ProvidersHandler handles GET /providers.
type ProvidersHandler struct {
	extractor *extract.Service
}

// NewProvidersHandler creates a ProvidersHandler.
func NewProvidersHandler(extractor *extract.Service) *ProvidersHandler {
	return &ProvidersHandler{extractor: extractor}
}

// ProviderDTO is one entry in the /providers response.
type ProviderDTO struct {
	Name        string `json:"name"`
	Configured  bool   `json:"configured"`
}

// List handles GET /providers.
func (h *ProvidersHandler) List(w http.ResponseWriter, r *http.Request) {
	all := []extract.Provider{extract.ProviderLocal, extract.ProviderCloudA, extract.ProviderCloudB}
	configured := make(map[extract.Provider]bool)
	if h.extractor != nil {
		for _, p := range h.extractor.AvailableProviders() {
			configured[p] = true
		}
	}

	out := make([]ProviderDTO, 0, len(all))
	for _, p := range all {
		out = append(out, ProviderDTO{Name: string(p), Configured: configured[p]})
	}

	writeJSON(w, http.StatusOK, out)
}
