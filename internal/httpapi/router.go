// Package httpapi builds the chi router for the docpipe ingestion API,
// shared by the standalone docpipe-api binary and `docpipe serve`.
package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/spherical/docpipe/internal/bootstrap"
	"github.com/spherical/docpipe/internal/httpapi/handlers"
	"github.com/spherical/docpipe/internal/config"
	"github.com/spherical/docpipe/internal/observability"
)

// NewRouter wires every handler onto its route.
func NewRouter(logger *observability.Logger, cfg *config.Config, deps *bootstrap.Dependencies) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(cfg.Server.ReadTimeout))

	processHandler := handlers.NewProcessHandler(logger, deps.Orchestrator)

	// deps.Recovery is a *queue.Client that may be a nil pointer when no
	// recovery queue is configured; pass a true nil interface in that case
	// so HealthHandler's nil check works rather than holding a typed nil.
	var recovery handlers.RecoveryBacklog
	if deps.Recovery != nil {
		recovery = deps.Recovery
	}
	healthHandler := handlers.NewHealthHandler(logger, deps.Registry, recovery)
	providersHandler := handlers.NewProvidersHandler(deps.Extractor)
	templatesHandler := handlers.NewTemplatesHandler(deps.Templates)
	extractHandler := handlers.NewExtractHandler(logger, deps.Extractor)

	r.Post("/process", processHandler.Process)
	r.Post("/extract-images-only", processHandler.ExtractImagesOnly)
	r.Get("/health", healthHandler.Health)
	r.Get("/providers", providersHandler.List)
	r.Get("/templates", templatesHandler.List)
	r.Get("/templates/{id}", templatesHandler.Get)
	r.Post("/extract-structured", extractHandler.Extract)

	return r
}
