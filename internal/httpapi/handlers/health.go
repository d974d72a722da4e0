package handlers

import (
	"net/http"
	"runtime"
	"time"

	"github.com/spherical/docpipe/internal/observability"
	"github.com/spherical/docpipe/internal/registry"
)

func nowRFC3339() string {
	return time.Now().UTC().Format(time.RFC3339)
}

// serviceVersion is set at build time via -ldflags; defaults to "dev".
var serviceVersion = "dev"

// RecoveryBacklog reports how many artifacts are awaiting an enrichment
// retry; satisfied by *queue.Client, kept as an interface here so this
// package doesn't need to import queue just for one count.
type RecoveryBacklog interface {
	PendingCount() int
}

// HealthHandler handles GET /health.
type HealthHandler struct {
	logger   *observability.Logger
	reg      *registry.Registry
	recovery RecoveryBacklog
}

// NewHealthHandler creates a HealthHandler. recovery may be nil when no
// recovery queue is configured.
func NewHealthHandler(logger *observability.Logger, reg *registry.Registry, recovery RecoveryBacklog) *HealthHandler {
	return &HealthHandler{logger: logger, reg: reg, recovery: recovery}
}

// HealthResponseDTO is the /health response shape.
type HealthResponseDTO struct {
	Status          string                   `json:"status"`
	Service         string                   `json:"service"`
	Version         string                   `json:"version"`
	Backend         []registry.BackendStatus `json:"backend"`
	Platform        string                   `json:"platform"`
	Timestamp       string                   `json:"timestamp"`
	PendingRecovery int                      `json:"pending_recovery"`
}

// Health handles GET /health.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	var backends []registry.BackendStatus
	if h.reg != nil {
		backends = h.reg.Snapshot()
	}

	status := "healthy"
	for _, b := range backends {
		if b.State != registry.HealthHealthy {
			status = "degraded"
			break
		}
	}

	pendingRecovery := 0
	if h.recovery != nil {
		pendingRecovery = h.recovery.PendingCount()
	}

	writeJSON(w, http.StatusOK, HealthResponseDTO{
		Status:          status,
		Service:         "docpipe",
		Version:         serviceVersion,
		Backend:         backends,
		Platform:        runtime.GOOS + "/" + runtime.GOARCH,
		Timestamp:       nowRFC3339(),
		PendingRecovery: pendingRecovery,
	})
}
