package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical/docpipe/internal/domain"
	"github.com/spherical/docpipe/internal/extract"
	"github.com/spherical/docpipe/internal/observability"
	"github.com/spherical/docpipe/internal/registry"
	"github.com/spherical/docpipe/internal/template"
)

func testLogger() *observability.Logger {
	return observability.NewLogger(observability.LogConfig{Level: "error"})
}

func TestHealthReportsHealthyWithNoBackends(t *testing.T) {
	h := NewHealthHandler(testLogger(), registry.New(registry.Config{}, testLogger()), nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	h.Health(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp HealthResponseDTO
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp.Status)
}

func TestHealthReportsDegradedWhenABackendIsUnhealthy(t *testing.T) {
	reg := registry.New(registry.Config{}, testLogger())
	reg.Register("layout", "http://layout", "layout-extraction")
	h := NewHealthHandler(testLogger(), reg, nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	h.Health(w, req)

	var resp HealthResponseDTO
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "degraded", resp.Status)
}

type fakeRecoveryBacklog int

func (f fakeRecoveryBacklog) PendingCount() int { return int(f) }

func TestHealthReportsPendingRecoveryCount(t *testing.T) {
	h := NewHealthHandler(testLogger(), registry.New(registry.Config{}, testLogger()), fakeRecoveryBacklog(3))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	h.Health(w, req)

	var resp HealthResponseDTO
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 3, resp.PendingRecovery)
}

func TestProvidersListsConfiguredAndUnconfigured(t *testing.T) {
	svc := extract.New(nil, testLogger(), nil, []extract.ProviderEndpoint{
		{Provider: extract.ProviderLocal, BaseURL: "http://localhost:8000"},
	})
	h := NewProvidersHandler(svc)

	req := httptest.NewRequest(http.MethodGet, "/providers", nil)
	w := httptest.NewRecorder()
	h.List(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp []ProviderDTO
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))

	byName := make(map[string]bool)
	for _, p := range resp {
		byName[p.Name] = p.Configured
	}
	assert.True(t, byName[string(extract.ProviderLocal)])
	assert.False(t, byName[string(extract.ProviderCloudA)])
}

func TestTemplatesListAndGet(t *testing.T) {
	loader, err := template.Load("../../../config/templates")
	require.NoError(t, err)
	h := NewTemplatesHandler(loader)

	listReq := httptest.NewRequest(http.MethodGet, "/templates", nil)
	listW := httptest.NewRecorder()
	h.List(listW, listReq)
	require.Equal(t, http.StatusOK, listW.Code)

	r := chi.NewRouter()
	r.Get("/templates/{id}", h.Get)

	okW := httptest.NewRecorder()
	okReq := httptest.NewRequest(http.MethodGet, "/templates/medical_research", nil)
	r.ServeHTTP(okW, okReq)
	assert.Equal(t, http.StatusOK, okW.Code)

	missingW := httptest.NewRecorder()
	missingReq := httptest.NewRequest(http.MethodGet, "/templates/does-not-exist", nil)
	r.ServeHTTP(missingW, missingReq)
	assert.Equal(t, http.StatusNotFound, missingW.Code)
}

func TestStatusForErrorKind(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, statusForErrorKind(domain.ErrorKindInputInvalid))
	assert.Equal(t, http.StatusServiceUnavailable, statusForErrorKind(domain.ErrorKindBackendUnavailable))
	assert.Equal(t, http.StatusGatewayTimeout, statusForErrorKind(domain.ErrorKindExtractionTimeout))
	assert.Equal(t, http.StatusInternalServerError, statusForErrorKind(domain.ErrorKindEngineFailed))
}
