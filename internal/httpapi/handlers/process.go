// Package handlers provides HTTP handlers for the docpipe Ingest API.
package handlers

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/spherical/docpipe/internal/domain"
	"github.com/spherical/docpipe/internal/observability"
	"github.com/spherical/docpipe/internal/orchestrator"
	"github.com/spherical/docpipe/internal/vision"
)

// maxUploadBytes bounds the accepted multipart body so a single request
// can't exhaust server memory buffering the upload.
const maxUploadBytes = 200 * 1024 * 1024

// ProcessHandler handles POST /process and POST /extract-images-only.
type ProcessHandler struct {
	logger *observability.Logger
	orch   *orchestrator.Orchestrator
}

// NewProcessHandler creates a ProcessHandler.
func NewProcessHandler(logger *observability.Logger, orch *orchestrator.Orchestrator) *ProcessHandler {
	return &ProcessHandler{logger: logger, orch: orch}
}

// ImageDTO is one image entry in the /process response.
type ImageDTO struct {
	Name       string `json:"name"`
	Base64     string `json:"base64"`
	PageNumber *int   `json:"page_number,omitempty"`
	ImageIndex int    `json:"image_index"`
	MIMEType   string `json:"mime_type"`
}

// ProcessResponseDTO is the shape returned by both /process and
// /extract-images-only (the latter with Text always empty).
type ProcessResponseDTO struct {
	Success        bool           `json:"success"`
	Text           string         `json:"text"`
	Images         []ImageDTO     `json:"images"`
	Metadata       map[string]any `json:"metadata"`
	ProcessingTime float64        `json:"processing_time"`
	Error          string         `json:"error,omitempty"`
}

// Process handles POST /process.
func (h *ProcessHandler) Process(w http.ResponseWriter, r *http.Request) {
	h.handle(w, r, true)
}

// ExtractImagesOnly handles POST /extract-images-only: same pipeline, but
// the response text is always blanked out.
func (h *ProcessHandler) ExtractImagesOnly(w http.ResponseWriter, r *http.Request) {
	h.handle(w, r, false)
}

func (h *ProcessHandler) handle(w http.ResponseWriter, r *http.Request, includeText bool) {
	start := time.Now()

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "failed to parse multipart form", err.Error())
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing file field", err.Error())
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read uploaded file", err.Error())
		return
	}

	opts := orchestrator.IngestOptions{
		Device:        valueOr(r.FormValue("device"), "cpu"),
		Language:      valueOr(r.FormValue("lang"), "en"),
		DeclaredMIME:  header.Header.Get("Content-Type"),
		ExtractCharts: r.FormValue("extract_charts") == "true",
		ChartProvider: vision.ChartProvider(valueOr(r.FormValue("chart_provider"), string(vision.ChartProviderAuto))),
	}

	result, err := h.orch.Ingest(r.Context(), data, header.Filename, opts, nil)
	if err != nil {
		status := http.StatusInternalServerError
		if kind, ok := domain.Kind(err); ok {
			status = statusForErrorKind(kind)
		}
		writeError(w, status, "ingestion failed", err.Error())
		return
	}

	resp := ProcessResponseDTO{
		Success:        true,
		Images:         toImageDTOs(result.Images, result.Blobs),
		Metadata:       metadataFromRecord(result.Record),
		ProcessingTime: time.Since(start).Seconds(),
	}
	if includeText {
		resp.Text = result.Record.Markdown
	}

	writeJSON(w, http.StatusOK, resp)
}

func toImageDTOs(images []domain.ImageArtifact, blobs map[uuid.UUID][]byte) []ImageDTO {
	out := make([]ImageDTO, 0, len(images))
	for _, img := range images {
		name := fmt.Sprintf("image_%d", img.ImageIndex)
		if img.PageNumber != nil {
			name = fmt.Sprintf("page%d_image_%d", *img.PageNumber, img.ImageIndex)
		}
		out = append(out, ImageDTO{
			Name:       name,
			Base64:     base64.StdEncoding.EncodeToString(blobs[img.ID]),
			PageNumber: img.PageNumber,
			ImageIndex: img.ImageIndex,
			MIMEType:   img.MIME,
		})
	}
	return out
}

func metadataFromRecord(record domain.DocumentRecord) map[string]any {
	return map[string]any{
		"document_id":    record.ID.String(),
		"filename":       record.Filename,
		"input_class":    record.InputClass,
		"page_count":     record.PageCount,
		"formula_count":  record.FormulaCount,
		"table_count":    record.TableCount,
		"region_count":   record.RegionCount,
		"embedded_count": record.EmbeddedCount,
		"provenance":     record.Provenance,
	}
}

func valueOr(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	resp := map[string]string{"error": message}
	if detail != "" {
		resp["detail"] = detail
	}
	_ = json.NewEncoder(w).Encode(resp)
}

func statusForErrorKind(kind domain.ErrorKind) int {
	switch kind {
	case domain.ErrorKindInputInvalid, domain.ErrorKindExtractionRejected:
		return http.StatusBadRequest
	case domain.ErrorKindProviderNotConfigured:
		return http.StatusNotImplemented
	case domain.ErrorKindBackendUnavailable:
		return http.StatusServiceUnavailable
	case domain.ErrorKindExtractionTimeout, domain.ErrorKindCancelled:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
