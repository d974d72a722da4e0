// Package layout implements the Layout Extractor: invokes layout/OCR
// engines in strategy order, normalises their responses, and assembles the
// canonical DocumentRecord.
package layout

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/spherical/docpipe/internal/decode"
	"github.com/spherical/docpipe/internal/domain"
	"github.com/spherical/docpipe/internal/observability"
	"github.com/spherical/docpipe/internal/ocr"
	"github.com/spherical/docpipe/internal/registry"
	"github.com/spherical/docpipe/internal/transport"
)

// categoryByID maps engine-specific detection ids to the internal enum.
// Engines disagree on numbering; this table is the single point of
// translation.
var categoryByID = map[int]domain.LayoutCategory{
	0:  domain.LayoutCategoryImage,
	3:  domain.LayoutCategoryFigure,
	5:  domain.LayoutCategoryTable,
	7:  domain.LayoutCategoryTitle,
	13: domain.LayoutCategoryFormula,
	14: domain.LayoutCategoryText,
}

func normaliseCategory(engineID int) domain.LayoutCategory {
	if c, ok := categoryByID[engineID]; ok {
		return c
	}
	return domain.LayoutCategoryText
}

// RawDetection is the wire shape returned by every layout engine, keyed by
// its own category numbering.
type RawDetection struct {
	CategoryID int             `json:"category_id"`
	Box        domain.BoundingBox `json:"box"`
	Content    string          `json:"content"`
	Confidence float64         `json:"confidence"`
}

// RawPage is one page of an engine response.
type RawPage struct {
	PageNumber int            `json:"page_number"`
	Text       string         `json:"text"`
	Detections []RawDetection `json:"detections"`
}

// RawEmbeddedImage is an image the engine extracted directly from the PDF
// object stream.
type RawEmbeddedImage struct {
	PageNumber *int   `json:"page_number,omitempty"`
	MIME       string `json:"mime"`
	DataBase64 string `json:"data_base64"`
}

// EngineResponse is the full decoded payload from a layout/OCR engine.
type EngineResponse struct {
	Markdown       string             `json:"markdown"`
	Pages          []RawPage          `json:"pages"`
	EmbeddedImages []RawEmbeddedImage `json:"embedded_images"`
}

// Result bundles the normalised DocumentRecord with the raw embedded image
// payloads, which the Image Materialiser (C4) still needs to decode bytes
// from.
type Result struct {
	Record         domain.DocumentRecord
	EmbeddedImages []RawEmbeddedImage
}

const defaultEngineTimeout = 300 * time.Second

// Extractor drives the engine fallback chain for one document.
type Extractor struct {
	registry *registry.Registry
	client   *transport.Client
	logger   *observability.Logger
	timeout  time.Duration
	localOCR *ocr.Engine
	renderer domain.Renderer
}

// New creates an Extractor.
func New(reg *registry.Registry, client *transport.Client, logger *observability.Logger) *Extractor {
	return &Extractor{registry: reg, client: client, logger: logger, timeout: defaultEngineTimeout}
}

// WithLocalOCR attaches a local Tesseract fallback: when the ocr_thorough
// step can't resolve a remote backend, renderer rasterises the document's
// pages and localOCR recognises them instead of failing straight to
// BackendUnavailable.
func (e *Extractor) WithLocalOCR(localOCR *ocr.Engine, renderer domain.Renderer) *Extractor {
	e.localOCR = localOCR
	e.renderer = renderer
	return e
}

// Options carries the per-call form fields every engine expects.
type Options struct {
	Device           string
	Language         string
	EnableFormulas   bool
	EnableTables     bool
}

// Extract runs plan.Engines in order against path, stopping at the first
// well-formed response. All engines failing is fatal.
func (e *Extractor) Extract(ctx context.Context, path string, plan decode.StrategyPlan, opts Options) (*Result, error) {
	var lastErr error

	for _, step := range plan.Engines {
		if plan.SkipHeavyEngines && isHeavyEngine(step) {
			if e.logger != nil {
				e.logger.Info().Str("engine", string(step)).Msg("skipping heavy engine for oversized input")
			}
			continue
		}

		stepStart := time.Now()

		addr, ok := e.registry.ResolveCapability(capabilityFor(step))
		if !ok {
			if step == decode.EngineOCRThorough && e.localOCR != nil {
				record, err := e.extractWithLocalOCR(ctx, path, filepath.Base(path), opts)
				if err != nil {
					lastErr = err
					continue
				}
				record.Provenance.WallMs = time.Since(stepStart).Milliseconds()
				return &Result{Record: record}, nil
			}
			lastErr = domain.BackendUnavailable(capabilityFor(step))
			continue
		}

		resp, err := e.callEngine(ctx, addr, path, opts)
		if err != nil {
			if e.logger != nil {
				e.logger.Warn().Str("engine", string(step)).Err(err).Msg("layout engine call failed, trying next")
			}
			lastErr = err
			continue
		}

		record := buildRecord(*resp, filepath.Base(path), opts)
		record.Provenance.Engine = string(step)
		record.Provenance.WallMs = time.Since(stepStart).Milliseconds()
		return &Result{Record: record, EmbeddedImages: resp.EmbeddedImages}, nil
	}

	return nil, domain.EngineFailed("layout", "all engines in strategy plan failed", lastErr)
}

// extractWithLocalOCR rasterises path and runs Tesseract over every page,
// producing a DocumentRecord with one plain-text PageRecord per page and
// no layout detections.
func (e *Extractor) extractWithLocalOCR(ctx context.Context, path, filename string, opts Options) (domain.DocumentRecord, error) {
	pages, err := e.renderer.Render(ctx, path, 85)
	if err != nil {
		return domain.DocumentRecord{}, domain.EngineFailed("ocr_thorough", "render pages for local OCR", err)
	}
	defer e.renderer.Cleanup()

	if e.logger != nil {
		e.logger.Info().Int("pages", len(pages)).Msg("falling back to local tesseract OCR")
	}

	records := make([]domain.PageRecord, 0, len(pages))
	var markdown string
	for i, page := range pages {
		text, err := e.localOCR.RecognizeImagePath(ctx, page.ImagePath)
		if err != nil {
			return domain.DocumentRecord{}, err
		}
		records = append(records, domain.PageRecord{PageNumber: page.PageNumber, Text: text})
		if i > 0 {
			markdown += "\n\n"
		}
		markdown += text
	}

	record := domain.DocumentRecord{
		ID:       uuid.New(),
		Filename: filename,
		Markdown: markdown,
		Pages:    records,
		Provenance: domain.Provenance{
			Device:   opts.Device,
			Language: opts.Language,
			Engine:   string(decode.EngineOCRThorough) + ":local-tesseract",
		},
		CreatedAt: time.Now(),
	}
	record.Counts()
	return record, nil
}

func isHeavyEngine(step decode.EngineStep) bool {
	return step == decode.EngineOCRThorough || step == decode.EngineLayoutRemote
}

func capabilityFor(step decode.EngineStep) string {
	switch step {
	case decode.EngineLayoutNative, decode.EngineLayoutRemote, decode.EngineTextOnlyPDF:
		return "layout-extraction"
	default:
		return "ocr-extraction"
	}
}

func (e *Extractor) callEngine(ctx context.Context, baseURL, path string, opts Options) (*EngineResponse, error) {
	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	body, contentType, err := buildMultipart(path, opts)
	if err != nil {
		return nil, fmt.Errorf("build multipart request: %w", err)
	}

	resp, err := e.client.Do(callCtx, "layout", func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(callCtx, http.MethodPost, baseURL+"/extract", bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", contentType)
		return req, nil
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("engine returned HTTP %d", resp.StatusCode)
	}

	var parsed EngineResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode engine response: %w", err)
	}
	return &parsed, nil
}

func buildMultipart(path string, opts Options) ([]byte, string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, "", err
	}
	defer file.Close()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	part, err := w.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return nil, "", err
	}
	if _, err := io.Copy(part, file); err != nil {
		return nil, "", err
	}

	fields := map[string]string{
		"device":          opts.Device,
		"language":        opts.Language,
		"enable_formulas": boolField(opts.EnableFormulas),
		"enable_tables":   boolField(opts.EnableTables),
	}
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return nil, "", err
		}
	}

	if err := w.Close(); err != nil {
		return nil, "", err
	}

	return buf.Bytes(), w.FormDataContentType(), nil
}

func boolField(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

func buildRecord(resp EngineResponse, filename string, opts Options) domain.DocumentRecord {
	pages := make([]domain.PageRecord, 0, len(resp.Pages))
	for _, rp := range resp.Pages {
		detections := make([]domain.LayoutDetection, 0, len(rp.Detections))
		for _, rd := range rp.Detections {
			detections = append(detections, domain.LayoutDetection{
				Category:   normaliseCategory(rd.CategoryID),
				Box:        rd.Box,
				Content:    rd.Content,
				Confidence: rd.Confidence,
			})
		}
		pages = append(pages, domain.PageRecord{
			PageNumber: rp.PageNumber,
			Text:       rp.Text,
			Detections: detections,
		})
	}

	record := domain.DocumentRecord{
		ID:            uuid.New(),
		Filename:      filename,
		Markdown:      resp.Markdown,
		Pages:         pages,
		EmbeddedCount: len(resp.EmbeddedImages),
		Provenance: domain.Provenance{
			Device:   opts.Device,
			Language: opts.Language,
		},
		CreatedAt: time.Now(),
	}
	record.Counts()
	return record
}
