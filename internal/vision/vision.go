// Package vision implements the Vision Enricher: per-image OCR,
// classification, and type-specific structured-data extraction against a
// vision LLM, plus the embedding-candidate text built from the results.
package vision

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/spherical/docpipe/internal/domain"
	"github.com/spherical/docpipe/internal/observability"
	"github.com/spherical/docpipe/internal/transport"
)

// ImageType is the classification assigned by the OCR+classification call.
type ImageType string

const (
	ImageTypeChart    ImageType = "chart"
	ImageTypeTable    ImageType = "table"
	ImageTypeDiagram  ImageType = "diagram"
	ImageTypePhoto    ImageType = "photo"
	ImageTypeOther    ImageType = "other"
)

func hasStructuredDataSchema(t ImageType) bool {
	return t == ImageTypeChart || t == ImageTypeTable || t == ImageTypeDiagram
}

// ChartProvider selects the backend used for chart/table/diagram
// structured-data extraction. It is a second, narrower instantiation of the
// same provider-selection idea the Structured Extractor uses for general
// text extraction, not that same enum reused: the API boundary exposes it
// under `chart_provider` and it only ever applies to this one sub-task.
type ChartProvider string

const (
	ChartProviderAuto   ChartProvider = "auto"
	ChartProviderLocal  ChartProvider = "local"
	ChartProviderCloudA ChartProvider = "cloud_a"
	ChartProviderCloudB ChartProvider = "cloud_b"
)

// ChartBackend is one configured chart-extraction endpoint.
type ChartBackend struct {
	BaseURL string
	Model   string
}

// ocrResponse is the wire shape of the fixed OCR+classification prompt.
type ocrResponse struct {
	OCRText          string   `json:"ocr_text"`
	ImageType        string   `json:"image_type"`
	Subtype          string   `json:"subtype"`
	Confidence       float64  `json:"confidence"`
	KeyElements      []string `json:"key_elements"`
	TechnicalDomain  string   `json:"technical_domain"`
}

// chatMessage/chatRequest/chatResponse model the minimal OpenAI-compatible
// vision-chat wire format shared by local and cloud vision backends.
type chatMessage struct {
	Role    string        `json:"role"`
	Content []contentPart `json:"content"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	Stream      bool          `json:"stream"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

const (
	defaultCallTimeout   = 120 * time.Second
	surroundingCharLimit = 500
	embeddingCharLimit   = 2000
)

// Enricher calls a vision LLM to enrich image artifacts.
type Enricher struct {
	client        *transport.Client
	baseURL       string
	model         string
	logger        *observability.Logger
	chartBackends map[ChartProvider]ChartBackend
}

// New creates an Enricher.
func New(client *transport.Client, baseURL, model string, logger *observability.Logger) *Enricher {
	return &Enricher{client: client, baseURL: baseURL, model: model, logger: logger}
}

// WithChartBackends attaches the chart-provider-specific endpoints used when
// extract_charts is requested with a provider other than auto. A request
// for a provider not present here, or ChartProviderAuto/empty, falls back
// to the Enricher's own vision model.
func (e *Enricher) WithChartBackends(backends map[ChartProvider]ChartBackend) *Enricher {
	e.chartBackends = backends
	return e
}

// EnrichAll processes artifacts through a bounded worker pool; poolSize is
// expected to already reflect the local-vs-cloud default (3 vs 8) and is
// capped here to the artifact count. Per-artifact failures are recorded
// on the artifact's EnrichmentError field and never fail the batch.
func (e *Enricher) EnrichAll(ctx context.Context, poolSize int, record domain.DocumentRecord, artifacts []domain.ImageArtifact, blobs map[string][]byte, extractCharts bool, chartProvider ChartProvider) []domain.ImageArtifact {
	if poolSize < 1 {
		poolSize = 1
	}
	if poolSize > len(artifacts) && len(artifacts) > 0 {
		poolSize = len(artifacts)
	}

	jobs := make(chan int, len(artifacts))
	results := make([]domain.ImageArtifact, len(artifacts))
	copy(results, artifacts)

	var wg sync.WaitGroup
	for w := 0; w < poolSize; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobs {
				select {
				case <-ctx.Done():
					continue
				default:
				}
				results[idx] = e.enrichOne(ctx, record, results[idx], blobs[results[idx].BlobKey], extractCharts, chartProvider)
			}
		}()
	}
	for i := range artifacts {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	return results
}

func (e *Enricher) enrichOne(ctx context.Context, record domain.DocumentRecord, artifact domain.ImageArtifact, data []byte, extractCharts bool, chartProvider ChartProvider) domain.ImageArtifact {
	ocr, err := e.classify(ctx, data)
	if err != nil {
		msg := err.Error()
		artifact.EnrichmentError = &msg
		return artifact
	}

	artifact.OCRText = &ocr.OCRText
	classification := ocr.ImageType
	artifact.Classification = &classification
	artifact.ClassificationScore = &ocr.Confidence

	if extractCharts && hasStructuredDataSchema(ImageType(ocr.ImageType)) {
		structured, err := e.extractStructuredData(ctx, data, ImageType(ocr.ImageType), chartProvider)
		if err == nil {
			artifact.StructuredData = structured
		} else if e.logger != nil {
			e.logger.Warn().Str("artifact_id", artifact.ID.String()).Err(err).Msg("structured data extraction failed")
		}
	}

	now := time.Now()
	artifact.EnrichedAt = &now

	candidate := e.buildEmbeddingCandidate(record, artifact, ocr)
	artifact.Description = &candidate

	return artifact
}

// classify performs the fixed OCR+classification call and parses the
// response through the strict-JSON -> fenced -> heuristic chain.
func (e *Enricher) classify(ctx context.Context, imageData []byte) (*ocrResponse, error) {
	callCtx, cancel := context.WithTimeout(ctx, defaultCallTimeout)
	defer cancel()

	req := e.buildChatRequest(e.model, imageData, classificationPrompt())
	content, err := e.call(callCtx, e.baseURL, req)
	if err != nil {
		return nil, err
	}
	return parseOCRResponse(content), nil
}

func (e *Enricher) extractStructuredData(ctx context.Context, imageData []byte, imgType ImageType, chartProvider ChartProvider) (map[string]any, error) {
	callCtx, cancel := context.WithTimeout(ctx, defaultCallTimeout)
	defer cancel()

	baseURL, model := e.resolveChartBackend(chartProvider)
	req := e.buildChatRequest(model, imageData, structuredDataPrompt(imgType))
	content, err := e.call(callCtx, baseURL, req)
	if err != nil {
		return nil, err
	}

	data, err := parseJSONChain(content)
	if err != nil {
		return nil, domain.ExtractionParseError("structured data parse failed", err)
	}
	return data, nil
}

// resolveChartBackend picks the base URL and model the chart-extraction
// sub-task calls for provider. Auto, an empty provider, or an unconfigured
// provider all fall back to the Enricher's own vision backend.
func (e *Enricher) resolveChartBackend(provider ChartProvider) (baseURL, model string) {
	if provider != "" && provider != ChartProviderAuto {
		if backend, ok := e.chartBackends[provider]; ok {
			return backend.BaseURL, backend.Model
		}
	}
	return e.baseURL, e.model
}

func (e *Enricher) buildChatRequest(model string, imageData []byte, prompt string) chatRequest {
	dataURI := "data:image/png;base64," + base64.StdEncoding.EncodeToString(imageData)
	return chatRequest{
		Model: model,
		Messages: []chatMessage{
			{
				Role: "user",
				Content: []contentPart{
					{Type: "text", Text: prompt},
					{Type: "image_url", ImageURL: &imageURL{URL: dataURI}},
				},
			},
		},
		Temperature: 0.1,
	}
}

func (e *Enricher) call(ctx context.Context, baseURL string, req chatRequest) (string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshal vision request: %w", err)
	}

	resp, err := e.client.Do(ctx, "vision-llm", func() (*http.Request, error) {
		r, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/v1/chat/completions", bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		r.Header.Set("Content-Type", "application/json")
		return r, nil
	})
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decode vision response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("vision response had no choices")
	}
	return parsed.Choices[0].Message.Content, nil
}

func classificationPrompt() string {
	return `Analyze this image extracted from a technical document. Return ONLY a valid JSON object:

{
  "ocr_text": "any text visible in the image",
  "image_type": "chart|table|diagram|photo|other",
  "subtype": "specific subtype, e.g. bar_chart, line_chart, data_table, flowchart",
  "confidence": 0.0-1.0,
  "key_elements": ["list", "of", "notable", "elements"],
  "technical_domain": "the technical field this image relates to"
}

Return ONLY valid JSON, no markdown formatting, no explanations.`
}

func structuredDataPrompt(imgType ImageType) string {
	switch imgType {
	case ImageTypeChart:
		return `Extract this chart's data as JSON: {"chart_type": "...", "x_axis": "...", "y_axis": "...", "series": [{"name": "...", "points": [{"x": ..., "y": ...}]}]}. Return ONLY valid JSON.`
	case ImageTypeTable:
		return `Extract this table's data as JSON: {"headers": ["..."], "rows": [["..."]]}. Return ONLY valid JSON.`
	case ImageTypeDiagram:
		return `Extract this diagram's structure as JSON: {"components": [{"id": "...", "label": "..."}], "connections": [{"from": "...", "to": "..."}]}. Return ONLY valid JSON.`
	default:
		return `Extract any structured data visible as JSON. Return ONLY valid JSON.`
	}
}

// parseOCRResponse runs the strict -> fenced -> heuristic chain for the
// fixed-schema OCR/classification call; unlike structured-data parsing,
// this call always yields a best-effort result, never a hard failure.
func parseOCRResponse(content string) *ocrResponse {
	if data, err := parseJSONChain(content); err == nil {
		var resp ocrResponse
		if b, merr := json.Marshal(data); merr == nil {
			if uerr := json.Unmarshal(b, &resp); uerr == nil {
				return &resp
			}
		}
	}
	return &ocrResponse{
		OCRText:    "",
		ImageType:  string(ImageTypeOther),
		Confidence: 0.0,
	}
}

// parseJSONChain is C9's documented parse chain, reused here: strict JSON,
// then fenced-code-block-stripped, then the outermost balanced object.
func parseJSONChain(content string) (map[string]any, error) {
	var data map[string]any

	if err := json.Unmarshal([]byte(content), &data); err == nil {
		return data, nil
	}

	stripped := stripFences(content)
	if err := json.Unmarshal([]byte(stripped), &data); err == nil {
		return data, nil
	}

	if balanced, ok := extractBalancedObject(stripped); ok {
		if err := json.Unmarshal([]byte(balanced), &data); err == nil {
			return data, nil
		}
	}

	return nil, fmt.Errorf("no valid JSON object found in response")
}

func stripFences(content string) string {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	return strings.TrimSpace(content)
}

func extractBalancedObject(content string) (string, bool) {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start == -1 || end == -1 || end <= start {
		return "", false
	}
	return content[start : end+1], true
}

func (e *Enricher) buildEmbeddingCandidate(record domain.DocumentRecord, artifact domain.ImageArtifact, ocr *ocrResponse) string {
	var sb strings.Builder
	sb.WriteString(ocr.OCRText)

	if artifact.PageNumber != nil {
		if passage := nearestPageText(record, *artifact.PageNumber); passage != "" {
			sb.WriteString(" ")
			sb.WriteString(truncate(passage, surroundingCharLimit))
		}
	}

	if len(artifact.StructuredData) > 0 {
		if b, err := json.Marshal(artifact.StructuredData); err == nil {
			sb.WriteString(" ")
			sb.WriteString(truncate(string(b), 2000))
		}
	}

	return truncate(sb.String(), embeddingCharLimit)
}

// nearestPageText combines up to three chunks of page text nearest
// pageNumber: the artifact's own page first, then its adjacent pages,
// skipping any that don't exist in the record.
func nearestPageText(record domain.DocumentRecord, pageNumber int) string {
	byPage := make(map[int]string, len(record.Pages))
	for _, p := range record.Pages {
		byPage[p.PageNumber] = p.Text
	}

	var chunks []string
	for _, pn := range [3]int{pageNumber, pageNumber - 1, pageNumber + 1} {
		if text, ok := byPage[pn]; ok && text != "" {
			chunks = append(chunks, text)
		}
	}
	return strings.Join(chunks, " ")
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit]
}
