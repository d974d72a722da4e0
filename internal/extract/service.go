// Package extract implements the Structured Extractor (C9): calls a text
// LLM under a chosen provider, parses JSON-mode output through a
// strict -> fenced -> balanced-brace chain, and coerces the result to a
// template's schema.
package extract

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/spherical/docpipe/internal/cache"
	"github.com/spherical/docpipe/internal/domain"
	"github.com/spherical/docpipe/internal/observability"
	"github.com/spherical/docpipe/internal/template"
	"github.com/spherical/docpipe/internal/transport"
)

// resultCacheTTL bounds how long a successful extraction is reused for an
// identical (template, provider, model, text) request.
const resultCacheTTL = 10 * time.Minute

// Provider is one of the configured text-LLM backends.
type Provider string

const (
	ProviderLocal  Provider = "local"
	ProviderCloudA Provider = "cloud_a"
	ProviderCloudB Provider = "cloud_b"
)

// ProviderEndpoint is one provider's connection details.
type ProviderEndpoint struct {
	Provider Provider
	BaseURL  string
	Model    string
	APIKey   string
}

const maxRawTextInError = 500

// Service is the structured extraction engine.
type Service struct {
	client    *transport.Client
	logger    *observability.Logger
	templates *template.Loader
	providers map[Provider]ProviderEndpoint
	cache     cache.Client
}

// New creates a Service. providers lists every endpoint whose credentials
// are configured at startup; callers naming any other provider receive
// ProviderNotConfigured.
func New(client *transport.Client, logger *observability.Logger, templates *template.Loader, providers []ProviderEndpoint) *Service {
	byName := make(map[Provider]ProviderEndpoint, len(providers))
	for _, p := range providers {
		byName[p.Provider] = p
	}
	return &Service{client: client, logger: logger, templates: templates, providers: byName, cache: cache.NoopClient{}}
}

// WithCache attaches a response cache keyed on (template, provider, model,
// text). Extract consults it before calling a provider and stores
// successful results, so repeating an identical request is idempotent
// without charging a second LLM call.
func (s *Service) WithCache(c cache.Client) *Service {
	s.cache = c
	return s
}

// AvailableProviders returns the providers with configured credentials.
func (s *Service) AvailableProviders() []Provider {
	out := make([]Provider, 0, len(s.providers))
	for p := range s.providers {
		out = append(out, p)
	}
	return out
}

// Request describes one extraction call.
type Request struct {
	TemplateID string
	Provider   Provider
	Model      string
	Text       string
	Overrides  template.RenderOverrides
}

// Extract runs the full call path: resolve template, render prompts,
// invoke the provider, parse the response, and coerce to schema if the
// template requires it.
func (s *Service) Extract(ctx context.Context, req Request) domain.ExtractionResult {
	start := time.Now()

	endpoint, ok := s.providers[req.Provider]
	if !ok {
		return failure(req, start, domain.ErrorKindProviderNotConfigured, fmt.Sprintf("provider not configured: %s", req.Provider))
	}

	tmpl, ok := s.templates.Get(req.TemplateID)
	if !ok {
		return failure(req, start, domain.ErrorKindInputInvalid, fmt.Sprintf("unknown template: %s", req.TemplateID))
	}

	systemPrompt, userPrompt, params := template.Render(tmpl, req.Text, req.Overrides)

	model := req.Model
	if model == "" {
		model = endpoint.Model
	}

	key := resultCacheKey(req.TemplateID, string(req.Provider), model, req.Text)
	if cached, ok := s.lookupCache(ctx, key); ok {
		cached.WallMs = time.Since(start).Milliseconds()
		return cached
	}

	callCtx, cancel := context.WithTimeout(ctx, params.Timeout)
	defer cancel()

	rawText, err := s.callProvider(callCtx, endpoint, model, systemPrompt, userPrompt, params)
	if err != nil {
		return s.mapCallError(req, start, err)
	}

	data, err := parseJSONChain(rawText)
	if err != nil {
		truncated := rawText
		if len(truncated) > maxRawTextInError {
			truncated = truncated[:maxRawTextInError]
		}
		return failure(req, start, domain.ErrorKindExtractionParseError, truncated)
	}

	if params.StrictSchema {
		coerced, err := coerceToSchema(data, tmpl.Variables, params.NullHandling)
		if err != nil {
			return failure(req, start, domain.ErrorKindExtractionRejected, err.Error())
		}
		data = coerced
	}

	result := domain.ExtractionResult{
		TemplateID: req.TemplateID,
		Provider:   string(req.Provider),
		Model:      model,
		WallMs:     time.Since(start).Milliseconds(),
		Success:    true,
		Data:       data,
	}
	s.storeCache(ctx, key, result)
	return result
}

// resultCacheKey derives a cache key from the request shape; the text is
// hashed rather than embedded so keys stay a fixed, loggable size.
func resultCacheKey(templateID, provider, model, text string) string {
	sum := sha256.Sum256([]byte(text))
	return fmt.Sprintf("extract:%s:%s:%s:%s", templateID, provider, model, hex.EncodeToString(sum[:]))
}

func (s *Service) lookupCache(ctx context.Context, key string) (domain.ExtractionResult, bool) {
	raw, err := s.cache.Get(ctx, key)
	if err != nil {
		return domain.ExtractionResult{}, false
	}
	var cached domain.ExtractionResult
	if err := json.Unmarshal(raw, &cached); err != nil {
		return domain.ExtractionResult{}, false
	}
	return cached, true
}

func (s *Service) storeCache(ctx context.Context, key string, result domain.ExtractionResult) {
	raw, err := json.Marshal(result)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, key, raw, resultCacheTTL); err != nil && s.logger != nil {
		s.logger.Warn().Err(err).Msg("extraction cache write failed")
	}
}

func (s *Service) mapCallError(req Request, start time.Time, err error) domain.ExtractionResult {
	var kind domain.ErrorKind
	switch {
	case err == context.DeadlineExceeded:
		kind = domain.ErrorKindExtractionTimeout
	default:
		if k, ok := domain.Kind(err); ok {
			kind = k
		} else {
			kind = domain.ErrorKindEngineFailed
		}
	}
	return failure(req, start, kind, err.Error())
}

func failure(req Request, start time.Time, kind domain.ErrorKind, message string) domain.ExtractionResult {
	return domain.ExtractionResult{
		TemplateID: req.TemplateID,
		Provider:   string(req.Provider),
		Model:      req.Model,
		WallMs:     time.Since(start).Milliseconds(),
		Success:    false,
		ErrorKind:  string(kind),
		ErrorText:  message,
	}
}

type completionMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type completionRequest struct {
	Model       string              `json:"model"`
	Messages    []completionMessage `json:"messages"`
	Temperature float64             `json:"temperature"`
	MaxTokens   int                 `json:"max_tokens"`
	JSONMode    bool                `json:"json_mode"`
}

type completionResponse struct {
	Choices []struct {
		Message completionMessage `json:"message"`
	} `json:"choices"`
}

func (s *Service) callProvider(ctx context.Context, endpoint ProviderEndpoint, model, systemPrompt, userPrompt string, params domain.TemplateParameters) (string, error) {
	reqBody := completionRequest{
		Model: model,
		Messages: []completionMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
		Temperature: params.Temperature,
		MaxTokens:   params.MaxOutputToks,
		JSONMode:    true,
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshal completion request: %w", err)
	}

	resp, err := s.client.Do(ctx, "text-llm:"+string(endpoint.Provider), func() (*http.Request, error) {
		r, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.BaseURL+"/v1/chat/completions", bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		r.Header.Set("Content-Type", "application/json")
		if endpoint.APIKey != "" {
			r.Header.Set("Authorization", "Bearer "+endpoint.APIKey)
		}
		return r, nil
	})
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var parsed completionResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decode completion response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("completion response had no choices")
	}
	return parsed.Choices[0].Message.Content, nil
}

// parseJSONChain tries strict JSON, then strips fenced code blocks, then
// locates the outermost balanced object.
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

// coerceToSchema converts "N/A"/empty strings to null per the null
// handling rule and rejects unknown top-level keys.
func coerceToSchema(data map[string]any, vars []domain.TemplateVariable, nullRule domain.NullHandlingRule) (map[string]any, error) {
	allowed := make(map[string]bool, len(vars))
	for _, v := range vars {
		allowed[v.Name] = true
	}
	for key := range data {
		if !allowed[key] {
			return nil, fmt.Errorf("unknown top-level key: %s", key)
		}
	}

	out := make(map[string]any, len(data))
	for key, value := range data {
		out[key] = coerceValue(value, nullRule)
	}
	return out, nil
}

func coerceValue(value any, nullRule domain.NullHandlingRule) any {
	switch v := value.(type) {
	case string:
		if nullRule == domain.NullHandlingStrict && (v == "N/A" || v == "") {
			return nil
		}
		return v
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, nested := range v {
			out[k] = coerceValue(nested, nullRule)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, nested := range v {
			out[i] = coerceValue(nested, nullRule)
		}
		return out
	default:
		return value
	}
}
