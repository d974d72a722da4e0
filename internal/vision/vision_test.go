package vision

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical/docpipe/internal/domain"
	"github.com/spherical/docpipe/internal/transport"
)

// testChatResponse mirrors the wire shape of chatResponse so tests can build
// one without reaching into vision.go's unexported anonymous struct fields.
type testChatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// writeChatResponse wraps content as the single-choice chat completion body
// the Enricher expects back from a vision backend.
func writeChatResponse(w http.ResponseWriter, content string) {
	resp := testChatResponse{}
	resp.Choices = make([]struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	}, 1)
	resp.Choices[0].Message.Content = content

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func TestParseJSONChainStrict(t *testing.T) {
	data, err := parseJSONChain(`{"a": 1}`)
	require.NoError(t, err)
	assert.EqualValues(t, 1, data["a"])
}

func TestParseJSONChainFencedFallback(t *testing.T) {
	data, err := parseJSONChain("```json\n{\"a\": 2}\n```")
	require.NoError(t, err)
	assert.EqualValues(t, 2, data["a"])
}

func TestParseJSONChainBalancedObjectFallback(t *testing.T) {
	data, err := parseJSONChain(`Here is the result: {"a": 3} -- hope that helps!`)
	require.NoError(t, err)
	assert.EqualValues(t, 3, data["a"])
}

func TestParseJSONChainFailsOnGarbage(t *testing.T) {
	_, err := parseJSONChain("no json here at all")
	assert.Error(t, err)
}

func TestParseOCRResponseFallsBackOnUnparsable(t *testing.T) {
	resp := parseOCRResponse("not json")
	assert.Equal(t, string(ImageTypeOther), resp.ImageType)
	assert.Equal(t, 0.0, resp.Confidence)
}

func TestHasStructuredDataSchema(t *testing.T) {
	assert.True(t, hasStructuredDataSchema(ImageTypeChart))
	assert.True(t, hasStructuredDataSchema(ImageTypeTable))
	assert.True(t, hasStructuredDataSchema(ImageTypeDiagram))
	assert.False(t, hasStructuredDataSchema(ImageTypePhoto))
}

func TestTruncateRespectsLimit(t *testing.T) {
	assert.Equal(t, "abc", truncate("abcdef", 3))
	assert.Equal(t, "ab", truncate("ab", 5))
}

func TestEnrichOneSkipsStructuredDataWhenExtractChartsDisabled(t *testing.T) {
	structuredCalls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Messages[0].Content[0].Text == classificationPrompt() {
			writeChatResponse(w, `{"ocr_text":"x","image_type":"chart","confidence":0.9}`)
			return
		}
		structuredCalls++
		writeChatResponse(w, `{"chart_type":"bar"}`)
	}))
	defer srv.Close()

	e := New(transport.NewClient(2*time.Second, nil), srv.URL, "vision-model", nil)
	artifact := domain.ImageArtifact{ID: uuid.New()}

	out := e.enrichOne(context.Background(), domain.DocumentRecord{}, artifact, nil, false, ChartProviderAuto)

	assert.Nil(t, out.StructuredData)
	assert.Equal(t, 0, structuredCalls, "extract_charts=false must not trigger the structured-data sub-task")
}

func TestEnrichOneRunsStructuredDataOnConfiguredChartBackendWhenEnabled(t *testing.T) {
	hitDefaultBackend := false
	defaultSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Messages[0].Content[0].Text == classificationPrompt() {
			writeChatResponse(w, `{"ocr_text":"x","image_type":"chart","confidence":0.9}`)
			return
		}
		hitDefaultBackend = true
		writeChatResponse(w, `{"chart_type":"bar"}`)
	}))
	defer defaultSrv.Close()

	hitChartBackend := false
	chartSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hitChartBackend = true
		writeChatResponse(w, `{"chart_type":"bar","series":[{"name":"s1"}]}`)
	}))
	defer chartSrv.Close()

	e := New(transport.NewClient(2*time.Second, nil), defaultSrv.URL, "vision-model", nil).
		WithChartBackends(map[ChartProvider]ChartBackend{
			ChartProviderLocal: {BaseURL: chartSrv.URL, Model: "chart-model"},
		})

	artifact := domain.ImageArtifact{ID: uuid.New()}
	out := e.enrichOne(context.Background(), domain.DocumentRecord{}, artifact, nil, true, ChartProviderLocal)

	assert.False(t, hitDefaultBackend, "structured-data call should go to the configured chart backend, not the default vision backend")
	assert.True(t, hitChartBackend)
	require.NotNil(t, out.StructuredData)
	assert.Equal(t, "bar", out.StructuredData["chart_type"])
}

func TestResolveChartBackendFallsBackToDefaultWhenUnconfigured(t *testing.T) {
	e := New(nil, "http://default", "default-model", nil)

	baseURL, model := e.resolveChartBackend(ChartProviderCloudA)
	assert.Equal(t, "http://default", baseURL)
	assert.Equal(t, "default-model", model)

	baseURL, model = e.resolveChartBackend(ChartProviderAuto)
	assert.Equal(t, "http://default", baseURL)
	assert.Equal(t, "default-model", model)
}

func TestResolveChartBackendUsesConfiguredProvider(t *testing.T) {
	e := New(nil, "http://default", "default-model", nil).
		WithChartBackends(map[ChartProvider]ChartBackend{
			ChartProviderCloudA: {BaseURL: "http://cloud-a", Model: "cloud-a-model"},
		})

	baseURL, model := e.resolveChartBackend(ChartProviderCloudA)
	assert.Equal(t, "http://cloud-a", baseURL)
	assert.Equal(t, "cloud-a-model", model)
}

func TestNearestPageText(t *testing.T) {
	record := domain.DocumentRecord{
		Pages: []domain.PageRecord{
			{PageNumber: 1, Text: "page one"},
			{PageNumber: 2, Text: "page two"},
			{PageNumber: 3, Text: "page three"},
		},
	}
	assert.Equal(t, "page two page one page three", nearestPageText(record, 2))
	assert.Equal(t, "page one page two", nearestPageText(record, 1))
	assert.Equal(t, "", nearestPageText(record, 5))
}
