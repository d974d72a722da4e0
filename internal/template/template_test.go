package template

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical/docpipe/internal/domain"
)

func validTemplate() *domain.ExtractionTemplate {
	return &domain.ExtractionTemplate{
		ID:                 "t1",
		Name:                "Test Template",
		SystemPrompt:       "system",
		UserPromptTemplate: "{variables_list} {text} {json_schema}",
		Variables: []domain.TemplateVariable{
			{Name: "title", Type: domain.VariableTypeString, Required: true},
			{Name: "pages", Type: domain.VariableTypeNumber},
		},
		Parameters: domain.TemplateParameters{MaxInputChars: 100},
	}
}

func TestValidateAcceptsWellFormedTemplate(t *testing.T) {
	assert.NoError(t, validate(validTemplate()))
}

func TestValidateRejectsMissingID(t *testing.T) {
	tmpl := validTemplate()
	tmpl.ID = ""
	assert.Error(t, validate(tmpl))
}

func TestValidateRejectsDuplicateSiblingNames(t *testing.T) {
	tmpl := validTemplate()
	tmpl.Variables = append(tmpl.Variables, domain.TemplateVariable{Name: "title", Type: domain.VariableTypeString})
	assert.Error(t, validate(tmpl))
}

func TestValidateRejectsUnknownType(t *testing.T) {
	tmpl := validTemplate()
	tmpl.Variables[0].Type = "enum"
	assert.Error(t, validate(tmpl))
}

func TestValidateRejectsExcessiveDepth(t *testing.T) {
	var deepest domain.TemplateVariable = domain.TemplateVariable{Name: "leaf", Type: domain.VariableTypeString}
	current := deepest
	for i := 0; i < maxVariableDepth+1; i++ {
		current = domain.TemplateVariable{Name: "n", Type: domain.VariableTypeObject, Children: []domain.TemplateVariable{current}}
	}
	tmpl := validTemplate()
	tmpl.Variables = []domain.TemplateVariable{current}
	assert.Error(t, validate(tmpl))
}

func TestRenderTruncatesTextToOverride(t *testing.T) {
	tmpl := validTemplate()
	tmpl.SetPrecomputed("{}", "- title (string)")

	_, userPrompt, params := Render(tmpl, strings.Repeat("x", 50), RenderOverrides{MaxTextLength: 10})

	assert.Equal(t, 100, params.MaxInputChars)
	assert.Contains(t, userPrompt, strings.Repeat("x", 10))
	assert.NotContains(t, userPrompt, strings.Repeat("x", 11))
}

func TestRenderAppliesCallParameterOverrides(t *testing.T) {
	tmpl := validTemplate()
	tmpl.SetPrecomputed("{}", "- title (string)")
	tmpl.Parameters.Temperature = 0.2
	tmpl.Parameters.MaxOutputToks = 256
	tmpl.Parameters.Timeout = 30 * time.Second

	_, _, params := Render(tmpl, "body text", RenderOverrides{
		Temperature: 0.9,
		MaxTokens:   1024,
		Timeout:     90 * time.Second,
	})

	assert.Equal(t, 0.9, params.Temperature)
	assert.Equal(t, 1024, params.MaxOutputToks)
	assert.Equal(t, 90*time.Second, params.Timeout)
}

func TestRenderKeepsTemplateDefaultsWhenOverridesAreZero(t *testing.T) {
	tmpl := validTemplate()
	tmpl.SetPrecomputed("{}", "- title (string)")
	tmpl.Parameters.Temperature = 0.2
	tmpl.Parameters.MaxOutputToks = 256
	tmpl.Parameters.Timeout = 30 * time.Second

	_, _, params := Render(tmpl, "body text", RenderOverrides{})

	assert.Equal(t, 0.2, params.Temperature)
	assert.Equal(t, 256, params.MaxOutputToks)
	assert.Equal(t, 30*time.Second, params.Timeout)
}

func TestRenderSubstitutesAllPlaceholders(t *testing.T) {
	tmpl := validTemplate()
	tmpl.SetPrecomputed(`{"type":"object"}`, "- title (string)")

	systemPrompt, userPrompt, _ := Render(tmpl, "body text", RenderOverrides{})

	assert.Equal(t, "system", systemPrompt)
	assert.Contains(t, userPrompt, "body text")
	assert.Contains(t, userPrompt, "- title (string)")
	assert.Contains(t, userPrompt, `{"type":"object"}`)
}

func TestBuildJSONSchemaMarksRequiredFields(t *testing.T) {
	schema := buildJSONSchema(validTemplate().Variables)
	required, ok := schema["required"].([]string)
	require.True(t, ok)
	assert.Equal(t, []string{"title"}, required)
}
