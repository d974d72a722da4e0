// Package template implements the Template Loader: loads, validates, and
// renders JSON extraction templates into prompts for the Structured
// Extractor.
package template

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spherical/docpipe/internal/domain"
)

const maxVariableDepth = 8

// Loader holds the in-memory, read-only registry of validated templates.
type Loader struct {
	templates map[string]*domain.ExtractionTemplate
}

// Load reads every *.json file in dir, validates it, and precomputes its
// rendering aids. A single malformed template fails the whole load: a
// broken template file is a deployment error, not a per-request one.
func Load(dir string) (*Loader, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read template directory: %w", err)
	}

	l := &Loader{templates: make(map[string]*domain.ExtractionTemplate)}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		tmpl, err := loadOne(path)
		if err != nil {
			return nil, fmt.Errorf("load template %s: %w", entry.Name(), err)
		}
		l.templates[tmpl.ID] = tmpl
	}

	return l, nil
}

func loadOne(path string) (*domain.ExtractionTemplate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var tmpl domain.ExtractionTemplate
	if err := json.Unmarshal(data, &tmpl); err != nil {
		return nil, fmt.Errorf("parse JSON: %w", err)
	}

	if err := validate(&tmpl); err != nil {
		return nil, err
	}

	schema := buildJSONSchema(tmpl.Variables)
	schemaBytes, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal json schema: %w", err)
	}
	tmpl.SetPrecomputed(string(schemaBytes), buildVariablesList(tmpl.Variables, 0))

	return &tmpl, nil
}

func validate(tmpl *domain.ExtractionTemplate) error {
	if tmpl.ID == "" {
		return fmt.Errorf("missing required field: id")
	}
	if tmpl.Name == "" {
		return fmt.Errorf("missing required field: name")
	}
	if tmpl.SystemPrompt == "" {
		return fmt.Errorf("missing required field: system_prompt")
	}
	if tmpl.UserPromptTemplate == "" {
		return fmt.Errorf("missing required field: user_prompt_template")
	}
	if len(tmpl.Variables) == 0 {
		return fmt.Errorf("missing required field: variables")
	}
	return validateVariables(tmpl.Variables, 1)
}

func validateVariables(vars []domain.TemplateVariable, depth int) error {
	if depth > maxVariableDepth {
		return fmt.Errorf("variable tree exceeds max depth %d", maxVariableDepth)
	}

	seen := make(map[string]bool, len(vars))
	for _, v := range vars {
		if seen[v.Name] {
			return fmt.Errorf("duplicate sibling variable name: %s", v.Name)
		}
		seen[v.Name] = true

		if !isKnownType(v.Type) {
			return fmt.Errorf("unknown variable type %q for %s", v.Type, v.Name)
		}

		if len(v.Children) > 0 {
			if err := validateVariables(v.Children, depth+1); err != nil {
				return err
			}
		}
	}
	return nil
}

func isKnownType(t domain.VariableType) bool {
	switch t {
	case domain.VariableTypeString, domain.VariableTypeNumber, domain.VariableTypeBool,
		domain.VariableTypeArray, domain.VariableTypeObject:
		return true
	default:
		return false
	}
}

// Get returns the template with the given id.
func (l *Loader) Get(id string) (*domain.ExtractionTemplate, bool) {
	t, ok := l.templates[id]
	return t, ok
}

// List returns every loaded template.
func (l *Loader) List() []*domain.ExtractionTemplate {
	out := make([]*domain.ExtractionTemplate, 0, len(l.templates))
	for _, t := range l.templates {
		out = append(out, t)
	}
	return out
}

// RenderOverrides allows a caller to override a template's default call
// parameters for one invocation. MaxTextLength only ever lowers the
// template's limit; Temperature, MaxTokens and Timeout replace the default
// outright. Zero values mean "use the template's default" for every field.
type RenderOverrides struct {
	MaxTextLength int
	Temperature   float64
	MaxTokens     int
	Timeout       time.Duration
}

// Render substitutes {variables_list}, {text}, and {json_schema}
// placeholders by literal replacement (no nested templating) and returns
// the effective call parameters.
func Render(tmpl *domain.ExtractionTemplate, text string, overrides RenderOverrides) (systemPrompt, userPrompt string, params domain.TemplateParameters) {
	maxLen := tmpl.Parameters.MaxInputChars
	if overrides.MaxTextLength > 0 && overrides.MaxTextLength < maxLen {
		maxLen = overrides.MaxTextLength
	}
	if maxLen > 0 && len(text) > maxLen {
		text = text[:maxLen]
	}

	userPrompt = tmpl.UserPromptTemplate
	userPrompt = strings.ReplaceAll(userPrompt, "{variables_list}", tmpl.VariablesList())
	userPrompt = strings.ReplaceAll(userPrompt, "{text}", text)
	userPrompt = strings.ReplaceAll(userPrompt, "{json_schema}", tmpl.JSONSchema())

	params = tmpl.Parameters
	if overrides.Temperature > 0 {
		params.Temperature = overrides.Temperature
	}
	if overrides.MaxTokens > 0 {
		params.MaxOutputToks = overrides.MaxTokens
	}
	if overrides.Timeout > 0 {
		params.Timeout = overrides.Timeout
	}

	return tmpl.SystemPrompt, userPrompt, params
}

func buildJSONSchema(vars []domain.TemplateVariable) map[string]any {
	properties := make(map[string]any, len(vars))
	var required []string

	for _, v := range vars {
		properties[v.Name] = schemaForVariable(v)
		if v.Required {
			required = append(required, v.Name)
		}
	}

	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func schemaForVariable(v domain.TemplateVariable) map[string]any {
	switch v.Type {
	case domain.VariableTypeObject:
		return map[string]any{
			"type":        jsonSchemaType(v.Type),
			"description": v.Description,
			"properties":  buildJSONSchema(v.Children)["properties"],
		}
	case domain.VariableTypeArray:
		itemSchema := map[string]any{"type": "string"}
		if len(v.Children) > 0 {
			itemSchema = buildJSONSchema(v.Children)
		}
		return map[string]any{
			"type":        "array",
			"description": v.Description,
			"items":       itemSchema,
		}
	default:
		return map[string]any{
			"type":        jsonSchemaType(v.Type),
			"description": v.Description,
		}
	}
}

func jsonSchemaType(t domain.VariableType) string {
	switch t {
	case domain.VariableTypeNumber:
		return "number"
	case domain.VariableTypeBool:
		return "boolean"
	case domain.VariableTypeArray:
		return "array"
	case domain.VariableTypeObject:
		return "object"
	default:
		return "string"
	}
}

func buildVariablesList(vars []domain.TemplateVariable, indent int) string {
	var sb strings.Builder
	prefix := strings.Repeat("  ", indent)
	for _, v := range vars {
		req := ""
		if v.Required {
			req = " (required)"
		}
		fmt.Fprintf(&sb, "%s- %s (%s)%s: %s\n", prefix, v.Name, v.Type, req, v.Description)
		if len(v.Children) > 0 {
			sb.WriteString(buildVariablesList(v.Children, indent+1))
		}
	}
	return sb.String()
}
