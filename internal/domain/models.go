// Package domain holds the records shared across every pipeline stage.
//
// Components never communicate through shared mutable state; a DocumentRecord
// (and everything reachable from it) is published once by the layout stage
// and treated as immutable by every later stage except for the nullable
// enrichment fields on ImageArtifact.
package domain

import (
	"strconv"
	"time"

	"github.com/google/uuid"
)

// PageImage is one rendered page raster, produced by the shared PDF
// renderer and consumed by the layout, decode, and image-materialiser
// stages.
type PageImage struct {
	PageNumber int
	ImagePath  string
	Width      int
	Height     int
}

// InputClass is the result of document classification (C2).
type InputClass string

const (
	InputClassTextPDF    InputClass = "text_pdf"
	InputClassScannedPDF InputClass = "scanned_pdf"
	InputClassImage      InputClass = "image"
	InputClassOffice     InputClass = "office"
	InputClassUnknown    InputClass = "unknown"
	InputClassMixed      InputClass = "mixed"
)

// LayoutCategory is the normalised category of a detected page region.
type LayoutCategory string

const (
	LayoutCategoryText    LayoutCategory = "text"
	LayoutCategoryTitle   LayoutCategory = "title"
	LayoutCategoryFormula LayoutCategory = "formula"
	LayoutCategoryTable   LayoutCategory = "table"
	LayoutCategoryFigure  LayoutCategory = "figure"
	LayoutCategoryImage   LayoutCategory = "image"
)

// ImageOrigin distinguishes images extracted from the PDF object stream
// from images cropped out of a rendered page raster.
type ImageOrigin string

const (
	ImageOriginEmbedded ImageOrigin = "embedded"
	ImageOriginRegion   ImageOrigin = "region"
)

// BoundingBox is a normalised, page-local, top-left-origin rectangle.
type BoundingBox struct {
	X0 float64 `json:"x0"`
	Y0 float64 `json:"y0"`
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
}

// LayoutDetection is one region of a page as reported by a layout engine.
type LayoutDetection struct {
	Category   LayoutCategory `json:"category"`
	Box        BoundingBox    `json:"box"`
	Content    string         `json:"content,omitempty"`
	Confidence float64        `json:"confidence"`
}

// PageRecord is one page of a decoded document.
type PageRecord struct {
	PageNumber int               `json:"page_number"`
	Text       string            `json:"text"`
	Detections []LayoutDetection `json:"detections"`
}

// Provenance records how a DocumentRecord was produced.
type Provenance struct {
	Engine   string `json:"engine"`
	Device   string `json:"device"`
	Language string `json:"language"`
	WallMs   int64  `json:"wall_ms"`
}

// DocumentRecord is the canonical, stage-3-published representation of a
// decoded document. It is immutable after publication except for the
// nullable enrichment fields carried on its images (persisted separately,
// see ImageArtifact).
type DocumentRecord struct {
	ID            uuid.UUID    `json:"id"`
	Filename      string       `json:"filename"`
	SizeBytes     int64        `json:"size_bytes"`
	DeclaredMIME  string       `json:"declared_mime"`
	InputClass    InputClass   `json:"input_class"`
	Pages         []PageRecord `json:"pages"`
	Markdown      string       `json:"markdown"`
	PageCount     int          `json:"page_count"`
	FormulaCount  int          `json:"formula_count"`
	TableCount    int          `json:"table_count"`
	RegionCount   int          `json:"region_count"`
	EmbeddedCount int          `json:"embedded_count"`
	Provenance    Provenance   `json:"provenance"`
	CreatedAt     time.Time    `json:"created_at"`
}

// Counts recomputes the aggregate counters from Pages. Call once,
// immediately before publication.
func (d *DocumentRecord) Counts() {
	d.PageCount = len(d.Pages)
	d.FormulaCount, d.TableCount, d.RegionCount = 0, 0, 0
	for _, p := range d.Pages {
		for _, det := range p.Detections {
			switch det.Category {
			case LayoutCategoryFormula:
				d.FormulaCount++
			case LayoutCategoryTable:
				d.TableCount++
			case LayoutCategoryImage, LayoutCategoryFigure:
				d.RegionCount++
			}
		}
	}
}

// ImageArtifact is a persisted image plus its metadata and enrichment
// fields. (DocumentID, PageNumber, ImageIndex, Origin) is unique.
type ImageArtifact struct {
	ID          uuid.UUID   `json:"id"`
	DocumentID  uuid.UUID   `json:"document_id"`
	PageNumber  *int        `json:"page_number,omitempty"`
	ImageIndex  int         `json:"image_index"`
	Origin      ImageOrigin `json:"origin"`
	MIME        string      `json:"mime"`
	Width       int         `json:"width"`
	Height      int         `json:"height"`
	ByteLength  int64       `json:"byte_length"`
	ContentHash string      `json:"content_hash"`
	BlobKey     string      `json:"blob_key"`

	// Enrichment fields. Nil/zero until C6/C7 run.
	OCRText             *string        `json:"ocr_text,omitempty"`
	Description         *string        `json:"description,omitempty"`
	Classification      *string        `json:"classification,omitempty"`
	ClassificationScore *float64       `json:"classification_confidence,omitempty"`
	StructuredData      map[string]any `json:"structured_data,omitempty"`
	Embedding           []float64      `json:"embedding,omitempty"`
	EnrichedAt          *time.Time     `json:"enriched_at,omitempty"`
	EnrichmentError     *string        `json:"enrichment_error,omitempty"`
	EmbeddingGenerated  bool           `json:"embedding_generated"`
}

// Key returns the uniqueness-invariant tuple as a string, for use as a
// map/set key in dedup logic and tests.
func (a ImageArtifact) Key() string {
	page := "noPage"
	if a.PageNumber != nil {
		page = strconv.Itoa(*a.PageNumber)
	}
	return a.DocumentID.String() + "/" + page + "/" + strconv.Itoa(a.ImageIndex) + "/" + string(a.Origin)
}

// VariableType is the set of type tokens a TemplateVariable may declare.
type VariableType string

const (
	VariableTypeString VariableType = "string"
	VariableTypeNumber VariableType = "number"
	VariableTypeBool   VariableType = "bool"
	VariableTypeArray  VariableType = "array"
	VariableTypeObject VariableType = "object"
)

// TemplateVariable is one node in an ExtractionTemplate's variable tree.
type TemplateVariable struct {
	Name        string             `json:"name"`
	Description string             `json:"description"`
	Type        VariableType       `json:"type"`
	Required    bool               `json:"required"`
	Children    []TemplateVariable `json:"children,omitempty"`
}

// NullHandlingRule controls how the structured extractor treats "missing"
// values it must coerce to null in strict-schema mode.
type NullHandlingRule string

// NullHandlingStrict converts both "N/A" and "" to null. This is the
// mandated single null policy (the source used both interchangeably).
const NullHandlingStrict NullHandlingRule = "strict"

// TemplateParameters holds the per-template call and rendering parameters.
type TemplateParameters struct {
	MaxInputChars int              `json:"max_input_chars"`
	Temperature   float64          `json:"temperature"`
	MaxOutputToks int              `json:"max_output_tokens"`
	Timeout       time.Duration    `json:"timeout"`
	StrictSchema  bool             `json:"strict_schema"`
	NullHandling  NullHandlingRule `json:"null_handling"`
}

// ExtractionTemplate is a declarative schema + prompts for structured
// extraction from free text, loaded by the Template Loader (C8).
type ExtractionTemplate struct {
	ID                 string             `json:"id"`
	Name               string             `json:"name"`
	Category           string             `json:"category"`
	SystemPrompt       string             `json:"system_prompt"`
	UserPromptTemplate string             `json:"user_prompt_template"`
	Variables          []TemplateVariable `json:"variables"`
	Parameters         TemplateParameters `json:"parameters"`

	// Precomputed at load time by C8; not part of the on-disk JSON.
	jsonSchema    string
	variablesList string
}

// JSONSchema returns the precomputed JSON-schema string used for prompt
// rendering. Empty until the loader validates the template.
func (t *ExtractionTemplate) JSONSchema() string { return t.jsonSchema }

// VariablesList returns the precomputed human-readable variable listing.
func (t *ExtractionTemplate) VariablesList() string { return t.variablesList }

// SetPrecomputed is called by the template loader once validation succeeds.
func (t *ExtractionTemplate) SetPrecomputed(jsonSchema, variablesList string) {
	t.jsonSchema = jsonSchema
	t.variablesList = variablesList
}

// ExtractionResult is produced by the Structured Extractor (C9).
type ExtractionResult struct {
	TemplateID string         `json:"template_id"`
	Provider   string         `json:"provider"`
	Model      string         `json:"model"`
	WallMs     int64          `json:"wall_ms"`
	Success    bool           `json:"success"`
	Data       map[string]any `json:"data,omitempty"`
	ErrorKind  string         `json:"error,omitempty"`
	ErrorText  string         `json:"error_text,omitempty"`
}

// DocumentState is the per-document lifecycle state the Orchestrator (C10)
// tracks.
type DocumentState string

const (
	StateCreated            DocumentState = "created"
	StateLayoutDone         DocumentState = "layout_done"
	StateImagesMaterialised DocumentState = "images_materialised"
	StateEnriched           DocumentState = "enriched"
	StateReady              DocumentState = "ready"
	StateFailed             DocumentState = "failed"
)

// EventType identifies the kind of StreamEvent emitted during ingestion.
type EventType string

const (
	EventStart          EventType = "start"
	EventPageProcessing EventType = "page_processing"
	EventEnrichment     EventType = "enrichment"
	EventStageComplete  EventType = "stage_complete"
	EventError          EventType = "error"
	EventComplete       EventType = "complete"
)

// StreamEvent is delivered to a progress sink at step boundaries.
// Invocations are serialised per document and must not block the pipeline.
type StreamEvent struct {
	Type       EventType `json:"type"`
	Step       string    `json:"step,omitempty"`
	PageNumber int       `json:"page_number,omitempty"`
	Payload    any       `json:"payload,omitempty"`
	Percent    *float64  `json:"percent,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// ProgressSink receives StreamEvents. Implementations must not block; the
// orchestrator enforces a short call timeout around every invocation.
type ProgressSink func(StreamEvent)
