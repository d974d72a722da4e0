// Package decode implements the Document Decoder: classifies raw input
// bytes into an InputClass and picks an extraction strategy plan for the
// Layout Extractor to follow.
package decode

import (
	"bytes"
	"context"
	"os"
	"strings"

	"github.com/gen2brain/go-fitz"

	"github.com/spherical/docpipe/internal/domain"
)

// sampleMaxPages caps how many leading pages are inspected during
// classification; sampling the whole document would be wasteful for long
// papers and the first few pages are representative enough.
const sampleMaxPages = 3

// EngineStep names one entry in a strategy plan.
type EngineStep string

const (
	EngineLayoutNative EngineStep = "layout_native"
	EngineLayoutRemote EngineStep = "layout_remote"
	EngineTextOnlyPDF  EngineStep = "text_only_pdf"
	EngineOCRFast      EngineStep = "ocr_fast"
	EngineOCRThorough  EngineStep = "ocr_thorough"
)

// StrategyPlan is the prioritised engine sequence the Layout Extractor
// should try, plus file-size gates that skip heavy engines on huge inputs.
type StrategyPlan struct {
	Engines           []EngineStep
	SkipHeavyEngines  bool
	HeavyEngineCutoff int64 // bytes; default 100 MiB
}

const defaultHeavyEngineCutoff = 100 * 1024 * 1024

// scannedSizeGate is the file-size threshold below which a scanned PDF
// tries the higher-quality OCR engine first; at or above it, the fast
// engine runs first to bound latency on large scans.
const scannedSizeGate = 5 * 1024 * 1024

// Decoder classifies input bytes and proposes a strategy plan.
type Decoder struct {
	renderer domain.Renderer
}

// New creates a Decoder holding renderer. Classification does not call
// it; PDFs are opened with go-fitz directly.
func New(renderer domain.Renderer) *Decoder {
	return &Decoder{renderer: renderer}
}

// Classify inspects the input and returns its InputClass and a strategy
// plan for extraction. filename's extension and declaredMIME disambiguate
// non-PDF inputs; PDF text and embedded image counts are sampled by
// opening the file with go-fitz directly, not through the renderer.
func (d *Decoder) Classify(ctx context.Context, path string, declaredMIME, filename string) (domain.InputClass, StrategyPlan, error) {
	info, err := os.Stat(path)
	if err != nil {
		return domain.InputClassUnknown, StrategyPlan{}, domain.InputInvalid("cannot stat input", err)
	}

	lower := strings.ToLower(filename)
	switch {
	case strings.HasSuffix(lower, ".png"), strings.HasSuffix(lower, ".jpg"),
		strings.HasSuffix(lower, ".jpeg"), strings.HasSuffix(lower, ".tif"),
		strings.HasSuffix(lower, ".tiff"), strings.HasPrefix(declaredMIME, "image/"):
		return domain.InputClassImage, StrategyPlan{Engines: []EngineStep{EngineOCRThorough}}, nil

	case strings.HasSuffix(lower, ".docx"), strings.HasSuffix(lower, ".doc"),
		strings.HasSuffix(lower, ".pptx"), strings.HasSuffix(lower, ".xlsx"):
		return domain.InputClassOffice, StrategyPlan{Engines: []EngineStep{EngineLayoutRemote}}, nil

	case !strings.HasSuffix(lower, ".pdf") && !strings.HasPrefix(declaredMIME, "application/pdf"):
		return domain.InputClassUnknown, StrategyPlan{}, nil
	}

	class, err := d.classifyPDF(ctx, path)
	if err != nil {
		return domain.InputClassUnknown, StrategyPlan{}, err
	}

	return class, planFor(class, info.Size()), nil
}

func (d *Decoder) classifyPDF(ctx context.Context, path string) (domain.InputClass, error) {
	doc, err := fitz.New(path)
	if err != nil {
		return domain.InputClassUnknown, domain.DecodeFailed("failed to open PDF for classification", err)
	}
	defer doc.Close()

	pageCount := doc.NumPage()
	if pageCount == 0 {
		return domain.InputClassUnknown, domain.DecodeFailed("PDF has no pages", nil)
	}

	samplePages := pageCount
	if samplePages > sampleMaxPages {
		samplePages = sampleMaxPages
	}

	var totalChars int
	for p := 0; p < samplePages; p++ {
		select {
		case <-ctx.Done():
			return domain.InputClassUnknown, domain.Cancelled(ctx.Err())
		default:
		}
		text, err := doc.Text(p)
		if err != nil {
			continue
		}
		totalChars += len(strings.TrimSpace(text))
	}

	imageCount, err := countEmbeddedImages(path)
	if err != nil {
		imageCount = 0
	}

	return classify(totalChars, imageCount, samplePages), nil
}

// classify applies the first-match-wins threshold ladder.
func classify(totalChars, imageCount, samplePages int) domain.InputClass {
	avgImagesPerPage := float64(imageCount) / float64(samplePages)

	switch {
	case totalChars > 8000:
		return domain.InputClassTextPDF
	case totalChars > 3000 && avgImagesPerPage > 2:
		return domain.InputClassMixed
	case totalChars > 3000:
		return domain.InputClassTextPDF
	case totalChars > 500 && imageCount > samplePages:
		return domain.InputClassMixed
	case totalChars > 500:
		return domain.InputClassTextPDF
	case imageCount > 0:
		return domain.InputClassScannedPDF
	default:
		return domain.InputClassUnknown
	}
}

func planFor(class domain.InputClass, sizeBytes int64) StrategyPlan {
	plan := StrategyPlan{HeavyEngineCutoff: defaultHeavyEngineCutoff}
	plan.SkipHeavyEngines = sizeBytes > plan.HeavyEngineCutoff

	switch class {
	case domain.InputClassTextPDF, domain.InputClassMixed:
		plan.Engines = []EngineStep{EngineLayoutNative, EngineLayoutRemote, EngineTextOnlyPDF}
	case domain.InputClassScannedPDF:
		switch {
		case plan.SkipHeavyEngines:
			plan.Engines = []EngineStep{EngineOCRFast, EngineTextOnlyPDF}
		case sizeBytes < scannedSizeGate:
			// Small scans can afford the thorough engine first.
			plan.Engines = []EngineStep{EngineOCRThorough, EngineOCRFast, EngineTextOnlyPDF}
		default:
			// Bound latency on larger scans: fast engine first.
			plan.Engines = []EngineStep{EngineOCRFast, EngineOCRThorough, EngineTextOnlyPDF}
		}
	default:
		plan.Engines = []EngineStep{EngineLayoutNative, EngineOCRFast}
	}
	return plan
}

// countEmbeddedImages approximates the number of embedded image XObjects by
// scanning the raw PDF bytes for "/Subtype/Image" declarations. go-fitz
// does not expose per-object embedded image enumeration, and pulling in a
// full PDF object-model parser for a single sampling heuristic is not
// worth the dependency; this mirrors the lightweight scan pattern common
// in PDF tooling that only needs a presence count, not the objects
// themselves.
func countEmbeddedImages(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	needles := [][]byte{
		[]byte("/Subtype/Image"),
		[]byte("/Subtype /Image"),
	}
	count := 0
	for _, needle := range needles {
		count += bytes.Count(data, needle)
	}
	return count, nil
}
