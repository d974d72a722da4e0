// Package ocr implements a local, offline OCR fallback using Tesseract,
// for the ocr_thorough strategy-plan step when no remote OCR backend is
// registered.
package ocr

import (
	"context"
	"fmt"

	"github.com/otiai10/gosseract/v2"

	"github.com/spherical/docpipe/internal/domain"
)

// Engine runs local Tesseract OCR over page images. A fresh gosseract
// client is created per call: the underlying C API is not safe for
// concurrent reuse across goroutines.
type Engine struct {
	language string
}

// New creates an Engine. language is a Tesseract language code (e.g. "eng");
// empty defaults to Tesseract's own default.
func New(language string) *Engine {
	return &Engine{language: language}
}

// RecognizeImagePath runs OCR over a single rendered page image on disk
// and returns its extracted text.
func (e *Engine) RecognizeImagePath(ctx context.Context, imagePath string) (string, error) {
	select {
	case <-ctx.Done():
		return "", domain.Cancelled(ctx.Err())
	default:
	}

	client := gosseract.NewClient()
	defer client.Close()

	if e.language != "" {
		if err := client.SetLanguage(e.language); err != nil {
			return "", domain.EngineFailed("ocr_thorough", "set tesseract language", err)
		}
	}
	if err := client.SetImage(imagePath); err != nil {
		return "", domain.EngineFailed("ocr_thorough", "set tesseract image", err)
	}

	text, err := client.Text()
	if err != nil {
		return "", domain.EngineFailed("ocr_thorough", "tesseract recognition failed", err)
	}
	return text, nil
}

// RecognizePages runs OCR over every rendered page in order and joins the
// results with blank-line separators, mirroring the markdown shape the
// remote layout engines produce.
func (e *Engine) RecognizePages(ctx context.Context, pages []domain.PageImage) (string, error) {
	out := make([]string, 0, len(pages))
	for _, page := range pages {
		text, err := e.RecognizeImagePath(ctx, page.ImagePath)
		if err != nil {
			return "", fmt.Errorf("page %d: %w", page.PageNumber, err)
		}
		out = append(out, text)
	}

	joined := ""
	for i, text := range out {
		if i > 0 {
			joined += "\n\n"
		}
		joined += text
	}
	return joined, nil
}
