// Package render turns PDFs into page rasters using go-fitz (MuPDF
// bindings). It implements domain.Renderer and is used by the Image
// Materialiser (cropping region detections out of a page raster) and the
// Layout Extractor's local OCR path. The Document Decoder is handed one but
// classifies PDFs with go-fitz directly.
package render

import (
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"os"
	"path/filepath"

	"github.com/gen2brain/go-fitz"

	"github.com/spherical/docpipe/internal/domain"
)

// Fitz renders PDFs with MuPDF. One instance is reused across a single
// Render call; call Cleanup afterward to release its temp directory and
// the underlying document handle.
type Fitz struct {
	doc     *fitz.Document
	tempDir string
}

// New creates an unopened renderer.
func New() *Fitz {
	return &Fitz{}
}

// Render rasterises every page of pdfPath as JPEGs at the given quality
// (1-100) and returns them in page order.
func (f *Fitz) Render(ctx context.Context, pdfPath string, quality int) ([]domain.PageImage, error) {
	if quality < 1 || quality > 100 {
		return nil, domain.InputInvalid(fmt.Sprintf("quality must be in [1,100], got %d", quality), nil)
	}
	if _, err := os.Stat(pdfPath); err != nil {
		return nil, domain.InputInvalid("pdf path does not exist", err)
	}

	doc, err := fitz.New(pdfPath)
	if err != nil {
		return nil, domain.DecodeFailed("failed to open PDF", err)
	}
	f.doc = doc

	tempDir, err := os.MkdirTemp("", "docpipe-render-*")
	if err != nil {
		return nil, domain.DecodeFailed("failed to create render temp dir", err)
	}
	f.tempDir = tempDir

	pageCount := doc.NumPage()
	if pageCount == 0 {
		return nil, domain.InputInvalid("PDF has no pages", nil)
	}

	images := make([]domain.PageImage, 0, pageCount)
	for pageNum := 0; pageNum < pageCount; pageNum++ {
		select {
		case <-ctx.Done():
			return nil, domain.Cancelled(ctx.Err())
		default:
		}

		img, err := doc.Image(pageNum)
		if err != nil {
			return nil, domain.DecodeFailed(fmt.Sprintf("failed to render page %d", pageNum+1), err)
		}

		outputPath := filepath.Join(tempDir, fmt.Sprintf("page_%04d.jpg", pageNum+1))
		if err := writeJPEG(outputPath, img, quality); err != nil {
			return nil, domain.DecodeFailed(fmt.Sprintf("failed to encode page %d", pageNum+1), err)
		}

		bounds := img.Bounds()
		images = append(images, domain.PageImage{
			PageNumber: pageNum + 1,
			ImagePath:  outputPath,
			Width:      bounds.Dx(),
			Height:     bounds.Dy(),
		})
	}

	return images, nil
}

// Cleanup closes the open document and removes its temp directory.
func (f *Fitz) Cleanup() error {
	if f.doc != nil {
		f.doc.Close()
		f.doc = nil
	}
	if f.tempDir != "" {
		err := os.RemoveAll(f.tempDir)
		f.tempDir = ""
		return err
	}
	return nil
}

func writeJPEG(path string, img image.Image, quality int) error {
	out, err := os.Create(path)
	if err != nil {
		return err
	}
	defer out.Close()
	return jpeg.Encode(out, img, &jpeg.Options{Quality: quality})
}
