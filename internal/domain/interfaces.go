package domain

import "context"

// Renderer turns a PDF into page rasters. Implemented by internal/render
// and used by the Image Materialiser (C4, for region cropping) and the
// Layout Extractor's local OCR path.
type Renderer interface {
	// Render converts pdfPath into page images at the given JPEG quality.
	Render(ctx context.Context, pdfPath string, quality int) ([]PageImage, error)

	// Cleanup removes any temporary files created during rendering.
	Cleanup() error
}
