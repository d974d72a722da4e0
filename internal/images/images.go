// Package images implements the Image Materialiser: merges embedded and
// region-cropped images into a single ordered stream, assigns stable
// identifiers, and re-encodes everything to PNG.
package images

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"image"
	"image/draw"
	"image/jpeg"
	"image/png"
	"os"
	"sort"

	"github.com/google/uuid"

	"github.com/spherical/docpipe/internal/domain"
	"github.com/spherical/docpipe/internal/layout"
)

// regionScale is passed to cropRegion as the upscale factor for region
// crops. cropRegion does not apply it: crops keep the page raster's
// resolution.
const regionScale = 2

// Materialiser builds the ordered ImageArtifact stream for one document.
type Materialiser struct {
	renderer domain.Renderer
}

// New creates a Materialiser that renders pages with renderer for region
// cropping.
func New(renderer domain.Renderer) *Materialiser {
	return &Materialiser{renderer: renderer}
}

// Materialise merges embedded images from the layout response with
// region crops derived from the document's detections, and returns the
// resulting artifacts plus their raw PNG bytes keyed by artifact ID.
func (m *Materialiser) Materialise(ctx context.Context, documentID uuid.UUID, pdfPath string, record domain.DocumentRecord, embedded []layout.RawEmbeddedImage) ([]domain.ImageArtifact, map[uuid.UUID][]byte, error) {
	artifacts := make([]domain.ImageArtifact, 0)
	blobs := make(map[uuid.UUID][]byte)

	embeddedByPage := make(map[int][]layout.RawEmbeddedImage)
	var noPageEmbedded []layout.RawEmbeddedImage
	for _, img := range embedded {
		if img.PageNumber == nil {
			noPageEmbedded = append(noPageEmbedded, img)
			continue
		}
		embeddedByPage[*img.PageNumber] = append(embeddedByPage[*img.PageNumber], img)
	}

	var pageRasters []domain.PageImage
	needsRegions := documentHasRegionDetections(record)
	if needsRegions {
		rendered, err := m.renderer.Render(ctx, pdfPath, 90)
		if err != nil {
			return nil, nil, domain.EnrichmentFailed("failed to render pages for region cropping", err)
		}
		pageRasters = rendered
		defer m.renderer.Cleanup()
	}
	rasterByPage := make(map[int]domain.PageImage, len(pageRasters))
	for _, pr := range pageRasters {
		rasterByPage[pr.PageNumber] = pr
	}

	for _, page := range record.Pages {
		select {
		case <-ctx.Done():
			return nil, nil, domain.Cancelled(ctx.Err())
		default:
		}

		type pending struct {
			origin domain.ImageOrigin
			mime   string
			data   []byte
			sortY  float64
			sortX  float64
		}
		var items []pending

		for _, emb := range embeddedByPage[page.PageNumber] {
			data, mime, err := decodeEmbedded(emb)
			if err != nil {
				continue
			}
			items = append(items, pending{origin: domain.ImageOriginEmbedded, mime: mime, data: data})
		}

		if raster, ok := rasterByPage[page.PageNumber]; ok {
			for _, det := range page.Detections {
				if !isRegionCategory(det.Category) {
					continue
				}
				cropped, err := cropRegion(raster.ImagePath, det.Box, regionScale)
				if err != nil {
					continue
				}
				items = append(items, pending{
					origin: domain.ImageOriginRegion,
					mime:   "image/png",
					data:   cropped,
					sortY:  det.Box.Y0,
					sortX:  det.Box.X0,
				})
			}
		}

		sort.SliceStable(items, func(i, j int) bool {
			if items[i].sortY != items[j].sortY {
				return items[i].sortY < items[j].sortY
			}
			return items[i].sortX < items[j].sortX
		})

		pageNum := page.PageNumber
		for idx, it := range items {
			png, width, height, err := reencodePNG(it.data, it.mime)
			if err != nil {
				continue
			}
			hash := sha256.Sum256(png)
			artifact := domain.ImageArtifact{
				ID:          uuid.New(),
				DocumentID:  documentID,
				PageNumber:  &pageNum,
				ImageIndex:  idx,
				Origin:      it.origin,
				MIME:        "image/png",
				Width:       width,
				Height:      height,
				ByteLength:  int64(len(png)),
				ContentHash: hex.EncodeToString(hash[:]),
			}
			artifacts = append(artifacts, artifact)
			blobs[artifact.ID] = png
		}
	}

	for idx, emb := range noPageEmbedded {
		data, mime, err := decodeEmbedded(emb)
		if err != nil {
			continue
		}
		png, width, height, err := reencodePNG(data, mime)
		if err != nil {
			continue
		}
		hash := sha256.Sum256(png)
		artifact := domain.ImageArtifact{
			ID:          uuid.New(),
			DocumentID:  documentID,
			PageNumber:  nil,
			ImageIndex:  idx,
			Origin:      domain.ImageOriginEmbedded,
			MIME:        "image/png",
			Width:       width,
			Height:      height,
			ByteLength:  int64(len(png)),
			ContentHash: hex.EncodeToString(hash[:]),
		}
		artifacts = append(artifacts, artifact)
		blobs[artifact.ID] = png
	}

	return artifacts, blobs, nil
}

func documentHasRegionDetections(record domain.DocumentRecord) bool {
	for _, p := range record.Pages {
		for _, d := range p.Detections {
			if isRegionCategory(d.Category) {
				return true
			}
		}
	}
	return false
}

func isRegionCategory(c domain.LayoutCategory) bool {
	return c == domain.LayoutCategoryImage || c == domain.LayoutCategoryFigure || c == domain.LayoutCategoryTable
}

func decodeEmbedded(emb layout.RawEmbeddedImage) ([]byte, string, error) {
	data, err := base64.StdEncoding.DecodeString(emb.DataBase64)
	if err != nil {
		return nil, "", fmt.Errorf("decode embedded image base64: %w", err)
	}
	return data, emb.MIME, nil
}

// cropRegion re-decodes the already-rasterised page JPEG and crops box,
// which is expressed in normalised page-local coordinates. The scale
// argument is not used; the page is not re-rendered at a higher DPI, so
// the crop has the page raster's resolution.
func cropRegion(pageImagePath string, box domain.BoundingBox, scale int) ([]byte, error) {
	f, err := os.Open(pageImagePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, err
	}

	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()

	x0 := int(box.X0 * float64(w))
	y0 := int(box.Y0 * float64(h))
	x1 := int(box.X1 * float64(w))
	y1 := int(box.Y1 * float64(h))
	if x1 <= x0 || y1 <= y0 {
		return nil, fmt.Errorf("degenerate bounding box")
	}

	cropRect := image.Rect(x0, y0, x1, y1)
	cropped := image.NewRGBA(image.Rect(0, 0, cropRect.Dx(), cropRect.Dy()))
	draw.Draw(cropped, cropped.Bounds(), img, cropRect.Min, draw.Src)

	var buf bytes.Buffer
	if err := png.Encode(&buf, cropped); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// reencodePNG normalises any supported input image (PNG/JPEG bytes) to PNG
// and reports its dimensions.
func reencodePNG(data []byte, mime string) ([]byte, int, int, error) {
	var img image.Image
	var err error

	switch mime {
	case "image/jpeg", "image/jpg":
		img, err = jpeg.Decode(bytes.NewReader(data))
	case "image/png":
		img, err = png.Decode(bytes.NewReader(data))
	default:
		img, _, err = image.Decode(bytes.NewReader(data))
	}
	if err != nil {
		return nil, 0, 0, fmt.Errorf("decode image: %w", err)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, 0, 0, fmt.Errorf("encode png: %w", err)
	}

	bounds := img.Bounds()
	return buf.Bytes(), bounds.Dx(), bounds.Dy(), nil
}
