package images

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/spherical/docpipe/internal/domain"
)

func TestIsRegionCategory(t *testing.T) {
	assert.True(t, isRegionCategory(domain.LayoutCategoryImage))
	assert.True(t, isRegionCategory(domain.LayoutCategoryFigure))
	assert.True(t, isRegionCategory(domain.LayoutCategoryTable))
	assert.False(t, isRegionCategory(domain.LayoutCategoryText))
	assert.False(t, isRegionCategory(domain.LayoutCategoryTitle))
	assert.False(t, isRegionCategory(domain.LayoutCategoryFormula))
}

func TestDocumentHasRegionDetections(t *testing.T) {
	withRegions := domain.DocumentRecord{
		Pages: []domain.PageRecord{
			{Detections: []domain.LayoutDetection{{Category: domain.LayoutCategoryTable}}},
		},
	}
	assert.True(t, documentHasRegionDetections(withRegions))

	withoutRegions := domain.DocumentRecord{
		Pages: []domain.PageRecord{
			{Detections: []domain.LayoutDetection{{Category: domain.LayoutCategoryText}}},
		},
	}
	assert.False(t, documentHasRegionDetections(withoutRegions))
}
