package decode

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/spherical/docpipe/internal/domain"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		name             string
		totalChars       int
		imageCount       int
		samplePages      int
		expect           domain.InputClass
	}{
		{"heavy text wins regardless of images", 9000, 50, 3, domain.InputClassTextPDF},
		{"moderate text with many images per page is mixed", 4000, 10, 3, domain.InputClassMixed},
		{"moderate text alone is text_pdf", 4000, 1, 3, domain.InputClassTextPDF},
		{"light text with images exceeding sample pages is mixed", 600, 4, 3, domain.InputClassMixed},
		{"light text alone is text_pdf", 600, 1, 3, domain.InputClassTextPDF},
		{"no text but images present is scanned", 0, 5, 3, domain.InputClassScannedPDF},
		{"nothing at all is unknown", 0, 0, 3, domain.InputClassUnknown},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := classify(tc.totalChars, tc.imageCount, tc.samplePages)
			assert.Equal(t, tc.expect, got)
		})
	}
}

func TestPlanForSkipsHeavyEnginesOverCutoff(t *testing.T) {
	plan := planFor(domain.InputClassScannedPDF, defaultHeavyEngineCutoff+1)
	assert.True(t, plan.SkipHeavyEngines)
	assert.Equal(t, []EngineStep{EngineOCRFast, EngineTextOnlyPDF}, plan.Engines)
}

func TestPlanForSmallScannedTriesThoroughOCRFirst(t *testing.T) {
	plan := planFor(domain.InputClassScannedPDF, 1024)
	assert.False(t, plan.SkipHeavyEngines)
	assert.Equal(t, []EngineStep{EngineOCRThorough, EngineOCRFast, EngineTextOnlyPDF}, plan.Engines)
}

func TestPlanForTextPDFPrefersLayoutEngines(t *testing.T) {
	plan := planFor(domain.InputClassTextPDF, 1024)
	assert.Equal(t, []EngineStep{EngineLayoutNative, EngineLayoutRemote, EngineTextOnlyPDF}, plan.Engines)
}
