package render

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Rendering itself goes through cgo/MuPDF via go-fitz and needs a real PDF
// fixture, so it isn't covered here. These cases cover the pure-Go guard
// clauses and lifecycle that don't need an actual document.

func TestRenderRejectsOutOfRangeQuality(t *testing.T) {
	f := New()

	_, err := f.Render(context.Background(), "testdata/does-not-matter.pdf", 0)
	require.Error(t, err)

	_, err = f.Render(context.Background(), "testdata/does-not-matter.pdf", 101)
	require.Error(t, err)
}

func TestRenderRejectsMissingFile(t *testing.T) {
	f := New()

	_, err := f.Render(context.Background(), "testdata/does-not-exist.pdf", 85)
	assert.Error(t, err)
}

func TestCleanupOnFreshInstanceIsANoop(t *testing.T) {
	f := New()
	assert.NoError(t, f.Cleanup())
}
