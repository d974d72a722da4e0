package embedding

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestClampEmptyInputUsesSentinel(t *testing.T) {
	assert.Equal(t, sentinelText, clamp(""))
}

func TestClampTruncatesAt2000Chars(t *testing.T) {
	long := strings.Repeat("a", 3000)
	got := clamp(long)
	assert.Len(t, got, maxInputChars)
}

func TestClampLeavesShortTextUntouched(t *testing.T) {
	assert.Equal(t, "hello", clamp("hello"))
}

func TestCosineSimilarityIdenticalVectorsIsOne(t *testing.T) {
	v := []float64{1, 2, 3}
	assert.InDelta(t, 1.0, cosineSimilarity(v, v), 1e-9)
}

func TestCosineSimilarityMismatchedLengthIsZero(t *testing.T) {
	assert.Equal(t, 0.0, cosineSimilarity([]float64{1, 2}, []float64{1, 2, 3}))
}

func TestTopNOrdersDescendingAndTruncates(t *testing.T) {
	hits := []SearchHit{
		{ArtifactID: uuid.New(), Score: 0.1},
		{ArtifactID: uuid.New(), Score: 0.9},
		{ArtifactID: uuid.New(), Score: 0.5},
	}
	top := topN(hits, 2)
	assert.Len(t, top, 2)
	assert.Equal(t, 0.9, top[0].Score)
	assert.Equal(t, 0.5, top[1].Score)
}
