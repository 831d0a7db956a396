package intake

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSimilarity(t *testing.T) {
	assert.GreaterOrEqual(t, Similarity("john doe", "jon doe"), 0.8)
	assert.Less(t, Similarity("john doe", "jane smith"), 0.8)

	assert.Equal(t, 1.0, Similarity("", ""))
	assert.Equal(t, 1.0, Similarity("AGR100", "AGR100"))
	assert.Equal(t, 0.0, Similarity("abc", ""))
	assert.InDelta(t, 0.875, Similarity("John Doe", "Jon Doe"), 1e-9)
}

func TestSimilarityCountsRunes(t *testing.T) {
	// one substitution over four runes, not over the byte length
	assert.InDelta(t, 0.75, Similarity("مرحب", "مرحا"), 1e-9)
}
