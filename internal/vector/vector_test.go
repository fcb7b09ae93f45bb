package vector

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVectorCodecRoundTrip(t *testing.T) {
	vec := []float32{0.1, -2.5, 0, 42.125}
	blob := EncodeVector(vec)
	assert.Len(t, blob, 16)

	decoded, err := DecodeVector(blob, 4)
	require.NoError(t, err)
	assert.Equal(t, vec, decoded)
}

func TestDecodeVectorRejectsWrongLength(t *testing.T) {
	_, err := DecodeVector(make([]byte, 10), 4)
	assert.Error(t, err)
}

func TestCosineSimilarity(t *testing.T) {
	a := []float32{1, 0, 0}
	b := []float32{0, 1, 0}

	assert.InDelta(t, 1.0, CosineSimilarity(a, a), 1e-9)
	assert.InDelta(t, 0.0, CosineSimilarity(a, b), 1e-9)
	assert.InDelta(t, -1.0, CosineSimilarity(a, []float32{-1, 0, 0}), 1e-9)

	// Degenerate inputs fall back to 0 rather than NaN.
	assert.Zero(t, CosineSimilarity(a, []float32{0, 0, 0}))
	assert.Zero(t, CosineSimilarity(a, []float32{1, 0}))
	assert.Zero(t, CosineSimilarity(nil, nil))
}

func TestCosineSimilarityScaleInvariant(t *testing.T) {
	a := []float32{3, 4}
	b := []float32{6, 8}
	assert.InDelta(t, 1.0, CosineSimilarity(a, b), 1e-9)
}
