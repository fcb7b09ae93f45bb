// Package vector persists per-observation embeddings and answers
// cosine-similarity queries over them.
package vector

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
)

// DefaultThreshold is the minimum cosine similarity a hit must reach.
const DefaultThreshold = 0.3

// Hit is one vector-search result.
type Hit struct {
	ObservationID int64   `json:"observation_id"`
	Similarity    float64 `json:"similarity"`
}

// SearchOptions narrows a vector search. Limit <= 0 means 10; a zero
// Threshold means DefaultThreshold (pass a negative value to disable).
type SearchOptions struct {
	Project   string
	Limit     int
	Threshold float64
}

// Stats summarizes embedding coverage.
type Stats struct {
	TotalObservations int64   `json:"total_observations"`
	Embedded          int64   `json:"embedded"`
	Percent           float64 `json:"percent"`
}

// Index stores one vector per observation. Put overwrites on conflict;
// deleting an observation must remove its vector.
type Index interface {
	Put(ctx context.Context, observationID int64, project string, vec []float32, modelTag string) error
	Search(ctx context.Context, query []float32, opts SearchOptions) ([]Hit, error)
	DeleteByObservation(ctx context.Context, observationID int64) error
	Stats(ctx context.Context) (*Stats, error)
	Close() error
}

// EncodeVector serializes a float32 vector as a little-endian blob.
func EncodeVector(vec []float32) []byte {
	buf := make([]byte, len(vec)*4)
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

// DecodeVector deserializes a blob produced by EncodeVector. The blob
// length must equal dimensions*4.
func DecodeVector(blob []byte, dimensions int) ([]float32, error) {
	if len(blob) != dimensions*4 {
		return nil, fmt.Errorf("embedding blob is %d bytes, want %d", len(blob), dimensions*4)
	}
	vec := make([]float32, dimensions)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return vec, nil
}

// CosineSimilarity computes the cosine of the angle between two vectors.
// Mismatched lengths or a zero vector yield 0.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
