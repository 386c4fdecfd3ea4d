// Package embed routes embedding requests to the configured model backends.
package embed

import (
	"context"
	"math"
	"time"
)

// Common embedding constants
const (
	// DefaultBatchSize is the number of texts per provider request.
	DefaultBatchSize = 32

	// MaxBatchSize caps provider requests to keep payloads bounded.
	MaxBatchSize = 256

	// DefaultRequestTimeout bounds a single provider HTTP request.
	DefaultRequestTimeout = 60 * time.Second

	// DefaultCallTimeout bounds a whole GenerateEmbeddings call.
	DefaultCallTimeout = 30 * time.Second

	// DefaultConcurrency is the number of batches in flight per call.
	DefaultConcurrency = 4
)

// Backend generates vector embeddings for one model.
// Implementations own their retry and caching behavior.
type Backend interface {
	// EmbedBatch returns one vector per text, in input order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the vector length the model produces.
	Dimensions() int

	// ModelName returns the provider-side model identifier.
	ModelName() string

	// Available checks if the backend can serve requests.
	Available(ctx context.Context) bool

	// Close releases resources.
	Close() error
}

// ModelInfo is one catalog entry.
type ModelInfo struct {
	Name       string `json:"name"`
	Dimensions int    `json:"dimensions"`
}

// normalizeVector returns v scaled to unit length. Zero vectors are returned as-is.
func normalizeVector(v []float32) []float32 {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}

	magnitude := math.Sqrt(sumSquares)
	if magnitude == 0 {
		return v
	}

	normalized := make([]float32, len(v))
	for i, val := range v {
		normalized[i] = float32(float64(val) / magnitude)
	}
	return normalized
}

func toFloat32(v []float64) []float32 {
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(x)
	}
	return out
}
