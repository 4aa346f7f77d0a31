// Package embed provides text embedding for query and passage vectors.
package embed

import (
	"context"
	"math"
	"strings"
)

// Role distinguishes query and passage embeddings for asymmetric models.
type Role string

const (
	RoleQuery   Role = "query"
	RolePassage Role = "passage"
)

// Embedder generates dense vectors for semantic retrieval.
type Embedder interface {
	// EmbedQuery generates an embedding for a search query.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)

	// EmbedPassage generates an embedding for article text.
	EmbedPassage(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts with the given role.
	EmbedBatch(ctx context.Context, texts []string, role Role) ([][]float32, error)

	// Dimensions returns the embedding vector size.
	Dimensions() int

	// ModelName returns the model identifier.
	ModelName() string

	// Available reports whether the backing model is reachable.
	Available(ctx context.Context) bool

	// Close releases resources.
	Close() error
}

// rolePrefixes maps model families that need asymmetric instruction
// prefixes. Models not listed embed the raw text.
var rolePrefixes = map[string]map[Role]string{
	"e5": {
		RoleQuery:   "query: ",
		RolePassage: "passage: ",
	},
}

// prefixFor returns the instruction prefix for a model/role pair.
func prefixFor(model string, role Role) string {
	for family, prefixes := range rolePrefixes {
		if strings.Contains(strings.ToLower(model), family) {
			return prefixes[role]
		}
	}
	return ""
}

// normalizeVector scales v to unit length in place and returns it.
// Zero vectors are returned unchanged.
func normalizeVector(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	norm := math.Sqrt(sum)
	for i := range v {
		v[i] = float32(float64(v[i]) / norm)
	}
	return v
}

// vectorNorm returns the L2 norm of v.
func vectorNorm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}
