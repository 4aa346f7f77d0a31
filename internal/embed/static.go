package embed

import (
	"context"
	"hash/fnv"
	"strings"
)

// StaticEmbedder produces deterministic embeddings by hashing tokens into
// a fixed projection. It needs no model server and exists for development
// and tests; similarity quality is poor but stable across runs.
type StaticEmbedder struct {
	dimensions int
}

var _ Embedder = (*StaticEmbedder)(nil)

// NewStaticEmbedder creates a deterministic offline embedder.
func NewStaticEmbedder(dimensions int) *StaticEmbedder {
	if dimensions <= 0 {
		dimensions = 384
	}
	return &StaticEmbedder{dimensions: dimensions}
}

// EmbedQuery generates a deterministic query embedding.
func (s *StaticEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	return s.embed(text, RoleQuery)
}

// EmbedPassage generates a deterministic passage embedding.
func (s *StaticEmbedder) EmbedPassage(_ context.Context, text string) ([]float32, error) {
	return s.embed(text, RolePassage)
}

// EmbedBatch generates deterministic embeddings for multiple texts.
func (s *StaticEmbedder) EmbedBatch(_ context.Context, texts []string, role Role) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := s.embed(t, role)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (s *StaticEmbedder) embed(text string, _ Role) ([]float32, error) {
	vec := make([]float32, s.dimensions)
	tokens := strings.Fields(strings.ToLower(text))
	if len(tokens) == 0 {
		// A stable non-zero vector keeps cosine math defined.
		vec[0] = 1
		return vec, nil
	}

	for _, tok := range tokens {
		h := fnv.New64a()
		_, _ = h.Write([]byte(tok))
		sum := h.Sum64()
		// Spread each token over a handful of dimensions.
		for j := 0; j < 4; j++ {
			idx := int((sum >> (j * 16)) % uint64(s.dimensions))
			sign := float32(1)
			if (sum>>(j*16+15))&1 == 1 {
				sign = -1
			}
			vec[idx] += sign
		}
	}
	return normalizeVector(vec), nil
}

// Dimensions returns the vector size.
func (s *StaticEmbedder) Dimensions() int { return s.dimensions }

// ModelName returns the static model identifier.
func (s *StaticEmbedder) ModelName() string { return "static-hash" }

// Available always reports true.
func (s *StaticEmbedder) Available(_ context.Context) bool { return true }

// Close is a no-op.
func (s *StaticEmbedder) Close() error { return nil }
