package embeddings

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"math"
	"strings"
)

// HashEmbedder generates deterministic embeddings from token hashes.
//
// It is not a semantic model: similarity reflects token overlap only. It
// exists for tests and for embedded deployments that need deterministic,
// dependency-free vectors. Vectors are normalized to unit length as
// required by cosine-space engines.
type HashEmbedder struct {
	dimension int
}

// NewHashEmbedder creates a HashEmbedder producing vectors of the given
// dimension.
func NewHashEmbedder(dimension int) *HashEmbedder {
	if dimension <= 0 {
		dimension = 384
	}
	return &HashEmbedder{dimension: dimension}
}

// EmbedDocuments generates embeddings for multiple texts.
func (h *HashEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	embeddings := make([][]float32, len(texts))
	for i, text := range texts {
		embeddings[i] = h.embed(text)
	}
	return embeddings, nil
}

// EmbedQuery generates an embedding for a single query.
func (h *HashEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return h.embed(text), nil
}

// Dimension returns the configured vector dimension.
func (h *HashEmbedder) Dimension() int { return h.dimension }

// Close is a no-op.
func (h *HashEmbedder) Close() error { return nil }

// embed maps each lowercased token to a hashed bucket and normalizes the
// resulting frequency vector. Texts sharing tokens get similar vectors.
func (h *HashEmbedder) embed(text string) []float32 {
	vec := make([]float32, h.dimension)
	for _, token := range strings.Fields(strings.ToLower(text)) {
		sum := sha256.Sum256([]byte(token))
		bucket := binary.BigEndian.Uint32(sum[:4]) % uint32(h.dimension)
		vec[bucket]++
	}

	var sumSq float64
	for _, v := range vec {
		sumSq += float64(v) * float64(v)
	}
	if sumSq == 0 {
		// Degenerate input (empty or whitespace): a fixed unit vector.
		vec[0] = 1
		return vec
	}
	norm := float32(1 / math.Sqrt(sumSq))
	for i := range vec {
		vec[i] *= norm
	}
	return vec
}
