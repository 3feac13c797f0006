package embeddings

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashEmbedder_Deterministic(t *testing.T) {
	h := NewHashEmbedder(64)
	ctx := context.Background()

	a, err := h.EmbedQuery(ctx, "the billing service emits invoices")
	require.NoError(t, err)
	b, err := h.EmbedQuery(ctx, "the billing service emits invoices")
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Len(t, a, 64)
}

func TestHashEmbedder_UnitNorm(t *testing.T) {
	h := NewHashEmbedder(64)

	for _, text := range []string{"one", "a few more words here", ""} {
		vec, err := h.EmbedQuery(context.Background(), text)
		require.NoError(t, err)

		var sumSq float64
		for _, v := range vec {
			sumSq += float64(v) * float64(v)
		}
		assert.InDelta(t, 1.0, math.Sqrt(sumSq), 1e-5, "text %q", text)
	}
}

func TestHashEmbedder_SharedTokensScoreHigher(t *testing.T) {
	h := NewHashEmbedder(256)
	ctx := context.Background()

	query, err := h.EmbedQuery(ctx, "billing invoices")
	require.NoError(t, err)
	related, err := h.EmbedQuery(ctx, "billing invoices nightly")
	require.NoError(t, err)
	unrelated, err := h.EmbedQuery(ctx, "dark mode editor theme")
	require.NoError(t, err)

	assert.Greater(t, dot(query, related), dot(query, unrelated))
}

func TestHashEmbedder_EmbedDocumentsMatchesQuery(t *testing.T) {
	h := NewHashEmbedder(64)
	ctx := context.Background()

	docs, err := h.EmbedDocuments(ctx, []string{"alpha", "beta"})
	require.NoError(t, err)
	require.Len(t, docs, 2)

	single, err := h.EmbedQuery(ctx, "alpha")
	require.NoError(t, err)
	assert.Equal(t, single, docs[0])
}

func TestNewProvider(t *testing.T) {
	p, err := NewProvider(ProviderConfig{Provider: "hash", Dimension: 128})
	require.NoError(t, err)
	defer p.Close()
	assert.Equal(t, 128, p.Dimension())

	_, err = NewProvider(ProviderConfig{Provider: "nope"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func dot(a, b []float32) float32 {
	var sum float32
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}
