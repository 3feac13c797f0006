// Package embeddings provides embedding generation via multiple providers.
package embeddings

import (
	"errors"
	"fmt"

	"github.com/fyrsmithlabs/recalld/internal/vectorindex"
)

// ErrInvalidConfig indicates invalid provider configuration.
var ErrInvalidConfig = errors.New("invalid embeddings configuration")

// Provider is the interface for embedding providers.
type Provider interface {
	vectorindex.Embedder

	// Dimension returns the embedding dimension for the current model.
	Dimension() int

	// Close releases resources held by the provider.
	Close() error
}

// ProviderConfig holds configuration for creating an embedding provider.
type ProviderConfig struct {
	// Provider is the provider type: "fastembed" (default) or "hash".
	Provider string

	// Model is the embedding model name (FastEmbed only).
	Model string

	// CacheDir is the model cache directory (FastEmbed only).
	CacheDir string

	// Dimension is the vector dimension for the hash provider.
	Dimension int
}

// NewProvider creates an embedding provider based on the configuration.
func NewProvider(cfg ProviderConfig) (Provider, error) {
	switch cfg.Provider {
	case "fastembed", "":
		return NewFastEmbedProvider(FastEmbedConfig{
			Model:    cfg.Model,
			CacheDir: cfg.CacheDir,
		})
	case "hash":
		dim := cfg.Dimension
		if dim == 0 {
			dim = 384
		}
		return NewHashEmbedder(dim), nil
	default:
		return nil, fmt.Errorf("%w: unsupported provider %q (supported: fastembed, hash)", ErrInvalidConfig, cfg.Provider)
	}
}
