package vectorindex

import (
	"fmt"

	"go.uber.org/zap"
)

// Config selects and configures an engine implementation.
type Config struct {
	// Provider is the engine backend: "chromem" (default) or "qdrant".
	Provider string

	// Chromem configures the embedded engine (used when Provider is "chromem").
	Chromem ChromemConfig

	// Qdrant configures the external engine (used when Provider is "qdrant").
	Qdrant QdrantConfig
}

// NewEngine creates an engine for the configured provider.
func NewEngine(cfg Config, embedder Embedder, logger *zap.Logger) (Engine, error) {
	switch cfg.Provider {
	case "chromem", "":
		return NewChromemEngine(cfg.Chromem, embedder, logger)
	case "qdrant":
		return NewQdrantEngine(cfg.Qdrant, embedder, logger)
	default:
		return nil, fmt.Errorf("%w: unknown engine provider %q (supported: chromem, qdrant)", ErrInvalidConfig, cfg.Provider)
	}
}
