// Package config provides configuration loading for recalld.
package config

import (
	"fmt"
	"time"

	"github.com/fyrsmithlabs/recalld/internal/embeddings"
	"github.com/fyrsmithlabs/recalld/internal/ingest"
	"github.com/fyrsmithlabs/recalld/internal/logging"
	"github.com/fyrsmithlabs/recalld/internal/vectorindex"
)

// Config is the top-level configuration.
type Config struct {
	Engine     EngineConfig     `koanf:"engine"`
	Embeddings EmbeddingsConfig `koanf:"embeddings"`
	Ingest     IngestConfig     `koanf:"ingest"`
	Logging    LoggingConfig    `koanf:"logging"`
}

// EngineConfig selects and configures the vector index backend.
type EngineConfig struct {
	// Provider is "chromem" (embedded, default) or "qdrant".
	Provider string `koanf:"provider"`

	// Path is the chromem persistence directory. Empty means in-memory.
	Path string `koanf:"path"`

	// Compress enables gzip compression for chromem persistence.
	Compress bool `koanf:"compress"`

	// Host and Port point at the Qdrant gRPC endpoint.
	Host string `koanf:"host"`
	Port int    `koanf:"port"`

	// UseTLS enables TLS on the Qdrant connection.
	UseTLS bool `koanf:"use_tls"`

	// VectorSize must match the embedding model's output dimension.
	VectorSize int `koanf:"vector_size"`

	// MaxRetries and RetryBackoff tune transient-failure retries (qdrant).
	MaxRetries   int           `koanf:"max_retries"`
	RetryBackoff time.Duration `koanf:"retry_backoff"`
}

// EmbeddingsConfig configures the embedding provider.
type EmbeddingsConfig struct {
	// Provider is "fastembed" (default) or "hash".
	Provider string `koanf:"provider"`

	// Model is the embedding model name (fastembed).
	Model string `koanf:"model"`

	// CacheDir is where model files are cached (fastembed).
	CacheDir string `koanf:"cache_dir"`

	// Dimension is the vector size for the hash provider.
	Dimension int `koanf:"dimension"`
}

// IngestConfig configures document chunking.
type IngestConfig struct {
	ChunkSize    int `koanf:"chunk_size"`
	ChunkOverlap int `koanf:"chunk_overlap"`
}

// LoggingConfig configures the logger.
type LoggingConfig struct {
	// Level is debug, info, warn or error. Default: info.
	Level string `koanf:"level"`

	// Format is "json" (default) or "console".
	Format string `koanf:"format"`
}

// EngineConfig translates to the vectorindex package's config.
func (c *Config) EngineConfig() vectorindex.Config {
	return vectorindex.Config{
		Provider: c.Engine.Provider,
		Chromem: vectorindex.ChromemConfig{
			Path:       c.Engine.Path,
			Compress:   c.Engine.Compress,
			VectorSize: c.Engine.VectorSize,
		},
		Qdrant: vectorindex.QdrantConfig{
			Host:         c.Engine.Host,
			Port:         c.Engine.Port,
			VectorSize:   uint64(c.Engine.VectorSize),
			UseTLS:       c.Engine.UseTLS,
			MaxRetries:   c.Engine.MaxRetries,
			RetryBackoff: c.Engine.RetryBackoff,
		},
	}
}

// EmbeddingsConfig translates to the embeddings package's config.
func (c *Config) EmbeddingsConfig() embeddings.ProviderConfig {
	return embeddings.ProviderConfig{
		Provider:  c.Embeddings.Provider,
		Model:     c.Embeddings.Model,
		CacheDir:  c.Embeddings.CacheDir,
		Dimension: c.Embeddings.Dimension,
	}
}

// ChunkerConfig translates to the ingest package's config.
func (c *Config) ChunkerConfig() ingest.ChunkerConfig {
	return ingest.ChunkerConfig{
		ChunkSize:    c.Ingest.ChunkSize,
		ChunkOverlap: c.Ingest.ChunkOverlap,
	}
}

// LoggerConfig translates to the logging package's config.
func (c *Config) LoggerConfig() logging.Config {
	return logging.Config{
		Level:  c.Logging.Level,
		Format: c.Logging.Format,
	}
}

// applyDefaults fills in zero values across all sections.
func applyDefaults(cfg *Config) {
	if cfg.Engine.Provider == "" {
		cfg.Engine.Provider = "chromem"
	}
	if cfg.Engine.Host == "" {
		cfg.Engine.Host = "localhost"
	}
	if cfg.Engine.Port == 0 {
		cfg.Engine.Port = 6334
	}
	if cfg.Engine.VectorSize == 0 {
		cfg.Engine.VectorSize = 384
	}
	if cfg.Engine.MaxRetries == 0 {
		cfg.Engine.MaxRetries = 3
	}
	if cfg.Engine.RetryBackoff == 0 {
		cfg.Engine.RetryBackoff = time.Second
	}
	if cfg.Embeddings.Provider == "" {
		cfg.Embeddings.Provider = "fastembed"
	}
	if cfg.Ingest.ChunkSize == 0 {
		cfg.Ingest.ChunkSize = ingest.DefaultChunkSize
	}
	if cfg.Ingest.ChunkOverlap == 0 {
		cfg.Ingest.ChunkOverlap = ingest.DefaultChunkOverlap
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

// Validate checks all sections, reporting the first failure.
func (c *Config) Validate() error {
	switch c.Engine.Provider {
	case "chromem", "qdrant":
	default:
		return fmt.Errorf("engine: unknown provider %q (supported: chromem, qdrant)", c.Engine.Provider)
	}
	if c.Engine.VectorSize <= 0 {
		return fmt.Errorf("engine: vector_size must be positive, got %d", c.Engine.VectorSize)
	}
	if c.Engine.Provider == "qdrant" {
		if c.Engine.Host == "" {
			return fmt.Errorf("engine: host is required for qdrant")
		}
		if c.Engine.Port <= 0 || c.Engine.Port > 65535 {
			return fmt.Errorf("engine: invalid port %d", c.Engine.Port)
		}
	}

	switch c.Embeddings.Provider {
	case "fastembed", "hash":
	default:
		return fmt.Errorf("embeddings: unknown provider %q (supported: fastembed, hash)", c.Embeddings.Provider)
	}

	chunker := c.ChunkerConfig()
	if err := chunker.Validate(); err != nil {
		return fmt.Errorf("ingest: %w", err)
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging: unknown level %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("logging: unknown format %q", c.Logging.Format)
	}

	return nil
}
