// Package ingest splits extracted documents into bounded, overlapping
// chunks and writes them as memory records with deterministic ids, so
// re-ingesting the same document converges instead of duplicating.
package ingest

import (
	"errors"
	"fmt"
)

// Sentinel errors for chunking configuration.
var (
	// ErrInvalidChunkConfig indicates an unusable window/overlap pair.
	ErrInvalidChunkConfig = errors.New("invalid chunker configuration")
)

const (
	// DefaultChunkSize is the chunk window in runes.
	DefaultChunkSize = 1000

	// DefaultChunkOverlap is the overlap between consecutive chunks in runes.
	DefaultChunkOverlap = 200
)

// ChunkerConfig controls document splitting.
type ChunkerConfig struct {
	// ChunkSize is the window length in runes. Defaults to 1000.
	ChunkSize int `koanf:"chunk_size"`

	// ChunkOverlap is how many runes consecutive chunks share.
	// Must be smaller than ChunkSize. Defaults to 200.
	ChunkOverlap int `koanf:"chunk_overlap"`
}

// ApplyDefaults fills in zero values.
func (c *ChunkerConfig) ApplyDefaults() {
	if c.ChunkSize == 0 {
		c.ChunkSize = DefaultChunkSize
	}
	if c.ChunkOverlap == 0 {
		c.ChunkOverlap = DefaultChunkOverlap
	}
}

// Validate checks the configuration.
func (c *ChunkerConfig) Validate() error {
	if c.ChunkSize <= 0 {
		return fmt.Errorf("%w: chunk_size must be positive, got %d", ErrInvalidChunkConfig, c.ChunkSize)
	}
	if c.ChunkOverlap < 0 {
		return fmt.Errorf("%w: chunk_overlap cannot be negative, got %d", ErrInvalidChunkConfig, c.ChunkOverlap)
	}
	if c.ChunkOverlap >= c.ChunkSize {
		return fmt.Errorf("%w: chunk_overlap (%d) must be smaller than chunk_size (%d)",
			ErrInvalidChunkConfig, c.ChunkOverlap, c.ChunkSize)
	}
	return nil
}

// Chunker splits text into overlapping windows.
type Chunker struct {
	size    int
	overlap int
}

// NewChunker creates a chunker from the config.
func NewChunker(cfg ChunkerConfig) (*Chunker, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Chunker{size: cfg.ChunkSize, overlap: cfg.ChunkOverlap}, nil
}

// Split cuts text into windows of the configured size, each overlapping
// the previous by the configured amount; the final window may be shorter.
// Splitting happens on runes, so a multi-byte character never straddles
// two chunks. Text at most one window long yields exactly one chunk;
// empty text yields none.
func (c *Chunker) Split(text string) []string {
	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}
	if len(runes) <= c.size {
		return []string{text}
	}

	step := c.size - c.overlap
	chunks := make([]string, 0, (len(runes)-c.overlap+step-1)/step)
	for start := 0; start < len(runes); start += step {
		end := start + c.size
		if end >= len(runes) {
			chunks = append(chunks, string(runes[start:]))
			break
		}
		chunks = append(chunks, string(runes[start:end]))
	}
	return chunks
}
