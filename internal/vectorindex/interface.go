// Package vectorindex defines the contract for the vector index engine
// backing tenant memory collections, plus its implementations.
package vectorindex

import (
	"context"
	"errors"
	"fmt"
	"regexp"
)

// Sentinel errors for index engine operations.
var (
	// ErrCollectionNotFound is returned when a collection does not exist.
	ErrCollectionNotFound = errors.New("collection not found")

	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrInvalidCollectionName indicates collection name validation failure.
	ErrInvalidCollectionName = errors.New("invalid collection name")

	// ErrEmptyDocuments indicates empty or nil documents.
	ErrEmptyDocuments = errors.New("empty or nil documents")

	// ErrEmbeddingFailed indicates embedding generation failure.
	ErrEmbeddingFailed = errors.New("failed to generate embeddings")

	// ErrConnectionFailed indicates the engine backend is unreachable.
	ErrConnectionFailed = errors.New("failed to connect to index engine")
)

// collectionNamePattern validates collection names.
// Pattern: lowercase letters, numbers, underscores, 1-64 characters.
var collectionNamePattern = regexp.MustCompile(`^[a-z0-9_]{1,64}$`)

// ValidateCollectionName validates a collection name against security rules.
// Rejects uppercase, special chars, path traversal, spaces.
func ValidateCollectionName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: collection name cannot be empty", ErrInvalidCollectionName)
	}
	if !collectionNamePattern.MatchString(name) {
		return fmt.Errorf("%w: collection name must match pattern ^[a-z0-9_]{1,64}$, got %q", ErrInvalidCollectionName, name)
	}
	return nil
}

// Embedder generates vector embeddings from text.
//
// Embeddings are dense numerical representations that capture semantic
// meaning, enabling similarity search. Implementations can use local ONNX
// models or remote APIs.
type Embedder interface {
	// EmbedDocuments generates embeddings for multiple texts.
	// Returns one embedding per input text, in order.
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)

	// EmbedQuery generates an embedding for a single query.
	// Some models optimize differently for queries vs documents.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Document is a stored unit in a collection: text plus flat string metadata.
// The embedding is owned by the engine and never surfaces here.
type Document struct {
	// ID is the unique identifier within the collection.
	ID string

	// Content is the text content of the document.
	Content string

	// Metadata contains key-value pairs used for exact-match filtering.
	Metadata map[string]string
}

// Result is a similarity search hit.
type Result struct {
	// ID is the document identifier.
	ID string

	// Content is the document text content.
	Content string

	// Score is the similarity score (higher = more similar).
	Score float32

	// Metadata contains the document metadata.
	Metadata map[string]string
}

// Engine is the entry point to a vector index backend.
//
// Implementations:
//   - ChromemEngine: embedded chromem-go (default, pure Go)
//   - QdrantEngine: external Qdrant over gRPC
type Engine interface {
	// GetOrCreateCollection returns a handle to the named collection,
	// creating it if absent. Idempotent: repeated calls for the same name
	// return a handle to the same underlying collection. The metadata is
	// recorded at creation time (similarity space, tenant id) and ignored
	// if the collection already exists.
	GetOrCreateCollection(ctx context.Context, name string, metadata map[string]string) (Collection, error)

	// ListCollections returns the names of all existing collections.
	ListCollections(ctx context.Context) ([]string, error)

	// Close releases engine resources.
	Close() error
}

// Collection is a handle to one named collection.
//
// The where filters passed to Get-style and Query operations are exact-match
// metadata equality conditions combined by AND; richer semantics (tag any-of
// matching) are layered above this contract by callers.
type Collection interface {
	// Name returns the collection name.
	Name() string

	// Add upserts documents: a document whose ID already exists is
	// replaced. Documents are embedded before storage.
	Add(ctx context.Context, docs []Document) error

	// Get fetches documents by id. Absent ids are skipped, not errors.
	Get(ctx context.Context, ids []string) ([]Document, error)

	// List returns every document matching the where filter.
	// A nil or empty filter returns all documents.
	List(ctx context.Context, where map[string]string) ([]Document, error)

	// Query performs similarity search, returning up to k results ordered
	// by descending score, restricted to documents matching where.
	Query(ctx context.Context, text string, k int, where map[string]string) ([]Result, error)

	// Update upserts documents, reusing stored embeddings where the
	// implementation can detect unchanged content.
	Update(ctx context.Context, docs []Document) error

	// Delete removes documents by id.
	Delete(ctx context.Context, ids []string) error

	// Count returns the number of documents in the collection.
	Count(ctx context.Context) (int, error)
}
