package vectorindex

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	chromem "github.com/philippgille/chromem-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

// chromemTracer for OpenTelemetry instrumentation.
var chromemTracer = otel.Tracer("recalld.vectorindex.chromem")

// ChromemConfig holds configuration for the chromem-go embedded engine.
type ChromemConfig struct {
	// Path is the directory for persistent storage.
	// Empty means in-memory only (no persistence).
	Path string

	// Compress enables gzip compression for stored data.
	Compress bool

	// VectorSize is the expected embedding dimension.
	// Must match the embedder's output dimension.
	// Default: 384 (bge-small-en-v1.5).
	VectorSize int
}

// ApplyDefaults sets default values for unset fields.
func (c *ChromemConfig) ApplyDefaults() {
	if c.VectorSize == 0 {
		c.VectorSize = 384
	}
}

// Validate validates the configuration.
func (c *ChromemConfig) Validate() error {
	if c.VectorSize <= 0 {
		return fmt.Errorf("%w: vector size must be positive", ErrInvalidConfig)
	}
	return nil
}

// ChromemEngine implements Engine using chromem-go.
//
// chromem-go is an embeddable vector database with zero third-party
// dependencies: pure Go, no external service, optional gob persistence.
// Adds with an existing ID replace the stored document, which gives this
// engine native upsert semantics.
type ChromemEngine struct {
	db       *chromem.DB
	embedder Embedder
	config   ChromemConfig
	logger   *zap.Logger
}

// NewChromemEngine creates a ChromemEngine with the given configuration.
func NewChromemEngine(config ChromemConfig, embedder Embedder, logger *zap.Logger) (*ChromemEngine, error) {
	if embedder == nil {
		return nil, fmt.Errorf("%w: embedder is required", ErrInvalidConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	var db *chromem.DB
	if config.Path == "" {
		db = chromem.NewDB()
	} else {
		expanded, err := expandChromemPath(config.Path)
		if err != nil {
			return nil, fmt.Errorf("expanding path: %w", err)
		}
		if err := os.MkdirAll(expanded, 0o755); err != nil {
			return nil, fmt.Errorf("creating directory %s: %w", expanded, err)
		}
		db, err = chromem.NewPersistentDB(expanded, config.Compress)
		if err != nil {
			return nil, fmt.Errorf("creating chromem DB: %w", err)
		}
	}

	logger.Info("chromem engine initialized",
		zap.String("path", config.Path),
		zap.Bool("compress", config.Compress),
		zap.Int("vector_size", config.VectorSize),
	)

	return &ChromemEngine{
		db:       db,
		embedder: embedder,
		config:   config,
		logger:   logger,
	}, nil
}

// expandChromemPath expands ~ to home directory.
func expandChromemPath(path string) (string, error) {
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, path[1:]), nil
	}
	return path, nil
}

// embeddingFunc adapts the Embedder to chromem's embedding function.
func (e *ChromemEngine) embeddingFunc() chromem.EmbeddingFunc {
	return func(ctx context.Context, text string) ([]float32, error) {
		return e.embedder.EmbedQuery(ctx, text)
	}
}

// GetOrCreateCollection returns a handle to the named collection, creating it
// with the given metadata if absent.
func (e *ChromemEngine) GetOrCreateCollection(ctx context.Context, name string, metadata map[string]string) (Collection, error) {
	_, span := chromemTracer.Start(ctx, "ChromemEngine.GetOrCreateCollection")
	defer span.End()

	span.SetAttributes(attribute.String("collection", name))

	if err := ValidateCollectionName(name); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	// Must pass embedding function, not nil, because chromem-go sets the
	// default OpenAI embedder when nil is passed for persisted collections.
	col, err := e.db.GetOrCreateCollection(name, metadata, e.embeddingFunc())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("getting/creating collection %s: %w", name, err)
	}

	span.SetStatus(codes.Ok, "success")
	return &chromemCollection{engine: e, col: col, name: name}, nil
}

// ListCollections returns the names of all existing collections.
func (e *ChromemEngine) ListCollections(ctx context.Context) ([]string, error) {
	_, span := chromemTracer.Start(ctx, "ChromemEngine.ListCollections")
	defer span.End()

	collections := e.db.ListCollections()
	names := make([]string, 0, len(collections))
	for name := range collections {
		names = append(names, name)
	}

	span.SetAttributes(attribute.Int("collection_count", len(names)))
	span.SetStatus(codes.Ok, "success")
	return names, nil
}

// Close closes the engine.
// chromem-go persists automatically, no explicit close needed.
func (e *ChromemEngine) Close() error {
	e.logger.Info("chromem engine closed")
	return nil
}

// chromemCollection is a Collection handle over one chromem collection.
type chromemCollection struct {
	engine *ChromemEngine
	col    *chromem.Collection
	name   string
}

// Name returns the collection name.
func (c *chromemCollection) Name() string { return c.name }

// Add upserts documents. Embeddings are generated in batch before storage.
func (c *chromemCollection) Add(ctx context.Context, docs []Document) error {
	ctx, span := chromemTracer.Start(ctx, "ChromemCollection.Add")
	defer span.End()

	span.SetAttributes(
		attribute.String("collection", c.name),
		attribute.Int("document_count", len(docs)),
	)

	if len(docs) == 0 {
		return ErrEmptyDocuments
	}

	texts := make([]string, len(docs))
	for i, doc := range docs {
		if doc.ID == "" {
			return fmt.Errorf("document at index %d has empty ID", i)
		}
		texts[i] = doc.Content
	}

	embeddings, err := c.engine.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("%w: %w", ErrEmbeddingFailed, err)
	}

	chromemDocs := make([]chromem.Document, len(docs))
	for i, doc := range docs {
		chromemDocs[i] = chromem.Document{
			ID:        doc.ID,
			Content:   doc.Content,
			Metadata:  doc.Metadata,
			Embedding: embeddings[i],
		}
	}

	// Concurrency of 1 since embeddings are already computed.
	if err := c.col.AddDocuments(ctx, chromemDocs, 1); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("adding documents to %s: %w", c.name, err)
	}

	span.SetStatus(codes.Ok, "success")
	c.engine.logger.Debug("added documents to chromem",
		zap.String("collection", c.name),
		zap.Int("count", len(docs)),
	)
	return nil
}

// Get fetches documents by id. chromem reports only absence here, so any
// per-id lookup failure is treated as a miss.
func (c *chromemCollection) Get(ctx context.Context, ids []string) ([]Document, error) {
	ctx, span := chromemTracer.Start(ctx, "ChromemCollection.Get")
	defer span.End()

	span.SetAttributes(
		attribute.String("collection", c.name),
		attribute.Int("id_count", len(ids)),
	)

	docs := make([]Document, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		doc, err := c.col.GetByID(ctx, id)
		if err != nil {
			continue
		}
		docs = append(docs, Document{
			ID:       doc.ID,
			Content:  doc.Content,
			Metadata: doc.Metadata,
		})
	}

	span.SetAttributes(attribute.Int("found", len(docs)))
	span.SetStatus(codes.Ok, "success")
	return docs, nil
}

// List returns every document matching the where filter.
//
// chromem-go has no scan API, so List queries with a constant probe vector
// and nResults equal to the collection size; scores are discarded.
func (c *chromemCollection) List(ctx context.Context, where map[string]string) ([]Document, error) {
	ctx, span := chromemTracer.Start(ctx, "ChromemCollection.List")
	defer span.End()

	span.SetAttributes(attribute.String("collection", c.name))

	count := c.col.Count()
	if count == 0 {
		span.SetStatus(codes.Ok, "empty collection")
		return []Document{}, nil
	}

	probe := make([]float32, c.engine.config.VectorSize)
	probe[0] = 1.0

	results, err := c.col.QueryEmbedding(ctx, probe, count, where, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("listing collection %s: %w", c.name, err)
	}

	docs := make([]Document, len(results))
	for i, r := range results {
		docs[i] = Document{
			ID:       r.ID,
			Content:  r.Content,
			Metadata: r.Metadata,
		}
	}

	span.SetAttributes(attribute.Int("results_count", len(docs)))
	span.SetStatus(codes.Ok, "success")
	return docs, nil
}

// Query performs similarity search restricted to the where filter.
func (c *chromemCollection) Query(ctx context.Context, text string, k int, where map[string]string) ([]Result, error) {
	ctx, span := chromemTracer.Start(ctx, "ChromemCollection.Query")
	defer span.End()

	span.SetAttributes(
		attribute.String("collection", c.name),
		attribute.Int("k", k),
	)

	if k <= 0 {
		return nil, fmt.Errorf("k must be positive, got %d", k)
	}
	if text == "" {
		return nil, fmt.Errorf("query cannot be empty")
	}

	// chromem requires nResults <= document count.
	count := c.col.Count()
	if count == 0 {
		span.SetStatus(codes.Ok, "empty collection")
		return []Result{}, nil
	}
	if k > count {
		k = count
	}

	results, err := c.col.Query(ctx, text, k, where, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("querying collection %s: %w", c.name, err)
	}

	out := make([]Result, len(results))
	for i, r := range results {
		out[i] = Result{
			ID:       r.ID,
			Content:  r.Content,
			Score:    r.Similarity,
			Metadata: r.Metadata,
		}
	}

	span.SetAttributes(attribute.Int("results_count", len(out)))
	span.SetStatus(codes.Ok, "success")
	c.engine.logger.Debug("queried chromem collection",
		zap.String("collection", c.name),
		zap.Int("k", k),
		zap.Int("results", len(out)),
	)
	return out, nil
}

// Update upserts documents, reusing the stored embedding when the content
// is unchanged so metadata-only updates skip the embedder.
func (c *chromemCollection) Update(ctx context.Context, docs []Document) error {
	ctx, span := chromemTracer.Start(ctx, "ChromemCollection.Update")
	defer span.End()

	span.SetAttributes(
		attribute.String("collection", c.name),
		attribute.Int("document_count", len(docs)),
	)

	if len(docs) == 0 {
		return ErrEmptyDocuments
	}

	for _, doc := range docs {
		chromemDoc := chromem.Document{
			ID:       doc.ID,
			Content:  doc.Content,
			Metadata: doc.Metadata,
		}

		if existing, err := c.col.GetByID(ctx, doc.ID); err == nil && existing.Content == doc.Content {
			chromemDoc.Embedding = existing.Embedding
		} else {
			embedding, err := c.engine.embedder.EmbedDocuments(ctx, []string{doc.Content})
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				return fmt.Errorf("%w: %w", ErrEmbeddingFailed, err)
			}
			chromemDoc.Embedding = embedding[0]
		}

		if err := c.col.AddDocument(ctx, chromemDoc); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return fmt.Errorf("updating document %s in %s: %w", doc.ID, c.name, err)
		}
	}

	span.SetStatus(codes.Ok, "success")
	return nil
}

// Delete removes documents by id, collecting per-id failures.
func (c *chromemCollection) Delete(ctx context.Context, ids []string) error {
	ctx, span := chromemTracer.Start(ctx, "ChromemCollection.Delete")
	defer span.End()

	span.SetAttributes(
		attribute.String("collection", c.name),
		attribute.Int("id_count", len(ids)),
	)

	if len(ids) == 0 {
		return nil
	}

	var failures []string
	for _, id := range ids {
		if err := c.col.Delete(ctx, nil, nil, id); err != nil {
			span.RecordError(err)
			c.engine.logger.Error("failed to delete document",
				zap.String("collection", c.name),
				zap.String("id", id),
				zap.Error(err),
			)
			failures = append(failures, id)
		}
	}

	if len(failures) > 0 {
		span.SetStatus(codes.Error, "partial deletion failure")
		return fmt.Errorf("failed to delete %d of %d documents: %v", len(failures), len(ids), failures)
	}

	span.SetStatus(codes.Ok, "success")
	return nil
}

// Count returns the number of documents in the collection.
func (c *chromemCollection) Count(ctx context.Context) (int, error) {
	return c.col.Count(), nil
}

// Ensure interface compliance.
var (
	_ Engine     = (*ChromemEngine)(nil)
	_ Collection = (*chromemCollection)(nil)
)
