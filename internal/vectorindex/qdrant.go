package vectorindex

import (
	"context"
	"fmt"
	"time"

	"github.com/qdrant/go-client/qdrant"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	grpccodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// qdrantTracer for OpenTelemetry instrumentation.
var qdrantTracer = otel.Tracer("recalld.vectorindex.qdrant")

// QdrantConfig holds configuration for the Qdrant gRPC engine.
type QdrantConfig struct {
	// Host is the Qdrant server hostname or IP address.
	// Default: "localhost"
	Host string

	// Port is the Qdrant gRPC port (NOT the HTTP REST port).
	// Default: 6334
	Port int

	// VectorSize is the dimensionality of embeddings.
	// MUST match the embedder's output dimension.
	// Default: 384
	VectorSize uint64

	// UseTLS enables TLS encryption for the gRPC connection.
	UseTLS bool

	// MaxRetries is the maximum number of retry attempts for transient
	// failures. Default: 3
	MaxRetries int

	// RetryBackoff is the initial backoff duration for retries.
	// Doubles on each retry. Default: 1 second.
	RetryBackoff time.Duration
}

// ApplyDefaults sets default values for unset fields.
func (c *QdrantConfig) ApplyDefaults() {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = 6334
	}
	if c.VectorSize == 0 {
		c.VectorSize = 384
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.RetryBackoff == 0 {
		c.RetryBackoff = time.Second
	}
}

// Validate validates the configuration.
func (c QdrantConfig) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("%w: host required", ErrInvalidConfig)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("%w: invalid port: %d", ErrInvalidConfig, c.Port)
	}
	if c.VectorSize == 0 {
		return fmt.Errorf("%w: vector size required", ErrInvalidConfig)
	}
	return nil
}

// IsTransientError checks if an error is transient (should retry).
// Returns true for network timeouts and temporary unavailability,
// false for invalid arguments, not found, permission denied.
func IsTransientError(err error) bool {
	if err == nil {
		return false
	}
	st, ok := status.FromError(err)
	if !ok {
		return false
	}
	switch st.Code() {
	case grpccodes.Unavailable, grpccodes.DeadlineExceeded, grpccodes.ResourceExhausted, grpccodes.Aborted:
		return true
	default:
		return false
	}
}

// QdrantEngine implements Engine using the Qdrant gRPC client.
//
// Points are keyed by UUID document ids; content and metadata live in the
// point payload. Transient gRPC failures are retried with exponential
// backoff.
type QdrantEngine struct {
	client   *qdrant.Client
	embedder Embedder
	config   QdrantConfig
	logger   *zap.Logger
}

// NewQdrantEngine creates a QdrantEngine and verifies connectivity.
func NewQdrantEngine(config QdrantConfig, embedder Embedder, logger *zap.Logger) (*QdrantEngine, error) {
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

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   config.Host,
		Port:   config.Port,
		UseTLS: config.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	engine := &QdrantEngine{
		client:   client,
		embedder: embedder,
		config:   config,
		logger:   logger,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := client.HealthCheck(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: health check: %v", ErrConnectionFailed, err)
	}

	logger.Info("qdrant engine initialized",
		zap.String("host", config.Host),
		zap.Int("port", config.Port),
		zap.Uint64("vector_size", config.VectorSize),
	)
	return engine, nil
}

// retryOperation retries an operation with exponential backoff.
func (e *QdrantEngine) retryOperation(ctx context.Context, name string, op func() error) error {
	backoff := e.config.RetryBackoff
	for attempt := 0; attempt <= e.config.MaxRetries; attempt++ {
		err := op()
		if err == nil {
			return nil
		}
		if !IsTransientError(err) {
			return fmt.Errorf("%s failed (permanent): %w", name, err)
		}
		if attempt == e.config.MaxRetries {
			return fmt.Errorf("%s failed after %d retries: %w", name, e.config.MaxRetries, err)
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%s canceled: %w", name, ctx.Err())
		case <-time.After(backoff):
			backoff *= 2
		}
	}
	return nil
}

// GetOrCreateCollection returns a handle to the named collection, creating it
// with cosine distance if absent. Creation races resolve to the existing
// collection.
func (e *QdrantEngine) GetOrCreateCollection(ctx context.Context, name string, metadata map[string]string) (Collection, error) {
	ctx, span := qdrantTracer.Start(ctx, "QdrantEngine.GetOrCreateCollection")
	defer span.End()

	span.SetAttributes(attribute.String("collection", name))

	if err := ValidateCollectionName(name); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	exists, err := e.client.CollectionExists(ctx, name)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("checking collection %s: %w", name, err)
	}

	if !exists {
		err := e.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: name,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     e.config.VectorSize,
				Distance: qdrant.Distance_Cosine,
			}),
		})
		if err != nil {
			// Concurrent creation: another caller won the race.
			if again, checkErr := e.client.CollectionExists(ctx, name); checkErr != nil || !again {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				return nil, fmt.Errorf("creating collection %s: %w", name, err)
			}
		} else {
			e.logger.Info("created qdrant collection",
				zap.String("collection", name),
				zap.Uint64("vector_size", e.config.VectorSize),
			)
		}
	}

	span.SetStatus(codes.Ok, "success")
	return &qdrantCollection{engine: e, name: name}, nil
}

// ListCollections returns the names of all existing collections.
func (e *QdrantEngine) ListCollections(ctx context.Context) ([]string, error) {
	ctx, span := qdrantTracer.Start(ctx, "QdrantEngine.ListCollections")
	defer span.End()

	names, err := e.client.ListCollections(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("listing collections: %w", err)
	}

	span.SetAttributes(attribute.Int("collection_count", len(names)))
	span.SetStatus(codes.Ok, "success")
	return names, nil
}

// Close closes the gRPC connection.
func (e *QdrantEngine) Close() error {
	if e.client != nil {
		return e.client.Close()
	}
	return nil
}

// qdrantCollection is a Collection handle over one Qdrant collection.
type qdrantCollection struct {
	engine *QdrantEngine
	name   string
}

// Name returns the collection name.
func (c *qdrantCollection) Name() string { return c.name }

// toPayload builds a point payload from content and metadata. The content
// and id fields are written last so a metadata key with the same name can
// never shadow the stored document.
func toPayload(doc Document) map[string]*qdrant.Value {
	payload := make(map[string]*qdrant.Value, len(doc.Metadata)+2)
	for k, v := range doc.Metadata {
		payload[k] = &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: v}}
	}
	payload["content"] = &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: doc.Content}}
	payload["id"] = &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: doc.ID}}
	return payload
}

// fromPayload extracts id, content and metadata from a point payload.
func fromPayload(payload map[string]*qdrant.Value) (id, content string, metadata map[string]string) {
	metadata = make(map[string]string, len(payload))
	for k, v := range payload {
		sv, ok := v.Kind.(*qdrant.Value_StringValue)
		if !ok {
			continue
		}
		switch k {
		case "content":
			content = sv.StringValue
		case "id":
			id = sv.StringValue
		default:
			metadata[k] = sv.StringValue
		}
	}
	return id, content, metadata
}

// toFilter converts a where map to a Qdrant keyword-match filter.
func toFilter(where map[string]string) *qdrant.Filter {
	if len(where) == 0 {
		return nil
	}
	conditions := make([]*qdrant.Condition, 0, len(where))
	for key, value := range where {
		conditions = append(conditions, &qdrant.Condition{
			ConditionOneOf: &qdrant.Condition_Field{
				Field: &qdrant.FieldCondition{
					Key: key,
					Match: &qdrant.Match{
						MatchValue: &qdrant.Match_Keyword{Keyword: value},
					},
				},
			},
		})
	}
	return &qdrant.Filter{Must: conditions}
}

// upsert embeds and writes documents as points.
func (c *qdrantCollection) upsert(ctx context.Context, docs []Document) error {
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
		return fmt.Errorf("%w: %w", ErrEmbeddingFailed, err)
	}

	points := make([]*qdrant.PointStruct, len(docs))
	for i, doc := range docs {
		points[i] = &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(doc.ID),
			Vectors: qdrant.NewVectors(embeddings[i]...),
			Payload: toPayload(doc),
		}
	}

	return c.engine.retryOperation(ctx, "upsert", func() error {
		_, err := c.engine.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: c.name,
			Points:         points,
		})
		return err
	})
}

// Add upserts documents.
func (c *qdrantCollection) Add(ctx context.Context, docs []Document) error {
	ctx, span := qdrantTracer.Start(ctx, "QdrantCollection.Add")
	defer span.End()

	span.SetAttributes(
		attribute.String("collection", c.name),
		attribute.Int("document_count", len(docs)),
	)

	if err := c.upsert(ctx, docs); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("upserting points to collection %s: %w", c.name, err)
	}

	span.SetStatus(codes.Ok, "success")
	return nil
}

// Update upserts documents. Always re-embeds; embedding reuse for
// unchanged content is only implemented by the embedded engine.
func (c *qdrantCollection) Update(ctx context.Context, docs []Document) error {
	return c.Add(ctx, docs)
}

// Get fetches documents by point id. Absent ids are skipped.
func (c *qdrantCollection) Get(ctx context.Context, ids []string) ([]Document, error) {
	ctx, span := qdrantTracer.Start(ctx, "QdrantCollection.Get")
	defer span.End()

	span.SetAttributes(
		attribute.String("collection", c.name),
		attribute.Int("id_count", len(ids)),
	)

	pointIDs := make([]*qdrant.PointId, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		pointIDs = append(pointIDs, qdrant.NewIDUUID(id))
	}
	if len(pointIDs) == 0 {
		return []Document{}, nil
	}

	var points []*qdrant.RetrievedPoint
	err := c.engine.retryOperation(ctx, "get", func() error {
		res, err := c.engine.client.Get(ctx, &qdrant.GetPoints{
			CollectionName: c.name,
			Ids:            pointIDs,
			WithPayload:    qdrant.NewWithPayload(true),
		})
		if err != nil {
			return err
		}
		points = res
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("getting points from collection %s: %w", c.name, err)
	}

	docs := make([]Document, 0, len(points))
	for _, point := range points {
		id, content, metadata := fromPayload(point.Payload)
		docs = append(docs, Document{ID: id, Content: content, Metadata: metadata})
	}

	span.SetAttributes(attribute.Int("found", len(docs)))
	span.SetStatus(codes.Ok, "success")
	return docs, nil
}

// List scrolls every document matching the where filter.
func (c *qdrantCollection) List(ctx context.Context, where map[string]string) ([]Document, error) {
	ctx, span := qdrantTracer.Start(ctx, "QdrantCollection.List")
	defer span.End()

	span.SetAttributes(attribute.String("collection", c.name))

	count, err := c.Count(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if count == 0 {
		span.SetStatus(codes.Ok, "empty collection")
		return []Document{}, nil
	}

	var points []*qdrant.RetrievedPoint
	err = c.engine.retryOperation(ctx, "scroll", func() error {
		res, err := c.engine.client.Scroll(ctx, &qdrant.ScrollPoints{
			CollectionName: c.name,
			Filter:         toFilter(where),
			Limit:          qdrant.PtrOf(uint32(count)),
			WithPayload:    qdrant.NewWithPayload(true),
		})
		if err != nil {
			return err
		}
		points = res
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("scrolling collection %s: %w", c.name, err)
	}

	docs := make([]Document, 0, len(points))
	for _, point := range points {
		id, content, metadata := fromPayload(point.Payload)
		docs = append(docs, Document{ID: id, Content: content, Metadata: metadata})
	}

	span.SetAttributes(attribute.Int("results_count", len(docs)))
	span.SetStatus(codes.Ok, "success")
	return docs, nil
}

// Query performs similarity search restricted to the where filter.
func (c *qdrantCollection) Query(ctx context.Context, text string, k int, where map[string]string) ([]Result, error) {
	ctx, span := qdrantTracer.Start(ctx, "QdrantCollection.Query")
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

	queryVector, err := c.engine.embedder.EmbedQuery(ctx, text)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("%w: %w", ErrEmbeddingFailed, err)
	}

	var scored []*qdrant.ScoredPoint
	err = c.engine.retryOperation(ctx, "query", func() error {
		res, err := c.engine.client.Query(ctx, &qdrant.QueryPoints{
			CollectionName: c.name,
			Query:          qdrant.NewQuery(queryVector...),
			Limit:          qdrant.PtrOf(uint64(k)),
			WithPayload:    qdrant.NewWithPayload(true),
			Filter:         toFilter(where),
		})
		if err != nil {
			return err
		}
		scored = res
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("searching collection %s: %w", c.name, err)
	}

	results := make([]Result, len(scored))
	for i, point := range scored {
		id, content, metadata := fromPayload(point.Payload)
		results[i] = Result{
			ID:       id,
			Content:  content,
			Score:    point.Score,
			Metadata: metadata,
		}
	}

	span.SetAttributes(attribute.Int("results_count", len(results)))
	span.SetStatus(codes.Ok, "success")
	return results, nil
}

// Delete removes documents by point id.
func (c *qdrantCollection) Delete(ctx context.Context, ids []string) error {
	ctx, span := qdrantTracer.Start(ctx, "QdrantCollection.Delete")
	defer span.End()

	span.SetAttributes(
		attribute.String("collection", c.name),
		attribute.Int("id_count", len(ids)),
	)

	if len(ids) == 0 {
		return nil
	}

	pointIDs := make([]*qdrant.PointId, 0, len(ids))
	for _, id := range ids {
		pointIDs = append(pointIDs, qdrant.NewIDUUID(id))
	}

	err := c.engine.retryOperation(ctx, "delete", func() error {
		_, err := c.engine.client.Delete(ctx, &qdrant.DeletePoints{
			CollectionName: c.name,
			Points:         qdrant.NewPointsSelector(pointIDs...),
		})
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("deleting points from collection %s: %w", c.name, err)
	}

	span.SetStatus(codes.Ok, "success")
	return nil
}

// Count returns the exact number of points in the collection.
func (c *qdrantCollection) Count(ctx context.Context) (int, error) {
	var count uint64
	err := c.engine.retryOperation(ctx, "count", func() error {
		res, err := c.engine.client.Count(ctx, &qdrant.CountPoints{
			CollectionName: c.name,
			Exact:          qdrant.PtrOf(true),
		})
		if err != nil {
			return err
		}
		count = res
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("counting collection %s: %w", c.name, err)
	}
	return int(count), nil
}

// Ensure interface compliance.
var (
	_ Engine     = (*QdrantEngine)(nil)
	_ Collection = (*qdrantCollection)(nil)
)
