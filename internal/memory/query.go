package memory

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/recalld/internal/tenant"
)

// DefaultTopK is used when a query asks for zero or negative results.
const DefaultTopK = 5

// overFetchFactor widens the engine query when a client-side tag filter
// will discard hits afterwards, so the caller still gets up to topK
// survivors.
const overFetchFactor = 10

// Match is one similarity search hit with its decoded record.
type Match struct {
	ID      string
	Content string
	Score   float32
	Record  Record
}

// QueryEngine runs tenant-scoped similarity search over memory records.
type QueryEngine struct {
	registry *tenant.Registry
	logger   *zap.Logger
	tracer   trace.Tracer
}

// NewQueryEngine creates a QueryEngine over the given tenant registry.
func NewQueryEngine(registry *tenant.Registry, logger *zap.Logger) *QueryEngine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &QueryEngine{
		registry: registry,
		logger:   logger,
		tracer:   otel.Tracer("memory.query"),
	}
}

// Query embeds the text and returns up to topK matches from the tenant's
// collection, most similar first.
//
// Type and project filters run inside the engine; tag matching (any-of)
// runs client-side over the hits, with the engine query widened to
// compensate. Every hit's tenant_id metadata is checked against the
// caller even though the query is already collection-scoped: a result
// from another tenant is dropped, never returned.
func (q *QueryEngine) Query(ctx context.Context, tenantID, text string, f Filters, topK int) ([]Match, error) {
	ctx, span := q.tracer.Start(ctx, "memory.query",
		trace.WithAttributes(
			attribute.String("tenant_id", tenantID),
			attribute.Int("top_k", topK),
		))
	defer span.End()

	if strings.TrimSpace(text) == "" {
		err := fmt.Errorf("%w: query text is required", ErrValidation)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if f.Type != "" && !f.Type.Valid() {
		err := fmt.Errorf("%w: unknown type %q", ErrValidation, f.Type)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if topK <= 0 {
		topK = DefaultTopK
	}

	col, err := q.registry.Resolve(ctx, tenantID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, resolveErr(err)
	}

	fetchK := topK
	if len(f.Tags) > 0 {
		fetchK = topK * overFetchFactor
	}

	results, err := col.Query(ctx, text, fetchK, engineWhere(f))
	if err != nil {
		wrapped := engineErr("query", err)
		span.RecordError(wrapped)
		span.SetStatus(codes.Error, wrapped.Error())
		return nil, wrapped
	}

	matches := make([]Match, 0, min(topK, len(results)))
	for _, res := range results {
		if len(matches) == topK {
			break
		}
		if res.Metadata[metaTenantID] != tenantID {
			q.logger.Warn("dropping cross-tenant query hit",
				zap.String("tenant_id", tenantID),
				zap.String("memory_id", res.ID),
			)
			continue
		}
		rec, err := fromDocument(resultDocument(res))
		if err != nil {
			q.logger.Warn("skipping undecodable query hit",
				zap.String("memory_id", res.ID),
				zap.Error(err),
			)
			continue
		}
		if len(f.Tags) > 0 && !hasAnyTag(rec.Tags, f.Tags) {
			continue
		}
		matches = append(matches, Match{
			ID:      res.ID,
			Content: res.Content,
			Score:   res.Score,
			Record:  rec,
		})
	}

	q.logger.Debug("query completed",
		zap.String("tenant_id", tenantID),
		zap.Int("hits", len(matches)),
	)
	span.SetAttributes(attribute.Int("hits", len(matches)))
	span.SetStatus(codes.Ok, "")
	return matches, nil
}
