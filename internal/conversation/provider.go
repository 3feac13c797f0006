// Package conversation builds chat context from stored memories and
// records finished turns back into the store.
package conversation

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/recalld/internal/memory"
)

// DefaultContextSize is how many context snippets GetContext returns when
// the caller does not say.
const DefaultContextSize = 3

// contextTypes are the record types eligible for chat context. Config
// records are never surfaced to conversations.
var contextTypes = []memory.Type{memory.TypeConversation, memory.TypeDocumentChunk}

// Provider assembles conversation context and persists chat turns.
type Provider struct {
	store  *memory.Store
	query  *memory.QueryEngine
	logger *zap.Logger
	tracer trace.Tracer
}

// NewProvider creates a conversation context provider.
func NewProvider(store *memory.Store, query *memory.QueryEngine, logger *zap.Logger) *Provider {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provider{
		store:  store,
		query:  query,
		logger: logger,
		tracer: otel.Tracer("conversation.provider"),
	}
}

// GetContext returns up to k snippets relevant to the query, most similar
// first. k defaults to 3. Only conversation and document chunk records
// qualify; config records are excluded by construction.
//
// The underlying engine filter is equality-AND, so one query runs per
// eligible type and the hits are merged by descending score.
func (p *Provider) GetContext(ctx context.Context, tenantID, query string, k int) ([]string, error) {
	ctx, span := p.tracer.Start(ctx, "conversation.get_context",
		trace.WithAttributes(
			attribute.String("tenant_id", tenantID),
			attribute.Int("k", k),
		))
	defer span.End()

	if strings.TrimSpace(query) == "" {
		err := fmt.Errorf("%w: query is required", memory.ErrValidation)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if k <= 0 {
		k = DefaultContextSize
	}

	var merged []memory.Match
	for _, typ := range contextTypes {
		matches, err := p.query.Query(ctx, tenantID, query, memory.Filters{Type: typ}, k)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, fmt.Errorf("querying %s context: %w", typ, err)
		}
		merged = append(merged, matches...)
	}

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Score > merged[j].Score
	})
	if len(merged) > k {
		merged = merged[:k]
	}

	snippets := make([]string, len(merged))
	for i, m := range merged {
		snippets[i] = m.Content
	}

	p.logger.Debug("assembled conversation context",
		zap.String("tenant_id", tenantID),
		zap.Int("snippets", len(snippets)),
	)
	span.SetAttributes(attribute.Int("snippets", len(snippets)))
	span.SetStatus(codes.Ok, "")
	return snippets, nil
}

// StoreTurn persists one completed exchange as a conversation record and
// returns its id. Turns are append-only; there is no update path.
func (p *Provider) StoreTurn(ctx context.Context, tenantID, userText, assistantText string, extra map[string]string) (string, error) {
	ctx, span := p.tracer.Start(ctx, "conversation.store_turn",
		trace.WithAttributes(attribute.String("tenant_id", tenantID)))
	defer span.End()

	if strings.TrimSpace(userText) == "" && strings.TrimSpace(assistantText) == "" {
		err := fmt.Errorf("%w: empty conversation turn", memory.ErrValidation)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}

	content := fmt.Sprintf("User: %s\nAssistant: %s", userText, assistantText)
	id, err := p.store.Create(ctx, tenantID, memory.CreateParams{
		Content: content,
		Tags:    []string{"conversation"},
		Type:    memory.TypeConversation,
		Meta:    extra,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", fmt.Errorf("storing conversation turn: %w", err)
	}

	p.logger.Debug("stored conversation turn",
		zap.String("tenant_id", tenantID),
		zap.String("memory_id", id),
	)
	span.SetStatus(codes.Ok, "")
	return id, nil
}
