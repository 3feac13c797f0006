package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/recalld/internal/extract"
	"github.com/fyrsmithlabs/recalld/internal/memory"
)

// chunkNamespace is the fixed UUIDv5 namespace for chunk ids.
var chunkNamespace = uuid.NewSHA1(uuid.NameSpaceOID, []byte("recalld.chunk"))

// Pipeline ingests raw documents: extract text, split into chunks, store
// each chunk as a document_chunk record.
//
// Chunk ids are a pure function of the document identity and the chunk
// index, and writes are upserts, so re-running an ingestion overwrites
// the same records. A failure partway through leaves the already written
// chunks in place; retrying converges on the full set.
type Pipeline struct {
	extractors *extract.Registry
	chunker    *Chunker
	store      *memory.Store
	logger     *zap.Logger
	tracer     trace.Tracer
}

// NewPipeline creates an ingestion pipeline.
func NewPipeline(extractors *extract.Registry, chunker *Chunker, store *memory.Store, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		extractors: extractors,
		chunker:    chunker,
		store:      store,
		logger:     logger,
		tracer:     otel.Tracer("ingest.pipeline"),
	}
}

// Ingest extracts, chunks and stores a document for a tenant, returning
// the ids of the chunks written. On partial failure the returned ids
// cover the chunks that were stored before the error.
func (p *Pipeline) Ingest(ctx context.Context, tenantID, sourceType, raw string) ([]string, error) {
	ctx, span := p.tracer.Start(ctx, "ingest.ingest",
		trace.WithAttributes(
			attribute.String("tenant_id", tenantID),
			attribute.String("source_type", sourceType),
		))
	defer span.End()

	extractor, err := p.extractors.Lookup(sourceType)
	if err != nil {
		wrapped := fmt.Errorf("%w: %v", memory.ErrValidation, err)
		span.SetStatus(codes.Error, wrapped.Error())
		return nil, wrapped
	}

	text, err := extractor.Extract(ctx, raw)
	if err != nil {
		wrapped := fmt.Errorf("extracting %s: %w: %v", sourceType, memory.ErrEngine, err)
		span.RecordError(wrapped)
		span.SetStatus(codes.Error, wrapped.Error())
		return nil, wrapped
	}

	chunks := p.chunker.Split(text)
	if len(chunks) == 0 {
		err := fmt.Errorf("%w: document has no content after extraction", memory.ErrValidation)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	docID := sourceDocID(tenantID, sourceType, raw)
	written := make([]string, 0, len(chunks))
	for i, chunk := range chunks {
		chunkID := ChunkID(docID, i)
		params := memory.CreateParams{
			Content: chunk,
			Type:    memory.TypeDocumentChunk,
			Meta: map[string]string{
				"source_doc_id": docID,
				"chunk_index":   strconv.Itoa(i),
				"doc_type":      sourceType,
				"source":        sourceType,
			},
		}
		if err := p.store.Upsert(ctx, tenantID, chunkID, params); err != nil {
			wrapped := fmt.Errorf("storing chunk %d/%d of %s: %w", i+1, len(chunks), docID, err)
			span.RecordError(wrapped)
			span.SetStatus(codes.Error, wrapped.Error())
			return written, wrapped
		}
		written = append(written, chunkID)
	}

	p.logger.Info("ingested document",
		zap.String("tenant_id", tenantID),
		zap.String("source_type", sourceType),
		zap.String("source_doc_id", docID),
		zap.Int("chunks", len(written)),
	)
	span.SetAttributes(attribute.Int("chunks", len(written)))
	span.SetStatus(codes.Ok, "")
	return written, nil
}

// sourceDocID derives the stable document identity from the tenant, the
// source type and the raw input bytes.
func sourceDocID(tenantID, sourceType, raw string) string {
	h := sha256.New()
	h.Write([]byte(tenantID))
	h.Write([]byte{0})
	h.Write([]byte(sourceType))
	h.Write([]byte{0})
	h.Write([]byte(raw))
	return "doc_" + hex.EncodeToString(h.Sum(nil)[:8])
}

// ChunkID returns the deterministic id for chunk index of a document.
func ChunkID(sourceDocID string, index int) string {
	return uuid.NewSHA1(chunkNamespace, []byte(sourceDocID+":"+strconv.Itoa(index))).String()
}
