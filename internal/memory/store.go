package memory

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/recalld/internal/tenant"
	"github.com/fyrsmithlabs/recalld/internal/vectorindex"
)

// Store implements the tenant-scoped memory record lifecycle.
//
// Every operation resolves the caller's collection through the tenant
// registry, so a record can only ever be written into its owner's
// collection. Reads and mutations still verify ownership on the fetched
// record before acting.
type Store struct {
	registry *tenant.Registry
	logger   *zap.Logger
	tracer   trace.Tracer
}

// NewStore creates a Store over the given tenant registry.
func NewStore(registry *tenant.Registry, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		registry: registry,
		logger:   logger,
		tracer:   otel.Tracer("memory.store"),
	}
}

// CreateParams are the caller-supplied fields of a new record.
type CreateParams struct {
	Content   string
	Tags      []string
	ProjectID string
	// Type defaults to TypeMemory when empty.
	Type Type
	// Meta is merged into the stored metadata. Reserved keys are dropped.
	Meta map[string]string
}

// UpdateParams carries a partial update. Nil pointer fields and a nil
// Tags slice mean "leave unchanged"; Meta entries are merged over the
// existing extension map.
type UpdateParams struct {
	Content   *string
	Tags      []string
	ProjectID *string
	Meta      map[string]string
}

// Filters restricts List and Query results. Zero values match everything.
// Type and ProjectID are exact matches; Tags matches records carrying at
// least one of the listed tags.
type Filters struct {
	Type      Type
	ProjectID string
	Tags      []string
}

// Create stores a new record and returns its generated id.
func (s *Store) Create(ctx context.Context, tenantID string, p CreateParams) (string, error) {
	id := uuid.NewString()
	if err := s.Upsert(ctx, tenantID, id, p); err != nil {
		return "", err
	}
	return id, nil
}

// Upsert writes a record under a caller-chosen id, replacing any existing
// record with that id. The ingestion pipeline uses this with deterministic
// chunk ids so re-ingesting a document converges instead of duplicating.
// The id must be a UUID: the Qdrant engine keys points by UUID, so any
// other shape would store on one engine and fail on the other.
//
// When the id already exists, the original created_at is preserved and
// updated_at advances strictly past the previous value.
func (s *Store) Upsert(ctx context.Context, tenantID, id string, p CreateParams) error {
	ctx, span := s.tracer.Start(ctx, "memory.upsert",
		trace.WithAttributes(
			attribute.String("tenant_id", tenantID),
			attribute.String("memory_id", id),
		))
	defer span.End()

	if err := validateCreate(id, p); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	if p.Type == "" {
		p.Type = TypeMemory
	}

	col, err := s.registry.Resolve(ctx, tenantID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return resolveErr(err)
	}

	now := time.Now().UTC()
	rec := Record{
		ID:        id,
		TenantID:  tenantID,
		Content:   p.Content,
		Tags:      p.Tags,
		ProjectID: p.ProjectID,
		Type:      p.Type,
		CreatedAt: now,
		UpdatedAt: now,
		Meta:      p.Meta,
	}

	// Replacing an existing record keeps its creation time and keeps
	// updated_at strictly increasing even within one clock tick.
	if existing, ok, err := s.fetch(ctx, col, id); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	} else if ok {
		if existing.TenantID != tenantID {
			span.SetStatus(codes.Error, ErrAccessDenied.Error())
			return fmt.Errorf("upsert %s: %w", id, ErrAccessDenied)
		}
		rec.CreatedAt = existing.CreatedAt
		rec.UpdatedAt = monotonicAfter(existing.UpdatedAt, now)
	}

	if err := col.Add(ctx, []vectorindex.Document{toDocument(rec)}); err != nil {
		wrapped := engineErr("upsert "+id, err)
		span.RecordError(wrapped)
		span.SetStatus(codes.Error, wrapped.Error())
		return wrapped
	}

	s.logger.Debug("stored memory",
		zap.String("tenant_id", tenantID),
		zap.String("memory_id", id),
		zap.String("type", string(rec.Type)),
	)
	span.SetStatus(codes.Ok, "")
	return nil
}

// Get returns the record with the given id if the tenant owns it.
// A miss on the tenant's own collection is disambiguated: an id that
// exists under another tenant yields ErrAccessDenied, a truly absent id
// yields ErrNotFound.
func (s *Store) Get(ctx context.Context, tenantID, id string) (Record, error) {
	ctx, span := s.tracer.Start(ctx, "memory.get",
		trace.WithAttributes(
			attribute.String("tenant_id", tenantID),
			attribute.String("memory_id", id),
		))
	defer span.End()

	if id == "" {
		return Record{}, fmt.Errorf("%w: memory id is required", ErrValidation)
	}

	col, err := s.registry.Resolve(ctx, tenantID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Record{}, resolveErr(err)
	}

	rec, ok, err := s.fetch(ctx, col, id)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Record{}, err
	}
	if !ok {
		err := s.classifyMiss(ctx, col.Name(), id)
		span.SetStatus(codes.Error, err.Error())
		return Record{}, err
	}
	if rec.TenantID != tenantID {
		span.SetStatus(codes.Error, ErrAccessDenied.Error())
		return Record{}, fmt.Errorf("get %s: %w", id, ErrAccessDenied)
	}

	span.SetStatus(codes.Ok, "")
	return rec, nil
}

// Update applies a partial update to an owned record. Unset fields keep
// their stored values; Meta entries merge over the existing extension map
// with reserved keys still protected. updated_at always advances strictly,
// created_at never changes.
func (s *Store) Update(ctx context.Context, tenantID, id string, p UpdateParams) (Record, error) {
	ctx, span := s.tracer.Start(ctx, "memory.update",
		trace.WithAttributes(
			attribute.String("tenant_id", tenantID),
			attribute.String("memory_id", id),
		))
	defer span.End()

	if p.Content != nil && strings.TrimSpace(*p.Content) == "" {
		err := fmt.Errorf("%w: content cannot be updated to empty", ErrValidation)
		span.SetStatus(codes.Error, err.Error())
		return Record{}, err
	}

	rec, err := s.Get(ctx, tenantID, id)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Record{}, err
	}

	if p.Content != nil {
		rec.Content = *p.Content
	}
	if p.Tags != nil {
		rec.Tags = p.Tags
	}
	if p.ProjectID != nil {
		rec.ProjectID = *p.ProjectID
	}
	if len(p.Meta) > 0 {
		if rec.Meta == nil {
			rec.Meta = make(map[string]string, len(p.Meta))
		}
		for k, v := range p.Meta {
			if IsReservedKey(k) {
				continue
			}
			rec.Meta[k] = v
		}
	}
	rec.UpdatedAt = monotonicAfter(rec.UpdatedAt, time.Now().UTC())

	col, err := s.registry.Resolve(ctx, tenantID)
	if err != nil {
		return Record{}, resolveErr(err)
	}
	if err := col.Update(ctx, []vectorindex.Document{toDocument(rec)}); err != nil {
		wrapped := engineErr("update "+id, err)
		span.RecordError(wrapped)
		span.SetStatus(codes.Error, wrapped.Error())
		return Record{}, wrapped
	}

	s.logger.Debug("updated memory",
		zap.String("tenant_id", tenantID),
		zap.String("memory_id", id),
	)
	span.SetStatus(codes.Ok, "")
	return rec, nil
}

// AssignProject sets the record's project id, creating the association a
// later project-scoped query relies on.
func (s *Store) AssignProject(ctx context.Context, tenantID, id, projectID string) (Record, error) {
	if projectID == "" {
		return Record{}, fmt.Errorf("%w: project id is required", ErrValidation)
	}
	return s.Update(ctx, tenantID, id, UpdateParams{ProjectID: &projectID})
}

// Delete removes an owned record. Deleting an id the tenant does not own
// fails with ErrAccessDenied before any engine delete is issued.
func (s *Store) Delete(ctx context.Context, tenantID, id string) error {
	ctx, span := s.tracer.Start(ctx, "memory.delete",
		trace.WithAttributes(
			attribute.String("tenant_id", tenantID),
			attribute.String("memory_id", id),
		))
	defer span.End()

	// Ownership check first: the fetch distinguishes foreign ids from
	// absent ids and refuses both before touching the engine.
	if _, err := s.Get(ctx, tenantID, id); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	col, err := s.registry.Resolve(ctx, tenantID)
	if err != nil {
		return resolveErr(err)
	}
	if err := col.Delete(ctx, []string{id}); err != nil {
		wrapped := engineErr("delete "+id, err)
		span.RecordError(wrapped)
		span.SetStatus(codes.Error, wrapped.Error())
		return wrapped
	}

	s.logger.Debug("deleted memory",
		zap.String("tenant_id", tenantID),
		zap.String("memory_id", id),
	)
	span.SetStatus(codes.Ok, "")
	return nil
}

// List returns the tenant's records matching the filters, unordered.
// Type and project restrict at the engine; tag matching runs client-side
// because the engine filter model is equality-AND only.
func (s *Store) List(ctx context.Context, tenantID string, f Filters) ([]Record, error) {
	ctx, span := s.tracer.Start(ctx, "memory.list",
		trace.WithAttributes(attribute.String("tenant_id", tenantID)))
	defer span.End()

	if f.Type != "" && !f.Type.Valid() {
		err := fmt.Errorf("%w: unknown type %q", ErrValidation, f.Type)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	col, err := s.registry.Resolve(ctx, tenantID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, resolveErr(err)
	}

	docs, err := col.List(ctx, engineWhere(f))
	if err != nil {
		wrapped := engineErr("list", err)
		span.RecordError(wrapped)
		span.SetStatus(codes.Error, wrapped.Error())
		return nil, wrapped
	}

	records := make([]Record, 0, len(docs))
	for _, doc := range docs {
		rec, err := fromDocument(doc)
		if err != nil {
			s.logger.Warn("skipping undecodable record",
				zap.String("tenant_id", tenantID),
				zap.String("memory_id", doc.ID),
				zap.Error(err),
			)
			continue
		}
		if rec.TenantID != tenantID {
			continue
		}
		if len(f.Tags) > 0 && !hasAnyTag(rec.Tags, f.Tags) {
			continue
		}
		records = append(records, rec)
	}

	span.SetAttributes(attribute.Int("count", len(records)))
	span.SetStatus(codes.Ok, "")
	return records, nil
}

// fetch returns the record with the given id from a collection.
// ok=false means the id is absent, which is not an error here.
func (s *Store) fetch(ctx context.Context, col vectorindex.Collection, id string) (Record, bool, error) {
	docs, err := col.Get(ctx, []string{id})
	if err != nil {
		return Record{}, false, engineErr("fetch "+id, err)
	}
	if len(docs) == 0 {
		return Record{}, false, nil
	}
	rec, err := fromDocument(docs[0])
	if err != nil {
		return Record{}, false, fmt.Errorf("fetch %s: %w: %v", id, ErrEngine, err)
	}
	return rec, true, nil
}

// classifyMiss distinguishes a nonexistent id from an id owned by another
// tenant: it probes the other memory collections for the id and reports
// ErrAccessDenied on a hit. Probe failures degrade to ErrNotFound rather
// than leaking engine errors on the read path.
func (s *Store) classifyMiss(ctx context.Context, ownCollection, id string) error {
	names, err := s.registry.Engine().ListCollections(ctx)
	if err != nil {
		s.logger.Debug("ownership probe skipped", zap.Error(err))
		return fmt.Errorf("get %s: %w", id, ErrNotFound)
	}
	for _, name := range names {
		if name == ownCollection || !tenant.IsMemoryCollection(name) {
			continue
		}
		col, err := s.registry.Engine().GetOrCreateCollection(ctx, name, nil)
		if err != nil {
			continue
		}
		docs, err := col.Get(ctx, []string{id})
		if err != nil || len(docs) == 0 {
			continue
		}
		return fmt.Errorf("get %s: %w", id, ErrAccessDenied)
	}
	return fmt.Errorf("get %s: %w", id, ErrNotFound)
}

// engineWhere builds the equality filter for the exact-match fields.
func engineWhere(f Filters) map[string]string {
	where := make(map[string]string)
	if f.Type != "" {
		where[metaType] = string(f.Type)
	}
	if f.ProjectID != "" {
		where[metaProjectID] = f.ProjectID
	}
	if len(where) == 0 {
		return nil
	}
	return where
}

// monotonicAfter returns now, nudged forward if the clock has not advanced
// past prev since the last write.
func monotonicAfter(prev, now time.Time) time.Time {
	if !now.After(prev) {
		return prev.Add(time.Nanosecond)
	}
	return now
}

func validateCreate(id string, p CreateParams) error {
	if id == "" {
		return fmt.Errorf("%w: memory id is required", ErrValidation)
	}
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("%w: memory id must be a UUID, got %q", ErrValidation, id)
	}
	if strings.TrimSpace(p.Content) == "" {
		return fmt.Errorf("%w: content is required", ErrValidation)
	}
	if p.Type != "" && !p.Type.Valid() {
		return fmt.Errorf("%w: unknown type %q", ErrValidation, p.Type)
	}
	for k := range p.Meta {
		if k == "" {
			return fmt.Errorf("%w: metadata keys cannot be empty", ErrValidation)
		}
	}
	return nil
}
