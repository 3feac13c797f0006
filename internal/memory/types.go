// Package memory implements the tenant-isolated semantic memory store:
// record lifecycle, ownership enforcement, metadata merging and
// similarity search over per-tenant collections.
package memory

import (
	"fmt"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/fyrsmithlabs/recalld/internal/vectorindex"
)

// Type classifies a memory record.
type Type string

const (
	// TypeMemory is a plain user memory.
	TypeMemory Type = "memory"
	// TypeConversation is a stored chat turn.
	TypeConversation Type = "conversation"
	// TypeConfig is caller configuration state, excluded from chat context.
	TypeConfig Type = "config"
	// TypeDocumentChunk is a bounded fragment of an ingested document.
	TypeDocumentChunk Type = "document_chunk"
)

// Valid reports whether t is a known record type.
func (t Type) Valid() bool {
	switch t {
	case TypeMemory, TypeConversation, TypeConfig, TypeDocumentChunk:
		return true
	}
	return false
}

// Reserved metadata keys. Caller-supplied metadata never overwrites these:
// on collision the reserved field wins, deterministically.
const (
	metaTenantID  = "tenant_id"
	metaType      = "type"
	metaTags      = "tags"
	metaProjectID = "project_id"
	metaCreatedAt = "created_at"
	metaUpdatedAt = "updated_at"
)

// reservedKeys in stored metadata, owned by the store.
var reservedKeys = []string{metaTenantID, metaType, metaTags, metaProjectID, metaCreatedAt, metaUpdatedAt}

// IsReservedKey reports whether the metadata key is owned by the store.
func IsReservedKey(key string) bool {
	return slices.Contains(reservedKeys, key)
}

// Record is a memory record.
//
// ID and TenantID are immutable after creation; UpdatedAt is refreshed by
// the store on every mutation, never by the caller. The embedding vector
// is owned by the index engine and does not appear here.
type Record struct {
	ID        string
	TenantID  string
	Content   string
	Tags      []string
	ProjectID string
	Type      Type
	CreatedAt time.Time
	UpdatedAt time.Time

	// Meta is the open extension map of caller-supplied fields.
	// Reserved keys are never present here.
	Meta map[string]string
}

// encodeTags joins a deduplicated, sorted tag set for flat metadata storage.
func encodeTags(tags []string) string {
	if len(tags) == 0 {
		return ""
	}
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		tag = strings.TrimSpace(tag)
		if tag == "" {
			continue
		}
		if _, dup := seen[tag]; dup {
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}
	sort.Strings(out)
	return strings.Join(out, ",")
}

// decodeTags splits a stored tag string back into a tag set.
func decodeTags(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	tags := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			tags = append(tags, p)
		}
	}
	return tags
}

// hasAnyTag reports whether the record's tag set intersects the requested
// tag list (logical OR across requested tags).
func hasAnyTag(recordTags []string, requested []string) bool {
	for _, want := range requested {
		if slices.Contains(recordTags, want) {
			return true
		}
	}
	return false
}

// toDocument flattens a record into an engine document. Reserved fields
// are written last so caller metadata can never shadow them.
func toDocument(rec Record) vectorindex.Document {
	metadata := make(map[string]string, len(rec.Meta)+len(reservedKeys))
	for k, v := range rec.Meta {
		if IsReservedKey(k) {
			continue
		}
		metadata[k] = v
	}
	metadata[metaTenantID] = rec.TenantID
	metadata[metaType] = string(rec.Type)
	metadata[metaTags] = encodeTags(rec.Tags)
	metadata[metaProjectID] = rec.ProjectID
	metadata[metaCreatedAt] = rec.CreatedAt.UTC().Format(time.RFC3339Nano)
	metadata[metaUpdatedAt] = rec.UpdatedAt.UTC().Format(time.RFC3339Nano)

	return vectorindex.Document{
		ID:       rec.ID,
		Content:  rec.Content,
		Metadata: metadata,
	}
}

// resultDocument views a query hit as a document for decoding.
func resultDocument(res vectorindex.Result) vectorindex.Document {
	return vectorindex.Document{ID: res.ID, Content: res.Content, Metadata: res.Metadata}
}

// fromDocument rebuilds a record from an engine document.
func fromDocument(doc vectorindex.Document) (Record, error) {
	rec := Record{
		ID:        doc.ID,
		Content:   doc.Content,
		TenantID:  doc.Metadata[metaTenantID],
		Type:      Type(doc.Metadata[metaType]),
		Tags:      decodeTags(doc.Metadata[metaTags]),
		ProjectID: doc.Metadata[metaProjectID],
		Meta:      make(map[string]string),
	}

	var err error
	if raw := doc.Metadata[metaCreatedAt]; raw != "" {
		rec.CreatedAt, err = time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return Record{}, fmt.Errorf("record %s: parsing created_at: %w", doc.ID, err)
		}
	}
	if raw := doc.Metadata[metaUpdatedAt]; raw != "" {
		rec.UpdatedAt, err = time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return Record{}, fmt.Errorf("record %s: parsing updated_at: %w", doc.ID, err)
		}
	}

	for k, v := range doc.Metadata {
		if IsReservedKey(k) {
			continue
		}
		rec.Meta[k] = v
	}
	return rec, nil
}
