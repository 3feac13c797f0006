// Package tenant resolves tenant identifiers to their vector index
// collections. Every tenant owns exactly one collection; the registry
// caches handles and guarantees at-most-one creation per tenant within
// a process.
package tenant

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/recalld/internal/vectorindex"
)

// Sentinel errors for tenant resolution.
var (
	// ErrInvalidTenant is returned when the tenant identifier is empty.
	ErrInvalidTenant = errors.New("invalid tenant identifier")
)

const (
	collectionPrefix = "user_"
	collectionSuffix = "_memories"
)

// CollectionName returns the deterministic collection name for a tenant.
// Layout: user_{sanitized tenant id}_memories. The tenant id is sanitized
// to the engine's collection charset; the raw id is preserved in the
// collection metadata.
func CollectionName(tenantID string) string {
	return collectionPrefix + sanitize(tenantID) + collectionSuffix
}

// IsMemoryCollection reports whether a collection name follows the
// per-tenant memory collection layout.
func IsMemoryCollection(name string) bool {
	return strings.HasPrefix(name, collectionPrefix) &&
		strings.HasSuffix(name, collectionSuffix) &&
		len(name) > len(collectionPrefix)+len(collectionSuffix)
}

// sanitize lowercases and maps a tenant id onto [a-z0-9_]. When nothing
// survives sanitization, a hash prefix avoids collisions between distinct
// all-symbol ids.
func sanitize(s string) string {
	original := s
	s = strings.ToLower(s)
	var result strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z':
			result.WriteRune(r)
		case r >= '0' && r <= '9':
			result.WriteRune(r)
		case r == '-' || r == ' ' || r == '_' || r == '.':
			result.WriteRune('_')
		}
	}
	if result.Len() == 0 {
		hash := sha256.Sum256([]byte(original))
		return "h_" + hex.EncodeToString(hash[:8])
	}
	return result.String()
}

// Registry maps tenant ids to lazily created, cached collection handles.
//
// Concurrency: double-checked locking around the handle cache means two
// concurrent first-calls for a never-seen tenant resolve to a single
// collection; the engine's get-or-create is itself idempotent, so even a
// race that reaches the engine twice cannot create two collections.
type Registry struct {
	engine vectorindex.Engine
	logger *zap.Logger

	mu    sync.RWMutex
	cache map[string]vectorindex.Collection
}

// NewRegistry creates a Registry over the given engine.
func NewRegistry(engine vectorindex.Engine, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		engine: engine,
		logger: logger,
		cache:  make(map[string]vectorindex.Collection),
	}
}

// Resolve returns the collection handle for a tenant, creating the
// collection on first use. Idempotent: repeated calls return a handle to
// the same underlying collection whether or not it pre-existed.
func (r *Registry) Resolve(ctx context.Context, tenantID string) (vectorindex.Collection, error) {
	if tenantID == "" {
		return nil, ErrInvalidTenant
	}

	r.mu.RLock()
	col, ok := r.cache[tenantID]
	r.mu.RUnlock()
	if ok {
		return col, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Double-check after acquiring the write lock.
	if col, ok := r.cache[tenantID]; ok {
		return col, nil
	}

	name := CollectionName(tenantID)
	col, err := r.engine.GetOrCreateCollection(ctx, name, map[string]string{
		"space":     "cosine",
		"tenant_id": tenantID,
	})
	if err != nil {
		return nil, fmt.Errorf("resolving tenant %s: %w", tenantID, err)
	}

	r.cache[tenantID] = col
	r.logger.Debug("resolved tenant collection",
		zap.String("tenant_id", tenantID),
		zap.String("collection", name),
	)
	return col, nil
}

// Known returns the tenant ids with cached collection handles.
func (r *Registry) Known() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.cache))
	for id := range r.cache {
		ids = append(ids, id)
	}
	return ids
}

// Engine exposes the underlying index engine for cross-collection
// diagnostics (ownership probes on record miss).
func (r *Registry) Engine() vectorindex.Engine {
	return r.engine
}
