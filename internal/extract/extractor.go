// Package extract turns raw ingestion sources (URLs, encoded documents)
// into plain text. Each source type has one extractor; the registry maps
// type names to extractors for the ingestion pipeline.
package extract

import (
	"context"
	"errors"
	"fmt"
	"sort"
)

// Sentinel errors for extraction.
var (
	// ErrUnsupportedType is returned for a source type with no extractor.
	ErrUnsupportedType = errors.New("unsupported source type")

	// ErrEmptyInput is returned for empty raw input.
	ErrEmptyInput = errors.New("empty input")

	// ErrExtraction wraps source fetch and parse failures.
	ErrExtraction = errors.New("extraction failed")
)

// Extractor converts one kind of raw input into plain text.
type Extractor interface {
	// Type returns the source type this extractor handles.
	Type() string

	// Extract converts raw input into plain text.
	Extract(ctx context.Context, raw string) (string, error)
}

// Registry maps source types to extractors.
type Registry struct {
	extractors map[string]Extractor
}

// NewRegistry creates a registry holding the given extractors.
func NewRegistry(extractors ...Extractor) *Registry {
	r := &Registry{extractors: make(map[string]Extractor, len(extractors))}
	for _, e := range extractors {
		r.extractors[e.Type()] = e
	}
	return r
}

// Lookup returns the extractor for a source type.
func (r *Registry) Lookup(sourceType string) (Extractor, error) {
	e, ok := r.extractors[sourceType]
	if !ok {
		return nil, fmt.Errorf("%w: %q (supported: %v)", ErrUnsupportedType, sourceType, r.Types())
	}
	return e, nil
}

// Types returns the registered source types, sorted.
func (r *Registry) Types() []string {
	types := make([]string, 0, len(r.extractors))
	for t := range r.extractors {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
