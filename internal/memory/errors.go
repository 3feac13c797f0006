package memory

import (
	"context"
	"errors"
	"fmt"

	"github.com/fyrsmithlabs/recalld/internal/tenant"
)

// Error kinds for memory operations. Callers branch on these with
// errors.Is to map them to externally visible behavior: ErrAccessDenied
// and ErrNotFound are terminal, ErrEngine and deadline errors are
// retryable.
var (
	// ErrNotFound is returned when a record (or its collection) is absent.
	ErrNotFound = errors.New("memory not found")

	// ErrAccessDenied is returned on a tenant-ownership mismatch.
	// The check runs before any mutation, even when the lookup is already
	// tenant-scoped.
	ErrAccessDenied = errors.New("access denied: memory belongs to another tenant")

	// ErrValidation is returned for empty content, unsupported types and
	// malformed filters.
	ErrValidation = errors.New("validation failed")

	// ErrEngine wraps failures from the index engine or an extractor.
	// Treated as retryable by callers.
	ErrEngine = errors.New("index engine failure")
)

// engineErr wraps an engine failure, preserving deadline errors so callers
// can distinguish timeouts (retry with backoff) from other engine faults.
func engineErr(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %v", op, ErrEngine, err)
}

// resolveErr classifies a tenant resolution failure: a bad tenant id is a
// validation error, anything else is an engine fault.
func resolveErr(err error) error {
	if errors.Is(err, tenant.ErrInvalidTenant) {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return engineErr("resolving tenant", err)
}
