package extract

import (
	"context"
	"fmt"
	"strings"
)

// TextExtractor passes plain text through unchanged.
type TextExtractor struct{}

// NewTextExtractor creates a plain text extractor.
func NewTextExtractor() *TextExtractor { return &TextExtractor{} }

// Type returns "text".
func (e *TextExtractor) Type() string { return "text" }

// Extract returns the trimmed input.
func (e *TextExtractor) Extract(_ context.Context, raw string) (string, error) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return "", fmt.Errorf("%w: text is required", ErrEmptyInput)
	}
	return text, nil
}

var _ Extractor = (*TextExtractor)(nil)
