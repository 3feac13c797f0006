package extract

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
	"go.uber.org/zap"
)

// PDFExtractor decodes a base64-encoded PDF and extracts its plain text.
type PDFExtractor struct {
	logger *zap.Logger
}

// NewPDFExtractor creates a PDF extractor.
func NewPDFExtractor(logger *zap.Logger) *PDFExtractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PDFExtractor{logger: logger}
}

// Type returns "pdf".
func (e *PDFExtractor) Type() string { return "pdf" }

// Extract decodes raw as base64 PDF bytes and returns the document text.
func (e *PDFExtractor) Extract(ctx context.Context, raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("%w: pdf data is required", ErrEmptyInput)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	data, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return "", fmt.Errorf("%w: decoding base64 pdf: %v", ErrExtraction, err)
	}

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("%w: opening pdf: %v", ErrExtraction, err)
	}

	plain, err := reader.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("%w: reading pdf text: %v", ErrExtraction, err)
	}

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(plain); err != nil {
		return "", fmt.Errorf("%w: reading pdf text: %v", ErrExtraction, err)
	}

	text := strings.TrimSpace(buf.String())
	if text == "" {
		return "", fmt.Errorf("%w: pdf contains no extractable text", ErrExtraction)
	}

	e.logger.Debug("extracted pdf",
		zap.Int("pages", reader.NumPage()),
		zap.Int("chars", len(text)),
	)
	return text, nil
}

var _ Extractor = (*PDFExtractor)(nil)
