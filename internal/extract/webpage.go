package extract

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	readability "github.com/go-shiori/go-readability"
	"go.uber.org/zap"
)

const defaultFetchTimeout = 30 * time.Second

// WebpageExtractor fetches a URL and extracts its readable text content,
// stripping navigation, ads and boilerplate.
type WebpageExtractor struct {
	client *http.Client
	logger *zap.Logger
}

// NewWebpageExtractor creates a webpage extractor. A nil client gets a
// default with a 30s timeout.
func NewWebpageExtractor(client *http.Client, logger *zap.Logger) *WebpageExtractor {
	if client == nil {
		client = &http.Client{Timeout: defaultFetchTimeout}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebpageExtractor{client: client, logger: logger}
}

// Type returns "webpage".
func (e *WebpageExtractor) Type() string { return "webpage" }

// Extract fetches the URL in raw and returns the page's readable text.
func (e *WebpageExtractor) Extract(ctx context.Context, raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("%w: url is required", ErrEmptyInput)
	}

	pageURL, err := url.ParseRequestURI(raw)
	if err != nil || (pageURL.Scheme != "http" && pageURL.Scheme != "https") {
		return "", fmt.Errorf("%w: invalid url %q", ErrExtraction, raw)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL.String(), nil)
	if err != nil {
		return "", fmt.Errorf("%w: building request: %v", ErrExtraction, err)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: fetching %s: %v", ErrExtraction, pageURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: fetching %s: status %d", ErrExtraction, pageURL, resp.StatusCode)
	}

	article, err := readability.FromReader(resp.Body, pageURL)
	if err != nil {
		return "", fmt.Errorf("%w: parsing %s: %v", ErrExtraction, pageURL, err)
	}

	text := strings.TrimSpace(article.TextContent)
	if text == "" {
		return "", fmt.Errorf("%w: no readable content at %s", ErrExtraction, pageURL)
	}

	e.logger.Debug("extracted webpage",
		zap.String("url", pageURL.String()),
		zap.String("title", article.Title),
		zap.Int("chars", len(text)),
	)
	return text, nil
}

var _ Extractor = (*WebpageExtractor)(nil)
