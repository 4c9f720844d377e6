package extractor

import (
	"context"
	"strings"
)

// Embedder produces an embedding vector for text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// SignalExtractor produces a Result from feedback content.
type SignalExtractor interface {
	Extract(ctx context.Context, content string) (Result, error)
}

// Adapter is the single boundary the synthesis pipeline talks to.
// Without an LLM every extraction is degraded, which keeps ingestion
// working in development setups.
type Adapter struct {
	llm      SignalExtractor
	embedder Embedder
}

// NewAdapter creates an Adapter. llm may be nil.
func NewAdapter(llm SignalExtractor, embedder Embedder) *Adapter {
	return &Adapter{llm: llm, embedder: embedder}
}

// Extract returns the structured signal for content.
func (a *Adapter) Extract(ctx context.Context, content string) (Result, error) {
	if strings.TrimSpace(content) == "" {
		return Degraded(content, "empty content"), nil
	}
	if a.llm == nil {
		return Degraded(content, "no llm configured"), nil
	}
	return a.llm.Extract(ctx, content)
}

// Embed returns the embedding for text.
func (a *Adapter) Embed(ctx context.Context, text string) ([]float32, error) {
	if a.embedder == nil {
		return nil, ErrUnavailable
	}
	return a.embedder.Embed(ctx, text)
}
