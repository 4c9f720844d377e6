package extractor

import (
	"fmt"

	"github.com/tiktoken-go/tokenizer"
)

// TokenBudget truncates extractor input to a maximum number of tokens.
type TokenBudget struct {
	codec     tokenizer.Codec
	maxTokens int
}

// NewTokenBudget creates a budget using the cl100k_base encoding.
// A non-positive maxTokens disables truncation.
func NewTokenBudget(maxTokens int) (*TokenBudget, error) {
	codec, err := tokenizer.Get(tokenizer.Cl100kBase)
	if err != nil {
		return nil, fmt.Errorf("load tokenizer: %w", err)
	}
	return &TokenBudget{codec: codec, maxTokens: maxTokens}, nil
}

// Fit returns text cut to the budget and whether it was truncated.
func (b *TokenBudget) Fit(text string) (string, bool) {
	if b == nil || b.maxTokens <= 0 {
		return text, false
	}

	ids, _, err := b.codec.Encode(text)
	if err != nil || len(ids) <= b.maxTokens {
		return text, false
	}

	out, err := b.codec.Decode(ids[:b.maxTokens])
	if err != nil {
		return text, false
	}
	return out, true
}

// Count returns the number of tokens in text, or -1 if it cannot be encoded.
func (b *TokenBudget) Count(text string) int {
	ids, _, err := b.codec.Encode(text)
	if err != nil {
		return -1
	}
	return len(ids)
}
