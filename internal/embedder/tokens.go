package embedder

import (
	"fmt"

	"github.com/tiktoken-go/tokenizer"
)

// Truncator clips text to a token budget using the cl100k_base encoding
// shared by the hosted embedding models.
type Truncator struct {
	codec     tokenizer.Codec
	maxTokens int
}

// NewTruncator creates a truncator that keeps at most maxTokens tokens.
func NewTruncator(maxTokens int) (*Truncator, error) {
	if maxTokens <= 0 {
		return nil, fmt.Errorf("%w: max tokens must be positive, got %d", ErrInvalidInput, maxTokens)
	}
	codec, err := tokenizer.Get(tokenizer.Cl100kBase)
	if err != nil {
		return nil, fmt.Errorf("load cl100k_base: %w", err)
	}
	return &Truncator{codec: codec, maxTokens: maxTokens}, nil
}

// Truncate returns text unchanged when it fits, otherwise the decoded
// prefix of its first maxTokens tokens.
func (t *Truncator) Truncate(text string) (string, error) {
	ids, _, err := t.codec.Encode(text)
	if err != nil {
		return "", fmt.Errorf("encode: %w", err)
	}
	if len(ids) <= t.maxTokens {
		return text, nil
	}
	return t.codec.Decode(ids[:t.maxTokens])
}

// MaxTokens returns the configured budget.
func (t *Truncator) MaxTokens() int {
	return t.maxTokens
}
