// Package embedding abstracts the text -> vector model behind a single-method
// capability. Ingestion treats embeddings as enrichment: a provider failure is
// reported to the caller, never fatal to the pipeline.
package embedding

import (
	"context"
	"errors"
	"unicode/utf8"
)

// MaxInputChars bounds the text sent to the provider
const MaxInputChars = 8000

// ErrDisabled is returned when no embedding provider is configured
var ErrDisabled = errors.New("embedding provider disabled")

// Provider produces an embedding vector for a piece of text
type Provider interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

// Disabled is the no-op provider used when embeddings are not configured.
// Every call fails with ErrDisabled, so activities persist with a null
// embedding and the semantic detector stays idle.
type Disabled struct{}

func (Disabled) Embed(_ context.Context, _ string) ([]float64, error) {
	return nil, ErrDisabled
}

// Truncate bounds text to MaxInputChars bytes, backing off to a rune
// boundary so the provider never receives a split multi-byte character
func Truncate(text string) string {
	if len(text) <= MaxInputChars {
		return text
	}
	cut := MaxInputChars
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut]
}
