package provider

import (
	"context"
	"errors"

	"github.com/cenkalti/backoff/v5"

	"github.com/memfuse/memfuse/core"
)

// Embedder converts text into a vector embedding.
type Embedder interface {
	// Embed returns the embedding of text. Implementations should return
	// core.ErrRateLimited or core.ErrProviderUnavailable for transient
	// failures so callers can retry.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Dimensions returns the embedding size.
	Dimensions() int
}

// Completer generates a text completion from a system prompt and user prompt.
type Completer interface {
	Complete(ctx context.Context, system, prompt string) (string, error)
}

// Info contains metadata about a provider implementation.
type Info struct {
	Name     string `json:"name"`
	Provider string `json:"provider"` // "openai", "anthropic", "mock", etc.
}

// Retryable reports whether an error is worth retrying.
func Retryable(err error) bool {
	return errors.Is(err, core.ErrRateLimited) || errors.Is(err, core.ErrProviderUnavailable)
}

// WithRetry runs op with exponential backoff, retrying only transient
// provider errors. Non-retryable errors abort immediately.
func WithRetry[T any](ctx context.Context, maxTries uint, op func() (T, error)) (T, error) {
	wrapped := func() (T, error) {
		v, err := op()
		if err != nil && !Retryable(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}
	return backoff.Retry(ctx, wrapped,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(maxTries),
	)
}

// EmbedWithRetry embeds text, retrying transient failures up to maxTries.
func EmbedWithRetry(ctx context.Context, e Embedder, text string, maxTries uint) ([]float32, error) {
	return WithRetry(ctx, maxTries, func() ([]float32, error) {
		return e.Embed(ctx, text)
	})
}

// CompleteWithRetry completes a prompt, retrying transient failures up to maxTries.
func CompleteWithRetry(ctx context.Context, c Completer, system, prompt string, maxTries uint) (string, error) {
	return WithRetry(ctx, maxTries, func() (string, error) {
		return c.Complete(ctx, system, prompt)
	})
}
