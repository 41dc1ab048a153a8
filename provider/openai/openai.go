// Package openai implements provider.Embedder and provider.Completer using
// the OpenAI API. It adapts the SDK's request/response shapes and normalizes
// transport failures into core sentinel errors.
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/memfuse/memfuse/core"
	"github.com/memfuse/memfuse/provider"
)

// Options configure the OpenAI provider adapter.
// Fields mirror a subset of API parameters intentionally kept minimal;
// extend via functional options without breaking callers.
type Options struct {
	EmbedModel    openai.EmbeddingModel
	CompleteModel string
	Temperature   float64
	MaxTokens     int64
	APIKey        string
	Dimensions    int
}

// Provider wraps the OpenAI API behind the generic provider interfaces.
type Provider struct {
	client openai.Client
	opts   Options
}

var (
	_ provider.Embedder  = (*Provider)(nil)
	_ provider.Completer = (*Provider)(nil)
)

// New creates a new OpenAI provider using the official client.
func New(optFns ...func(o *Options)) *Provider {
	opts := Options{
		EmbedModel:    openai.EmbeddingModelTextEmbedding3Small,
		CompleteModel: openai.ChatModelGPT4oMini,
		Temperature:   0.2,
		MaxTokens:     1024,
		Dimensions:    1536,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	var clientOpts []option.RequestOption
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}
	return &Provider{client: openai.NewClient(clientOpts...), opts: opts}
}

// NewFromClient creates a new OpenAI provider from an existing client.
func NewFromClient(client openai.Client, optFns ...func(o *Options)) *Provider {
	opts := Options{
		EmbedModel:    openai.EmbeddingModelTextEmbedding3Small,
		CompleteModel: openai.ChatModelGPT4oMini,
		Temperature:   0.2,
		MaxTokens:     1024,
		Dimensions:    1536,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Provider{client: client, opts: opts}
}

// Embed implements provider.Embedder via the Embeddings API.
func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := p.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: []string{text}},
		Model: p.opts.EmbedModel,
	})
	if err != nil {
		return nil, normalize(err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("openai: empty embedding response")
	}
	raw := resp.Data[0].Embedding
	vec := make([]float32, len(raw))
	for i, v := range raw {
		vec[i] = float32(v)
	}
	return vec, nil
}

// Dimensions returns the embedding size for the configured model.
func (p *Provider) Dimensions() int { return p.opts.Dimensions }

// Complete implements provider.Completer via the Chat Completions API.
func (p *Provider) Complete(ctx context.Context, system, prompt string) (string, error) {
	messages := []openai.ChatCompletionMessageParamUnion{}
	if system != "" {
		messages = append(messages, openai.SystemMessage(system))
	}
	messages = append(messages, openai.UserMessage(prompt))

	resp, err := p.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages:            messages,
		Model:               p.opts.CompleteModel,
		Temperature:         openai.Float(p.opts.Temperature),
		MaxCompletionTokens: openai.Int(p.opts.MaxTokens),
	})
	if err != nil {
		return "", normalize(err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai: no choices returned")
	}
	ch0 := resp.Choices[0]
	if ch0.FinishReason == "content_filter" {
		return "", core.ErrContentFiltered
	}
	return ch0.Message.Content, nil
}

// Info returns metadata describing this provider implementation.
func (p *Provider) Info() provider.Info {
	return provider.Info{Name: p.opts.CompleteModel, Provider: "openai"}
}

// normalize maps SDK errors onto core sentinels so retry logic stays generic.
func normalize(err error) error {
	var apierr *openai.Error
	if errors.As(err, &apierr) {
		switch {
		case apierr.StatusCode == http.StatusTooManyRequests:
			return fmt.Errorf("openai: %w: %s", core.ErrRateLimited, apierr.Error())
		case apierr.StatusCode >= 500:
			return fmt.Errorf("openai: %w: %s", core.ErrProviderUnavailable, apierr.Error())
		}
	}
	return fmt.Errorf("openai api error: %w", err)
}
