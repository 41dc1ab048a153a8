// Package mock provides deterministic in-memory provider implementations
// useful for tests and examples.
package mock

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"sync"

	"github.com/memfuse/memfuse/provider"
)

// Embedder generates deterministic embeddings based on a text hash, so
// identical texts always map to identical unit vectors.
type Embedder struct {
	dimensions int

	mu   sync.Mutex
	errs []error
}

var _ provider.Embedder = (*Embedder)(nil)

// NewEmbedder creates a mock embedder with the given dimensionality.
// Zero or negative falls back to 384.
func NewEmbedder(dimensions int) *Embedder {
	if dimensions <= 0 {
		dimensions = 384
	}
	return &Embedder{dimensions: dimensions}
}

// FailNext queues an error to be returned by the next Embed call. Queued
// errors are consumed in FIFO order.
func (m *Embedder) FailNext(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errs = append(m.errs, err)
}

// Embed creates a deterministic embedding from text.
func (m *Embedder) Embed(_ context.Context, text string) ([]float32, error) {
	m.mu.Lock()
	if len(m.errs) > 0 {
		err := m.errs[0]
		m.errs = m.errs[1:]
		m.mu.Unlock()
		return nil, err
	}
	m.mu.Unlock()
	h := fnv.New64a()
	h.Write([]byte(text))
	seed := h.Sum64()

	embedding := make([]float32, m.dimensions)
	for i := 0; i < m.dimensions; i++ {
		seed = seed*6364136223846793005 + 1442695040888963407
		embedding[i] = float32(int64(seed)) / float32(math.MaxInt64)
	}
	return normalize(embedding), nil
}

// Dimensions returns the embedding size.
func (m *Embedder) Dimensions() int { return m.dimensions }

func normalize(vec []float32) []float32 {
	var norm float32
	for _, v := range vec {
		norm += v * v
	}
	if norm == 0 {
		return vec
	}
	norm = float32(math.Sqrt(float64(norm)))
	out := make([]float32, len(vec))
	for i, v := range vec {
		out[i] = v / norm
	}
	return out
}

// Completer returns canned completions keyed by prompt, falling back to a
// configurable default and finally an echo response. Safe for concurrent use.
type Completer struct {
	mu          sync.Mutex
	responses   map[string]string
	defaultResp string
	errs        []error
	calls       []string
}

var _ provider.Completer = (*Completer)(nil)

// NewCompleter constructs an empty mock completer.
func NewCompleter() *Completer {
	return &Completer{responses: make(map[string]string)}
}

// AddResponse registers a deterministic canned completion for a prompt.
func (c *Completer) AddResponse(prompt, response string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.responses[prompt] = response
}

// SetDefault registers the completion returned for any prompt without a
// canned response.
func (c *Completer) SetDefault(response string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.defaultResp = response
}

// FailNext queues an error to be returned by the next Complete call.
// Queued errors are consumed in FIFO order before canned responses apply.
func (c *Completer) FailNext(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errs = append(c.errs, err)
}

// Calls returns the prompts seen so far, in order.
func (c *Completer) Calls() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.calls))
	copy(out, c.calls)
	return out
}

// Complete implements provider.Completer.
func (c *Completer) Complete(ctx context.Context, _ string, prompt string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, prompt)
	if len(c.errs) > 0 {
		err := c.errs[0]
		c.errs = c.errs[1:]
		return "", err
	}
	if resp, ok := c.responses[prompt]; ok {
		return resp, nil
	}
	if c.defaultResp != "" {
		return c.defaultResp, nil
	}
	return fmt.Sprintf("Mock response to: %s", prompt), nil
}
