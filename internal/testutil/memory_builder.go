package testutil

import (
	"time"

	"github.com/memfuse/memfuse/core"
)

// MemoryBuilder helps construct memories with fluent chaining for tests.
// Example:
//
//	m := NewMemoryBuilder("sess-1", "user-1", "some fact").
//		Importance(0.9).Embedding(vec).Age(time.Hour).Build()
type MemoryBuilder struct {
	mem core.Memory
}

// NewMemoryBuilder starts a semantic memory for the given session and user.
// Use chainable methods then call Build.
func NewMemoryBuilder(sessionID, userID, text string) *MemoryBuilder {
	return &MemoryBuilder{mem: core.NewMemory(sessionID, userID, core.KindSemantic, text)}
}

// Kind overrides the memory kind (chainable).
func (b *MemoryBuilder) Kind(k core.MemoryKind) *MemoryBuilder {
	b.mem.Kind = k
	return b
}

// Importance sets the importance score (chainable).
func (b *MemoryBuilder) Importance(v float64) *MemoryBuilder {
	b.mem.Importance = v
	return b
}

// Embedding sets the embedding vector (chainable).
func (b *MemoryBuilder) Embedding(vec []float32) *MemoryBuilder {
	b.mem.Embedding = vec
	return b
}

// Age backdates CreatedAt by the given duration (chainable).
func (b *MemoryBuilder) Age(d time.Duration) *MemoryBuilder {
	b.mem.CreatedAt = time.Now().Add(-d)
	return b
}

// TTLDays sets the expiry window in days; zero means permanent (chainable).
func (b *MemoryBuilder) TTLDays(days int) *MemoryBuilder {
	b.mem.TTLDays = days
	return b
}

// Build returns the assembled memory.
func (b *MemoryBuilder) Build() core.Memory {
	return b.mem
}
