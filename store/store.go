package store

import (
	"context"
	"time"

	"github.com/memfuse/memfuse/core"
)

// ScoredSummary pairs a consolidation summary with its query similarity.
type ScoredSummary struct {
	Summary    core.MemorySummary
	Similarity float64
}

// Store is the persistence contract shared by the sqlite and in-memory
// backends. All queries are scoped to a logical user or session; a store
// never returns another user's rows.
type Store interface {
	// AppendEvent persists ev, assigning the next per-session sequence
	// number. The returned event carries the assigned Seq.
	AppendEvent(ctx context.Context, ev core.ChatEvent) (core.ChatEvent, error)

	// SessionEvents returns a session's events in append order. A limit of
	// zero or less means no limit; a positive limit keeps the most recent
	// events.
	SessionEvents(ctx context.Context, sessionID string, limit int) ([]core.ChatEvent, error)

	// InsertEntity records an extracted entity. Resolution after
	// disambiguation inserts a superseding row; existing rows are never
	// mutated.
	InsertEntity(ctx context.Context, e core.Entity) error

	// SessionEntities returns a session's entities in insertion order.
	SessionEntities(ctx context.Context, sessionID string) ([]core.Entity, error)

	// InsertMemory persists a memory with its embedding.
	InsertMemory(ctx context.Context, m core.Memory) error

	// Memory fetches one memory by id, returning core.ErrNotFound when it
	// does not exist.
	Memory(ctx context.Context, id string) (core.Memory, error)

	// BumpImportance raises a memory's importance to the given value.
	// Importance is monotonic: a value at or below the current one is a
	// no-op, never a decrease. Returns core.ErrNotFound for unknown ids.
	BumpImportance(ctx context.Context, memoryID string, importance float64) error

	// SimilarMemories returns up to limit of the user's non-expired
	// memories ranked by cosine similarity to embedding, highest first.
	SimilarMemories(ctx context.Context, userID string, embedding []float32, limit int, now time.Time) ([]core.ScoredMemory, error)

	// KeywordMemories returns up to limit non-expired memories whose text
	// contains any of the terms (case-insensitive), most recent first.
	KeywordMemories(ctx context.Context, userID string, terms []string, limit int, now time.Time) ([]core.Memory, error)

	// RecentSessionMemories returns the user's memories from their most
	// recent sessions (by latest memory per session), newest first.
	// sessions <= 0 means all sessions.
	RecentSessionMemories(ctx context.Context, userID string, sessions int) ([]core.Memory, error)

	// AppendSummary appends a consolidation summary. Summaries are
	// append-only history and are never rewritten.
	AppendSummary(ctx context.Context, s core.MemorySummary) error

	// Summaries returns the user's summaries, newest first.
	Summaries(ctx context.Context, userID string) ([]core.MemorySummary, error)

	// SimilarSummaries ranks the user's summaries by cosine similarity to
	// embedding, highest first, up to limit.
	SimilarSummaries(ctx context.Context, userID string, embedding []float32, limit int) ([]ScoredSummary, error)

	// Close releases backend resources.
	Close() error
}
