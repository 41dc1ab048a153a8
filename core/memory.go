package core

import (
	"fmt"
	"time"
)

// MemoryKind is the closed set of memory categories. Each kind carries its
// own retention policy in the intent writer; the retriever and consolidator
// treat kinds explicitly rather than matching on free text.
type MemoryKind string

const (
	// KindEpisodic records a specific event that occurred ("work order
	// rescheduled for Gai Media"). Usually carries a TTL.
	KindEpisodic MemoryKind = "episodic"
	// KindSemantic is a distilled, reusable fact or preference ("Gai Media
	// prefers Friday deliveries"). Permanent by default.
	KindSemantic MemoryKind = "semantic"
	// KindProfile describes a stable trait of the user themselves.
	KindProfile MemoryKind = "profile"
	// KindCommitment records a promise or obligation the user stated.
	KindCommitment MemoryKind = "commitment"
	// KindTodo is an open action item.
	KindTodo MemoryKind = "todo"
)

// ParseMemoryKind converts s into a MemoryKind, rejecting unknown values.
func ParseMemoryKind(s string) (MemoryKind, error) {
	switch k := MemoryKind(s); k {
	case KindEpisodic, KindSemantic, KindProfile, KindCommitment, KindTodo:
		return k, nil
	}
	return "", fmt.Errorf("unknown memory kind %q", s)
}

// Memory is a single persisted fact with its embedding, an importance weight
// in [0,1] and an optional TTL in days. Expired memories are excluded from
// retrieval but never physically deleted, preserving audit history.
// Importance is monotonic non-decreasing: only consolidation-driven
// reinforcement or disambiguation-confirmed repetition may raise it.
type Memory struct {
	ID         string     `json:"id"`
	SessionID  string     `json:"session_id"`
	UserID     string     `json:"user_id"`
	Kind       MemoryKind `json:"kind"`
	Text       string     `json:"text"`
	Embedding  []float32  `json:"embedding,omitempty"`
	Importance float64    `json:"importance"`
	TTLDays    int        `json:"ttl_days,omitempty"` // 0 = no expiry
	CreatedAt  time.Time  `json:"created_at"`
}

// NewMemory creates a memory with the default importance of 0.5 and no TTL.
func NewMemory(sessionID, userID string, kind MemoryKind, text string) Memory {
	return Memory{
		ID:         NewID(),
		SessionID:  sessionID,
		UserID:     userID,
		Kind:       kind,
		Text:       text,
		Importance: 0.5,
		CreatedAt:  time.Now().UTC(),
	}
}

// Expired reports whether the memory's TTL has elapsed at the given instant.
// Memories without a TTL never expire.
func (m Memory) Expired(now time.Time) bool {
	if m.TTLDays <= 0 {
		return false
	}
	return m.CreatedAt.AddDate(0, 0, m.TTLDays).Before(now)
}

// MemorySummary is one consolidation checkpoint for a logical user. Summaries
// form an append-only history; the consolidation engine is the sole writer
// and never rewrites prior rows.
type MemorySummary struct {
	ID            string    `json:"id"`
	UserID        string    `json:"user_id"`
	SessionWindow int       `json:"session_window"`
	Summary       string    `json:"summary"`
	Embedding     []float32 `json:"embedding,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}
