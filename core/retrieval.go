package core

import "time"

// DomainFact is a live record snapshot fetched from the external business
// store and attached to a reply for grounding. Facts are attached
// deterministically per resolved entity reference, never ranked against
// memories.
type DomainFact struct {
	Table string         `json:"table"`
	ID    string         `json:"id"`
	Data  map[string]any `json:"data"`
}

// ScoredMemory pairs a retrieved memory with the scores that ranked it.
type ScoredMemory struct {
	Memory     Memory  `json:"memory"`
	Similarity float64 `json:"similarity"`
	Fused      float64 `json:"fused"`
}

// MemoryConflict pairs two retrieved preference memories that assert
// opposing things about the same subject. The newer memory is authoritative;
// the older one is surfaced so the reply can acknowledge the change.
type MemoryConflict struct {
	Newer      Memory `json:"newer"`
	Older      Memory `json:"older"`
	Resolution string `json:"resolution"`
}

// FactInconsistency flags a memory whose claimed document status contradicts
// the live domain record. The domain record is authoritative.
type FactInconsistency struct {
	Reference    string `json:"reference"` // document number, e.g. SO-1001
	FactStatus   string `json:"fact_status"`
	MemoryStatus string `json:"memory_status"`
	MemoryID     string `json:"memory_id"`
	Resolution   string `json:"resolution"`
}

// RankedContext is the retrieval engine's output for one query: the top-k
// memories by fused score plus the domain facts resolved from entity links.
type RankedContext struct {
	Memories    []ScoredMemory `json:"memories"`
	DomainFacts []DomainFact   `json:"domain_facts"`
	// Conflicts lists pairs of retrieved memories with opposing
	// preferences, resolved in favor of the most recent.
	Conflicts []MemoryConflict `json:"conflicts,omitempty"`
	// Inconsistencies lists memories contradicted by the attached domain
	// facts, resolved in favor of the domain record.
	Inconsistencies []FactInconsistency `json:"inconsistencies,omitempty"`
	// Summary leads the context when a consolidation checkpoint matched the
	// query strongly.
	Summary *MemorySummary `json:"summary,omitempty"`
	// Degraded is set when the embedding step failed and ranking fell back
	// to keyword and recency signals only.
	Degraded bool `json:"degraded"`
}

// TurnRequest is the inbound contract from the transport layer: a message for
// a user, optionally continuing an existing session.
type TurnRequest struct {
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id,omitempty"` // empty = start a new session
	Message   string `json:"message"`
}

// TurnStatus reports how completely a turn was processed.
type TurnStatus string

const (
	// TurnFull means every pipeline stage ran with its primary provider.
	TurnFull TurnStatus = "full"
	// TurnDegraded means one or more stages fell back (lexical retrieval,
	// canned reply) but the turn still completed and was recorded.
	TurnDegraded TurnStatus = "degraded"
	// TurnClarification means the turn short-circuited into a
	// disambiguation question; the reply is that question.
	TurnClarification TurnStatus = "clarification"
)

// TurnResult is what the pipeline hands back to the caller for one turn.
type TurnResult struct {
	SessionID   string         `json:"session_id"`
	Reply       string         `json:"reply"`
	Status      TurnStatus     `json:"status"`
	Context     *RankedContext `json:"context,omitempty"`
	Candidates  []ScoredLink   `json:"candidates,omitempty"` // set on clarification turns
	StoredKinds []MemoryKind   `json:"stored_kinds,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}
