package core

import "time"

// DisambiguationState is the ephemeral pending-clarification record for a
// session. At most one exists per session at any time; it is created when
// extraction reports an ambiguous mention, consumed by the next turn's
// clarification check, and silently discarded once ExpiresAt has passed.
type DisambiguationState struct {
	SessionID      string       `json:"session_id"`
	PendingMention string       `json:"pending_mention"`
	OriginalText   string       `json:"original_text"` // utterance that triggered the clarification
	Candidates     []ScoredLink `json:"candidates"`    // ordered by descending score
	Asked          int          `json:"asked"`         // clarification questions issued so far
	ExpiresAt      time.Time    `json:"expires_at"`
}

// Expired reports whether the pending state has outlived its window.
func (s *DisambiguationState) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}
