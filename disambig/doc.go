// Package disambig implements the per-session clarification state machine.
//
// A session is IDLE until extraction reports an ambiguous mention; the engine
// then emits one clarification question listing the ranked candidates and
// holds a pending state with a bounded expiry. The next user turn is parsed
// as a selection (ordinal, name, partial name, or an explicit rejection); a
// parseable reply resolves the entity link and clears the state, an
// unparseable one re-asks once before the engine degrades and records the
// mention unresolved. At most one pending state exists per session.
//
// Confirmed selections for a shorthand surface ("kai" → "Kai Media Europe")
// are remembered as permanent alias memories, so the same shorthand resolves
// without a question on later turns.
package disambig
