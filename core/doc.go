// Package core provides the foundational domain types shared by the MemFuse
// memory subsystem. It defines the core abstractions for:
//
//   - ChatEvents (immutable, append-only records of conversation turns)
//   - Entities (mentions linked to known records, optionally into the domain store)
//   - Memories (typed, embedded, importance-weighted facts with optional TTL)
//   - MemorySummaries (additive cross-session consolidation checkpoints)
//   - DisambiguationState (the at-most-one pending clarification per session)
//   - RankedContext / DomainFact (the retrieval output handed to prompting)
//
// The package intentionally keeps implementation concerns (persistence,
// providers, the turn pipeline) out of scope, exposing plain data types and
// small enums so that engines and stores can evolve independently.
package core
