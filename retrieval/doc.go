// Package retrieval ranks stored memories against a query and attaches live
// domain facts for grounding.
//
// Ranking fuses three signals per candidate: embedding similarity,
// importance, and a linear recency decay, under configurable weights. A
// lexical boost rescues exact-code queries (SO-1001) that embed poorly.
// Domain facts are never ranked; they are attached deterministically for
// every resolved entity reference, capped to bound prompt size. When the
// embedding provider is down the engine degrades to keyword and recency
// ranking instead of failing the turn.
package retrieval
