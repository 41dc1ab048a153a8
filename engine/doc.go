// Package engine orchestrates the per-turn memory pipeline.
//
// Each turn runs sequentially under a per-session lock: the utterance is
// PII-filtered and recorded, a pending clarification is resolved first if
// one exists, entities are extracted and linked, intent is classified,
// context is retrieved, a reply is generated, and the intent policy decides
// what is written back as memory. Provider failures degrade the turn;
// persistence failures fail it. Session state never leaks across sessions,
// so turns for different sessions proceed concurrently.
//
// Consolidation is exposed as an on-demand call; the engine runs no
// background scheduler.
package engine
