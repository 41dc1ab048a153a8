// Package memfuse provides a high-level façade over the turn pipeline and
// its stores (chat events, memories, entities, domain facts). Most
// applications interact with this package by:
//  1. Creating a MemFuse via New() (optionally overriding the default
//     in-memory store, the domain database and the model providers)
//  2. Sending user messages with Chat()
//  3. Triggering Consolidate() between sessions
//
// The façade delegates turn processing to engine.Engine while keeping setup
// ergonomics concise. All defaults are safe for local development and
// testing; production deployments typically supply the sqlite store, real
// providers and a structured logger.
package memfuse

import (
	"context"

	"github.com/memfuse/memfuse/config"
	"github.com/memfuse/memfuse/core"
	"github.com/memfuse/memfuse/domainfact"
	"github.com/memfuse/memfuse/engine"
	"github.com/memfuse/memfuse/logging"
	"github.com/memfuse/memfuse/provider"
	"github.com/memfuse/memfuse/store"
	"github.com/memfuse/memfuse/store/inmemory"
)

// Options configures the MemFuse instance.
type Options struct {
	// Config carries mode, thresholds and weights. Nil means built-in
	// defaults.
	Config *config.Config

	// Store persists events, memories, entities and summaries. Defaults to
	// the in-memory implementation.
	Store store.Store

	// Facts is the read-only business database used for entity linking and
	// fact attachment. Nil disables linking against external records.
	Facts domainfact.Store

	// Embedder and Completer are the model providers. Either may be nil;
	// the affected pipeline stages degrade instead of failing the turn.
	Embedder  provider.Embedder
	Completer provider.Completer

	// Logger defaults to NoOp.
	Logger logging.Logger

	// Callbacks hook into the turn lifecycle.
	Callbacks *engine.CallbackManager
}

// MemFuse is the high-level façade aggregating the turn engine and its
// stores.
type MemFuse struct {
	opts   Options
	engine *engine.Engine
}

// New creates a new MemFuse instance with optional overrides. An unset store
// is initialized with the in-memory implementation.
func New(optFns ...func(o *Options)) *MemFuse {
	opts := Options{
		Store:     inmemory.New(),
		Logger:    logging.NoOpLogger{},
		Callbacks: engine.NewCallbackManager(),
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	eng := engine.New(opts.Store, func(o *engine.Options) {
		o.Config = opts.Config
		o.Embedder = opts.Embedder
		o.Completer = opts.Completer
		o.Facts = opts.Facts
		o.Logger = opts.Logger
		o.Callbacks = opts.Callbacks
	})

	return &MemFuse{opts: opts, engine: eng}
}

// Chat processes one user message and returns the reply with its retrieval
// context. An empty session id starts a new session; the assigned id is in
// the result.
func (m *MemFuse) Chat(ctx context.Context, req core.TurnRequest) (core.TurnResult, error) {
	return m.engine.Turn(ctx, req)
}

// Consolidate merges the user's recent memories into a new summary
// checkpoint and returns it.
func (m *MemFuse) Consolidate(ctx context.Context, userID string) (core.MemorySummary, error) {
	return m.engine.Consolidate(ctx, userID)
}

// History returns a session's chat events in order. A limit of zero or less
// returns all of them.
func (m *MemFuse) History(ctx context.Context, sessionID string, limit int) ([]core.ChatEvent, error) {
	return m.opts.Store.SessionEvents(ctx, sessionID, limit)
}

// Entities returns the entities extracted during a session.
func (m *MemFuse) Entities(ctx context.Context, sessionID string) ([]core.Entity, error) {
	return m.opts.Store.SessionEntities(ctx, sessionID)
}

// Memories returns the user's memories from their most recent sessions,
// newest first. sessions <= 0 means all sessions.
func (m *MemFuse) Memories(ctx context.Context, userID string, sessions int) ([]core.Memory, error) {
	return m.opts.Store.RecentSessionMemories(ctx, userID, sessions)
}

// Summaries returns the user's consolidation checkpoints, newest first.
func (m *MemFuse) Summaries(ctx context.Context, userID string) ([]core.MemorySummary, error) {
	return m.opts.Store.Summaries(ctx, userID)
}

// Close releases store resources.
func (m *MemFuse) Close() error {
	return m.opts.Store.Close()
}
