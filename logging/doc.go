// Package logging provides a minimal logging interface and adapters for MemFuse.
//
// The Logger interface defines the standard logging methods (Debug, Info, Warn, Error)
// that the engine and memory pipeline use for observability. This package includes:
//
//   - Logger interface for dependency injection
//   - SlogAdapter wrapping Go's structured logging
//   - MemLogger with contextual helpers (component, session, user) and
//     domain helpers for provider calls, retrieval and consolidation
//   - NoOpLogger for silent operation (testing, minimal setups)
//
// Usage:
//
//	logger := logging.NewSlogLogger(logging.LogLevelInfo, "json", false)
//	eng := engine.New(store, facts, providers, engine.WithLogger(logger))
//
// The design intentionally keeps the interface minimal to avoid vendor lock-in
// while supporting structured logging where available.
package logging
