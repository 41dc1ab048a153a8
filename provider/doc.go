// Package provider defines the provider-agnostic abstractions for the
// embedding and language models MemFuse depends on.
//
// Core goals:
//   - Keep the pipeline decoupled from vendor SDKs behind two small
//     interfaces (Embedder, Completer)
//   - Normalize transient failures into core sentinel errors so callers
//     can retry uniformly (WithRetry)
//   - Facilitate lightweight mocking for tests (provider/mock)
//
// Providers (e.g. OpenAI, Anthropic) implement these interfaces from their
// own subpackages so higher layers remain vendor independent.
package provider
