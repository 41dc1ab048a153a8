package core

import "errors"

// Error taxonomy shared across the subsystem. Providers and stores return
// these sentinels (usually wrapped) so callers can branch with errors.Is.
var (
	// ErrProviderUnavailable signals an embedding or language-model provider
	// that is down. Callers degrade rather than abort the turn.
	ErrProviderUnavailable = errors.New("provider unavailable")

	// ErrRateLimited signals a provider rejecting for throughput reasons.
	// Callers retry with backoff a bounded number of times, then degrade.
	ErrRateLimited = errors.New("provider rate limited")

	// ErrContentFiltered signals the language model refusing the prompt.
	ErrContentFiltered = errors.New("content filtered")

	// ErrNotFound signals a missing record in a store lookup.
	ErrNotFound = errors.New("not found")

	// ErrDisambiguationExpired signals a clarification reply arriving after
	// the pending window elapsed; the reply is treated as a fresh utterance.
	ErrDisambiguationExpired = errors.New("disambiguation expired")
)
