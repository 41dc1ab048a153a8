// Package store defines the persistence contract for chat events, entities,
// memories and consolidation summaries.
//
// Two implementations are provided:
//
//   - store/sqlite: durable single-file storage on modernc.org/sqlite with
//     WAL mode. Similarity is computed by scanning a user's embeddings.
//   - store/inmemory: process-local storage with a chromem-go collection per
//     user as the vector index. Suited to tests and examples.
//
// The contract is deliberately append-oriented: events and summaries are
// never rewritten, entities are superseded by new rows rather than mutated,
// and expired memories are excluded from queries instead of deleted.
package store
