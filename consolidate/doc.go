// Package consolidate merges a user's recent memories into an appended
// summary checkpoint.
//
// Memories from the last few sessions are grouped greedily by pairwise
// embedding similarity; each group elects a representative (most recent,
// then most important), discarded alternatives are logged for audit, and the
// representative's importance is bumped to reflect reinforcement. The
// summary text is assembled from the sorted representatives, so running
// consolidation twice over the same memories yields the same text. Prior
// memories and summaries are never rewritten; every run appends.
package consolidate
