package consolidate

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/memfuse/memfuse/config"
	"github.com/memfuse/memfuse/core"
	"github.com/memfuse/memfuse/logging"
	"github.com/memfuse/memfuse/provider"
	"github.com/memfuse/memfuse/store"
)

const (
	lineMarker   = "- "
	emptySummary = "No memories recorded in the consolidation window."
)

// Options configure the consolidation engine.
type Options struct {
	// Config holds the merge threshold, importance boost and session window.
	Config config.ConsolidationConfig
	// Embedder computes the summary embedding. Embedding failure is
	// non-fatal; the summary is appended without a vector.
	Embedder provider.Embedder
	Logger   logging.Logger
	// Now is the clock; overridden in tests.
	Now func() time.Time
}

// Engine consolidates a user's recent memories into summary checkpoints.
type Engine struct {
	store  store.Store
	embed  provider.Embedder
	cfg    config.ConsolidationConfig
	logger logging.Logger
	now    func() time.Time
}

// New creates a consolidation engine over the given memory store.
func New(st store.Store, optFns ...func(o *Options)) *Engine {
	opts := Options{
		Config: config.ConsolidationConfig{
			MergeThreshold:  0.83,
			ImportanceBoost: 0.1,
			SessionWindow:   3,
		},
		Logger: logging.NoOpLogger{},
		Now:    time.Now,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Engine{
		store:  st,
		embed:  opts.Embedder,
		cfg:    opts.Config,
		logger: opts.Logger,
		now:    opts.Now,
	}
}

// Consolidate merges the user's recent memories and appends a new summary.
// Running it again with no new memories appends a summary with identical
// text and leaves importance untouched. The window being empty is not an
// error; the summary records that.
func (e *Engine) Consolidate(ctx context.Context, userID string) (core.MemorySummary, error) {
	started := time.Now()
	now := e.now()

	window, err := e.store.RecentSessionMemories(ctx, userID, e.cfg.SessionWindow)
	if err != nil {
		return core.MemorySummary{}, fmt.Errorf("load recent memories: %w", err)
	}
	live := window[:0]
	for _, m := range window {
		if !m.Expired(now) {
			live = append(live, m)
		}
	}

	prior, err := e.store.Summaries(ctx, userID)
	if err != nil {
		return core.MemorySummary{}, fmt.Errorf("load prior summaries: %w", err)
	}
	var lastCheckpoint time.Time
	if len(prior) > 0 {
		lastCheckpoint = prior[0].CreatedAt
	}

	groups := e.group(live)
	lines := map[string]bool{}
	for _, g := range groups {
		rep := representative(g)
		lines[rep.Text] = true
		// Reinforcement needs fresh confirmation: a group with no member
		// newer than the last checkpoint was already bumped by the run
		// that produced it.
		if len(g) > 1 && groupGrewSince(g, lastCheckpoint) {
			if err := e.reinforce(ctx, g, rep); err != nil {
				return core.MemorySummary{}, err
			}
		}
	}

	// Carry forward the latest checkpoint's lines so older windows stay
	// represented. Exact-duplicate lines collapse, which keeps a re-run
	// content-stable.
	if len(prior) > 0 {
		for _, line := range strings.Split(prior[0].Summary, "\n") {
			line = strings.TrimPrefix(line, lineMarker)
			if line != "" && line != emptySummary {
				lines[line] = true
			}
		}
	}

	summary := core.MemorySummary{
		ID:            core.NewID(),
		UserID:        userID,
		SessionWindow: e.cfg.SessionWindow,
		Summary:       renderSummary(lines),
		CreatedAt:     now,
	}
	if e.embed != nil {
		vec, err := e.embed.Embed(ctx, summary.Summary)
		if err != nil {
			e.logger.Warn("embedding summary failed, appending without vector",
				"user_id", userID, "error", err)
		} else {
			summary.Embedding = vec
		}
	}
	if err := e.store.AppendSummary(ctx, summary); err != nil {
		return core.MemorySummary{}, fmt.Errorf("append summary: %w", err)
	}

	e.logger.Info("consolidation complete",
		"user_id", userID, "memories", len(live), "groups", len(groups),
		"duration", time.Since(started))
	return summary, nil
}

// group clusters memories greedily: each not-yet-grouped memory seeds a
// group and pulls in every remaining memory whose embedding clears the merge
// threshold. Memories without an embedding never merge.
func (e *Engine) group(memories []core.Memory) [][]core.Memory {
	// Newest first so the seed of each group is its most recent member.
	sorted := make([]core.Memory, len(memories))
	copy(sorted, memories)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].CreatedAt.After(sorted[j].CreatedAt)
	})

	used := make([]bool, len(sorted))
	var groups [][]core.Memory
	for i, seed := range sorted {
		if used[i] {
			continue
		}
		used[i] = true
		group := []core.Memory{seed}
		if len(seed.Embedding) > 0 {
			for j := i + 1; j < len(sorted); j++ {
				if used[j] || len(sorted[j].Embedding) == 0 {
					continue
				}
				if core.Cosine(seed.Embedding, sorted[j].Embedding) >= e.cfg.MergeThreshold {
					used[j] = true
					group = append(group, sorted[j])
				}
			}
		}
		groups = append(groups, group)
	}
	return groups
}

// groupGrewSince reports whether any group member postdates the given
// checkpoint. A zero checkpoint means no prior run exists.
func groupGrewSince(group []core.Memory, checkpoint time.Time) bool {
	if checkpoint.IsZero() {
		return true
	}
	for _, m := range group {
		if m.CreatedAt.After(checkpoint) {
			return true
		}
	}
	return false
}

// representative elects a group's surviving value: most recent first, then
// higher importance.
func representative(group []core.Memory) core.Memory {
	rep := group[0]
	for _, m := range group[1:] {
		switch {
		case m.CreatedAt.After(rep.CreatedAt):
			rep = m
		case m.CreatedAt.Equal(rep.CreatedAt) && m.Importance > rep.Importance:
			rep = m
		}
	}
	return rep
}

// reinforce bumps the representative's importance and logs what the merge
// discarded, so conflicting values stay auditable.
func (e *Engine) reinforce(ctx context.Context, group []core.Memory, rep core.Memory) error {
	for _, m := range group {
		if m.ID == rep.ID {
			continue
		}
		e.logger.Info("consolidation discarded conflicting memory",
			"kept_id", rep.ID, "kept_text", rep.Text,
			"discarded_id", m.ID, "discarded_text", m.Text)
	}
	boosted := rep.Importance + e.cfg.ImportanceBoost
	if boosted > 1.0 {
		boosted = 1.0
	}
	if err := e.store.BumpImportance(ctx, rep.ID, boosted); err != nil {
		return fmt.Errorf("bump importance for %s: %w", rep.ID, err)
	}
	return nil
}

// renderSummary assembles the checkpoint text from the deduplicated lines in
// sorted order.
func renderSummary(lines map[string]bool) string {
	if len(lines) == 0 {
		return emptySummary
	}
	ordered := make([]string, 0, len(lines))
	for line := range lines {
		ordered = append(ordered, line)
	}
	sort.Strings(ordered)
	var b strings.Builder
	for i, line := range ordered {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(lineMarker)
		b.WriteString(line)
	}
	return b.String()
}
