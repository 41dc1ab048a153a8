package retrieval

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/memfuse/memfuse/config"
	"github.com/memfuse/memfuse/core"
	"github.com/memfuse/memfuse/domainfact"
	"github.com/memfuse/memfuse/logging"
	"github.com/memfuse/memfuse/provider"
	"github.com/memfuse/memfuse/store"
)

const (
	// candidateFactor and candidateFloor size the top-N candidate fetch
	// relative to k.
	candidateFactor = 3
	candidateFloor  = 30

	// keywordBoost is added to the fused score of candidates sharing a
	// significant term with the query.
	keywordBoost = 0.1

	// recencyFloor is the minimum recency weight for old memories.
	recencyFloor = 0.1

	defaultMaxFacts = 8
)

var stopwords = map[string]bool{
	"the": true, "a": true, "an": true, "and": true, "or": true, "of": true,
	"for": true, "to": true, "in": true, "on": true, "at": true, "is": true,
	"are": true, "was": true, "what": true, "whats": true, "does": true,
	"with": true, "about": true, "please": true, "can": true, "you": true,
}

// Options configure the retrieval engine.
type Options struct {
	// Weights hold the fused-score weights, summary threshold and default k.
	Weights config.RetrievalConfig
	// Embedder computes query embeddings. nil forces the lexical path.
	Embedder provider.Embedder
	// Facts, when set, is queried for domain-fact attachment.
	Facts domainfact.Store
	// MaxFacts caps the attached domain facts per query.
	MaxFacts int
	Logger   logging.Logger
	// Now is the clock; overridden in tests.
	Now func() time.Time
}

// Engine ranks memories for a query.
type Engine struct {
	store    store.Store
	embed    provider.Embedder
	facts    domainfact.Store
	cfg      config.RetrievalConfig
	maxFacts int
	logger   logging.Logger
	now      func() time.Time
}

// New creates a retrieval engine over the given memory store.
func New(st store.Store, optFns ...func(o *Options)) *Engine {
	opts := Options{
		Weights: config.RetrievalConfig{
			SimilarityWeight: 0.6,
			ImportanceWeight: 0.25,
			RecencyWeight:    0.15,
			SummaryThreshold: 0.7,
			TopK:             5,
			RecencyHorizon:   365 * 24 * time.Hour,
		},
		MaxFacts: defaultMaxFacts,
		Logger:   logging.NoOpLogger{},
		Now:      time.Now,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Engine{
		store:    st,
		embed:    opts.Embedder,
		facts:    opts.Facts,
		cfg:      opts.Weights,
		maxFacts: opts.MaxFacts,
		logger:   opts.Logger,
		now:      opts.Now,
	}
}

// Retrieve returns the top-k memories for the query plus domain facts for
// the resolved entity references. k <= 0 uses the configured default. An
// embedding failure degrades to keyword and recency ranking; only store
// errors fail the call.
func (e *Engine) Retrieve(ctx context.Context, query, userID string, k int, resolved []core.ExternalRef) (core.RankedContext, error) {
	if k <= 0 {
		k = e.cfg.TopK
	}
	now := e.now()
	terms := queryTerms(query)
	started := time.Now()

	var (
		rc  core.RankedContext
		err error
	)
	queryVec := e.embedQuery(ctx, query)
	if queryVec == nil {
		rc, err = e.retrieveLexical(ctx, userID, terms, k, now)
	} else {
		rc, err = e.retrieveFused(ctx, userID, queryVec, terms, k, now)
	}
	if err != nil {
		return core.RankedContext{}, err
	}

	// Fact attachment is enrichment: a domain store failure costs the
	// facts, not the turn.
	facts, err := e.attachFacts(ctx, resolved)
	if err != nil {
		e.logger.Warn("domain fact attachment failed", "error", err)
		rc.Degraded = true
	}
	rc.DomainFacts = facts
	rc.Conflicts = detectConflicts(rc.Memories)
	rc.Inconsistencies = detectInconsistencies(query, rc.Memories, facts)

	e.logger.Debug("retrieval complete",
		"returned", len(rc.Memories), "facts", len(facts),
		"conflicts", len(rc.Conflicts), "inconsistencies", len(rc.Inconsistencies),
		"degraded", rc.Degraded, "duration", time.Since(started))
	return rc, nil
}

func (e *Engine) embedQuery(ctx context.Context, query string) []float32 {
	if e.embed == nil {
		return nil
	}
	vec, err := provider.EmbedWithRetry(ctx, e.embed, query, 3)
	if err != nil {
		e.logger.Warn("query embedding failed, using lexical retrieval", "error", err)
		return nil
	}
	return vec
}

// retrieveFused is the primary path: vector candidates scored by the fused
// weight formula with a lexical boost.
func (e *Engine) retrieveFused(ctx context.Context, userID string, queryVec []float32, terms []string, k int, now time.Time) (core.RankedContext, error) {
	n := k * candidateFactor
	if n < candidateFloor {
		n = candidateFloor
	}
	candidates, err := e.store.SimilarMemories(ctx, userID, queryVec, n, now)
	if err != nil {
		return core.RankedContext{}, fmt.Errorf("similar memories: %w", err)
	}

	scored := make([]core.ScoredMemory, 0, len(candidates))
	for _, c := range candidates {
		m := c.Memory
		fused := e.cfg.SimilarityWeight*c.Similarity +
			e.cfg.ImportanceWeight*m.Importance +
			e.cfg.RecencyWeight*e.recency(m.CreatedAt, now)
		if sharesTerm(m.Text, terms) {
			fused += keywordBoost
			if fused > 1.0 {
				fused = 1.0
			}
		}
		c.Fused = fused
		scored = append(scored, c)
	}
	sortScored(scored)
	if len(scored) > k {
		scored = scored[:k]
	}

	rc := core.RankedContext{Memories: scored}
	rc.Summary = e.summaryFirst(ctx, userID, queryVec)
	return rc, nil
}

// retrieveLexical is the degraded path: keyword matches ranked by term
// overlap, importance and recency, no similarity signal.
func (e *Engine) retrieveLexical(ctx context.Context, userID string, terms []string, k int, now time.Time) (core.RankedContext, error) {
	if len(terms) == 0 {
		return core.RankedContext{Degraded: true}, nil
	}
	n := k * candidateFactor
	if n < candidateFloor {
		n = candidateFloor
	}
	candidates, err := e.store.KeywordMemories(ctx, userID, terms, n, now)
	if err != nil {
		return core.RankedContext{}, fmt.Errorf("keyword memories: %w", err)
	}

	scored := make([]core.ScoredMemory, 0, len(candidates))
	for _, m := range candidates {
		overlap := termOverlap(m.Text, terms)
		fused := e.cfg.SimilarityWeight*overlap +
			e.cfg.ImportanceWeight*m.Importance +
			e.cfg.RecencyWeight*e.recency(m.CreatedAt, now)
		scored = append(scored, core.ScoredMemory{Memory: m, Fused: fused})
	}
	sortScored(scored)
	if len(scored) > k {
		scored = scored[:k]
	}
	return core.RankedContext{Memories: scored, Degraded: true}, nil
}

// summaryFirst returns the best consolidation checkpoint when it clears the
// threshold. Summary lookup failures only cost the checkpoint, not the turn.
func (e *Engine) summaryFirst(ctx context.Context, userID string, queryVec []float32) *core.MemorySummary {
	matches, err := e.store.SimilarSummaries(ctx, userID, queryVec, 1)
	if err != nil {
		e.logger.Warn("summary lookup failed", "error", err)
		return nil
	}
	if len(matches) == 0 || matches[0].Similarity <= e.cfg.SummaryThreshold {
		return nil
	}
	s := matches[0].Summary
	return &s
}

// attachFacts expands each resolved reference through the domain store,
// deduplicated and capped.
func (e *Engine) attachFacts(ctx context.Context, resolved []core.ExternalRef) ([]core.DomainFact, error) {
	if e.facts == nil || len(resolved) == 0 {
		return nil, nil
	}
	var out []core.DomainFact
	seen := map[core.ExternalRef]bool{}
	for _, ref := range resolved {
		if ref.IsZero() || seen[ref] {
			continue
		}
		seen[ref] = true
		facts, err := e.facts.Facts(ctx, ref)
		if err != nil {
			return nil, fmt.Errorf("domain facts for %s/%s: %w", ref.Table, ref.ID, err)
		}
		for _, f := range facts {
			if len(out) >= e.maxFacts {
				return out, nil
			}
			out = append(out, f)
		}
	}
	return out, nil
}

// recency maps age to [recencyFloor, 1] with a linear decay across the
// configured horizon.
func (e *Engine) recency(createdAt, now time.Time) float64 {
	horizon := e.cfg.RecencyHorizon
	if horizon <= 0 {
		horizon = 365 * 24 * time.Hour
	}
	age := now.Sub(createdAt)
	if age <= 0 {
		return 1.0
	}
	w := 1.0 - float64(age)/float64(horizon)
	if w < recencyFloor {
		return recencyFloor
	}
	return w
}

func sortScored(scored []core.ScoredMemory) {
	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Fused != scored[j].Fused {
			return scored[i].Fused > scored[j].Fused
		}
		return scored[i].Memory.CreatedAt.After(scored[j].Memory.CreatedAt)
	})
}

// queryTerms extracts the significant lexical terms of a query: non-stopword
// tokens of three or more characters, plus any document codes verbatim.
func queryTerms(query string) []string {
	var terms []string
	for _, w := range strings.Fields(strings.ToLower(query)) {
		w = strings.Trim(w, ".,!?;:'\"()")
		if len(w) < 3 || stopwords[w] {
			continue
		}
		terms = append(terms, w)
	}
	return terms
}

func sharesTerm(text string, terms []string) bool {
	lower := strings.ToLower(text)
	for _, t := range terms {
		if strings.Contains(lower, t) {
			return true
		}
	}
	return false
}

// termOverlap is the fraction of query terms present in text.
func termOverlap(text string, terms []string) float64 {
	if len(terms) == 0 {
		return 0
	}
	lower := strings.ToLower(text)
	matched := 0
	for _, t := range terms {
		if strings.Contains(lower, t) {
			matched++
		}
	}
	return float64(matched) / float64(len(terms))
}
