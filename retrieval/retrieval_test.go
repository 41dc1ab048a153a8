package retrieval_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memfuse/memfuse/core"
	"github.com/memfuse/memfuse/domainfact"
	"github.com/memfuse/memfuse/internal/testutil"
	"github.com/memfuse/memfuse/provider/mock"
	"github.com/memfuse/memfuse/retrieval"
	"github.com/memfuse/memfuse/store/inmemory"
)

const testUser = "user-1"

func insertMemory(t *testing.T, st *inmemory.Store, embedder *mock.Embedder, text string, importance float64, age time.Duration) core.Memory {
	t.Helper()
	ctx := context.Background()
	m := core.NewMemory("sess-1", testUser, core.KindSemantic, text)
	m.Importance = importance
	m.CreatedAt = time.Now().Add(-age)
	vec, err := embedder.Embed(ctx, text)
	require.NoError(t, err)
	m.Embedding = vec
	require.NoError(t, st.InsertMemory(ctx, m))
	return m
}

func TestRetrieveRanksBySimilarityFirst(t *testing.T) {
	st := inmemory.New()
	embedder := mock.NewEmbedder(64)
	eng := retrieval.New(st, func(o *retrieval.Options) { o.Embedder = embedder })
	ctx := context.Background()

	// The mock embedder is deterministic per text, so only the verbatim
	// query text scores near 1.0 similarity.
	target := insertMemory(t, st, embedder, "Gai Media prefers Friday deliveries", 0.5, time.Hour)
	insertMemory(t, st, embedder, "TC Boiler uses NET30 payment terms", 0.5, time.Hour)
	insertMemory(t, st, embedder, "Work order rescheduled for Kai Media", 0.5, time.Hour)

	rc, err := eng.Retrieve(ctx, "Gai Media prefers Friday deliveries", testUser, 2, nil)
	require.NoError(t, err)
	require.NotEmpty(t, rc.Memories)
	assert.False(t, rc.Degraded)
	assert.Equal(t, target.ID, rc.Memories[0].Memory.ID)
	assert.InDelta(t, 1.0, rc.Memories[0].Similarity, 1e-6)
	assert.LessOrEqual(t, len(rc.Memories), 2)
}

// fixedEmbedder returns preassigned vectors so fused-score arithmetic is
// exact in tests.
type fixedEmbedder struct{ vecs map[string][]float32 }

func (f fixedEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if v, ok := f.vecs[text]; ok {
		return v, nil
	}
	return []float32{1, 0, 0}, nil
}

func (f fixedEmbedder) Dimensions() int { return 3 }

func TestRetrieveImportanceBreaksSimilarityTies(t *testing.T) {
	st := inmemory.New()
	embedder := fixedEmbedder{vecs: map[string][]float32{}}
	eng := retrieval.New(st, func(o *retrieval.Options) { o.Embedder = embedder })
	ctx := context.Background()

	// Equal similarity and age: the importance term decides the order.
	newMem := func(text string, importance float64) core.Memory {
		m := core.NewMemory("sess-1", testUser, core.KindSemantic, text)
		m.Importance = importance
		m.CreatedAt = time.Now().Add(-time.Hour)
		m.Embedding = []float32{1, 0, 0}
		require.NoError(t, st.InsertMemory(ctx, m))
		return m
	}
	low := newMem("shipment note alpha", 0.1)
	high := newMem("shipment note bravo", 0.95)

	rc, err := eng.Retrieve(ctx, "shipment note", testUser, 2, nil)
	require.NoError(t, err)
	require.Len(t, rc.Memories, 2)
	assert.Equal(t, high.ID, rc.Memories[0].Memory.ID)
	assert.Equal(t, low.ID, rc.Memories[1].Memory.ID)
}

func TestRetrieveKeywordBoostLiftsExactCodes(t *testing.T) {
	st := inmemory.New()
	eng := retrieval.New(st, func(o *retrieval.Options) {
		o.Embedder = fixedEmbedder{vecs: map[string][]float32{}}
	})
	ctx := context.Background()

	// Both memories embed orthogonally to the query; only the lexical boost
	// separates them.
	newMem := func(text string) core.Memory {
		m := core.NewMemory("sess-1", testUser, core.KindSemantic, text)
		m.CreatedAt = time.Now().Add(-time.Hour)
		m.Embedding = []float32{0, 1, 0}
		require.NoError(t, st.InsertMemory(ctx, m))
		return m
	}
	coded := newMem("Invoice reminder sent for INV-1009")
	newMem("Delivery scheduled for next week")

	rc, err := eng.Retrieve(ctx, "any update on INV-1009?", testUser, 2, nil)
	require.NoError(t, err)
	require.Len(t, rc.Memories, 2)
	assert.Equal(t, coded.ID, rc.Memories[0].Memory.ID)
	assert.Greater(t, rc.Memories[0].Fused, rc.Memories[1].Fused)
}

func TestRetrieveExpiredExcluded(t *testing.T) {
	st := inmemory.New()
	embedder := mock.NewEmbedder(64)
	eng := retrieval.New(st, func(o *retrieval.Options) { o.Embedder = embedder })
	ctx := context.Background()

	m := core.NewMemory("sess-1", testUser, core.KindEpisodic, "old task completed")
	m.TTLDays = 7
	m.CreatedAt = time.Now().AddDate(0, 0, -30)
	vec, err := embedder.Embed(ctx, m.Text)
	require.NoError(t, err)
	m.Embedding = vec
	require.NoError(t, st.InsertMemory(ctx, m))

	rc, err := eng.Retrieve(ctx, "old task completed", testUser, 5, nil)
	require.NoError(t, err)
	assert.Empty(t, rc.Memories)
}

func TestRetrieveDegradesOnEmbedFailure(t *testing.T) {
	st := inmemory.New()
	embedder := mock.NewEmbedder(64)
	eng := retrieval.New(st, func(o *retrieval.Options) { o.Embedder = embedder })
	ctx := context.Background()

	target := insertMemory(t, st, embedder, "Gai Media prefers Friday deliveries", 0.9, time.Hour)
	insertMemory(t, st, embedder, "unrelated note about boilers", 0.9, time.Hour)

	// Exhaust the retry budget so the engine falls back to lexical ranking.
	for i := 0; i < 3; i++ {
		embedder.FailNext(core.ErrProviderUnavailable)
	}

	rc, err := eng.Retrieve(ctx, "friday deliveries", testUser, 5, nil)
	require.NoError(t, err)
	assert.True(t, rc.Degraded)
	require.Len(t, rc.Memories, 1)
	assert.Equal(t, target.ID, rc.Memories[0].Memory.ID)
}

func TestRetrieveStableOrdering(t *testing.T) {
	st := inmemory.New()
	embedder := mock.NewEmbedder(64)
	eng := retrieval.New(st, func(o *retrieval.Options) { o.Embedder = embedder })
	ctx := context.Background()

	for _, text := range []string{
		"Gai Media prefers Friday deliveries",
		"TC Boiler uses NET30 payment terms",
		"Work order rescheduled for Kai Media",
		"Invoice reminder sent for INV-1009",
	} {
		insertMemory(t, st, embedder, text, 0.5, time.Hour)
	}

	first, err := eng.Retrieve(ctx, "delivery schedule for Gai Media", testUser, 3, nil)
	require.NoError(t, err)
	second, err := eng.Retrieve(ctx, "delivery schedule for Gai Media", testUser, 3, nil)
	require.NoError(t, err)

	require.Equal(t, len(first.Memories), len(second.Memories))
	for i := range first.Memories {
		assert.Equal(t, first.Memories[i].Memory.ID, second.Memories[i].Memory.ID)
	}
}

func TestRetrieveAttachesDomainFactsCapped(t *testing.T) {
	facts := testutil.SeededFacts(t)
	st := inmemory.New()
	embedder := mock.NewEmbedder(64)
	eng := retrieval.New(st, func(o *retrieval.Options) {
		o.Embedder = embedder
		o.Facts = facts
		o.MaxFacts = 2
	})

	rc, err := eng.Retrieve(context.Background(), "status for Gai Media", testUser, 3,
		[]core.ExternalRef{{Table: "customers", ID: "c-gai"}})
	require.NoError(t, err)
	require.NotEmpty(t, rc.DomainFacts)
	assert.LessOrEqual(t, len(rc.DomainFacts), 2)
	assert.Equal(t, "customers", rc.DomainFacts[0].Table)

	// Unlinked refs attach nothing.
	rc, err = eng.Retrieve(context.Background(), "status", testUser, 3,
		[]core.ExternalRef{{}})
	require.NoError(t, err)
	assert.Empty(t, rc.DomainFacts)
}

func TestRetrieveSummaryFirst(t *testing.T) {
	st := inmemory.New()
	embedder := mock.NewEmbedder(64)
	eng := retrieval.New(st, func(o *retrieval.Options) { o.Embedder = embedder })
	ctx := context.Background()

	text := "Gai Media prefers Friday deliveries; TC Boiler pays NET30."
	vec, err := embedder.Embed(ctx, text)
	require.NoError(t, err)
	sum := core.MemorySummary{
		ID: core.NewID(), UserID: testUser, SessionWindow: 3,
		Summary: text, Embedding: vec, CreatedAt: time.Now(),
	}
	require.NoError(t, st.AppendSummary(ctx, sum))

	// Identical text embeds identically, clearing the 0.7 threshold.
	rc, err := eng.Retrieve(ctx, text, testUser, 3, nil)
	require.NoError(t, err)
	require.NotNil(t, rc.Summary)
	assert.Equal(t, sum.ID, rc.Summary.ID)

	rc, err = eng.Retrieve(ctx, "entirely different topic", testUser, 3, nil)
	require.NoError(t, err)
	assert.Nil(t, rc.Summary)
}

func TestRetrieveEmptyStore(t *testing.T) {
	st := inmemory.New()
	eng := retrieval.New(st, func(o *retrieval.Options) { o.Embedder = mock.NewEmbedder(64) })

	rc, err := eng.Retrieve(context.Background(), "anything at all", testUser, 5, nil)
	require.NoError(t, err)
	assert.Empty(t, rc.Memories)
	assert.Empty(t, rc.DomainFacts)
}

func TestRetrieveRetriesTransientEmbedFailure(t *testing.T) {
	st := inmemory.New()
	embedder := mock.NewEmbedder(64)
	eng := retrieval.New(st, func(o *retrieval.Options) { o.Embedder = embedder })
	ctx := context.Background()

	target := insertMemory(t, st, embedder, "Gai Media prefers Friday deliveries", 0.5, time.Hour)

	// One transient failure stays within the retry budget; the vector path
	// must still run.
	embedder.FailNext(core.ErrRateLimited)

	rc, err := eng.Retrieve(ctx, "Gai Media prefers Friday deliveries", testUser, 3, nil)
	require.NoError(t, err)
	assert.False(t, rc.Degraded)
	require.NotEmpty(t, rc.Memories)
	assert.Equal(t, target.ID, rc.Memories[0].Memory.ID)
	assert.InDelta(t, 1.0, rc.Memories[0].Similarity, 1e-6)
}

func TestRetrieveFlagsConflictingPreferences(t *testing.T) {
	st := inmemory.New()
	embedder := mock.NewEmbedder(64)
	eng := retrieval.New(st, func(o *retrieval.Options) { o.Embedder = embedder })
	ctx := context.Background()

	older := insertMemory(t, st, embedder, "Gai Media prefers Friday deliveries", 0.6, 48*time.Hour)
	newer := insertMemory(t, st, embedder, "Gai Media prefers Thursday deliveries", 0.6, time.Hour)
	// Same day, different subject: must not pair with either of the above.
	insertMemory(t, st, embedder, "Kai Media prefers Thursday deliveries", 0.6, time.Hour)

	rc, err := eng.Retrieve(ctx, "When should we deliver for Gai Media?", testUser, 5, nil)
	require.NoError(t, err)
	require.Len(t, rc.Conflicts, 1)
	c := rc.Conflicts[0]
	assert.Equal(t, newer.ID, c.Newer.ID)
	assert.Equal(t, older.ID, c.Older.ID)
	assert.Equal(t, "most_recent", c.Resolution)
}

func TestRetrieveFlagsFactMemoryInconsistency(t *testing.T) {
	facts := testutil.SeededFacts(t)
	st := inmemory.New()
	embedder := mock.NewEmbedder(64)
	eng := retrieval.New(st, func(o *retrieval.Options) {
		o.Embedder = embedder
		o.Facts = facts
	})
	ctx := context.Background()

	// The seeded order SO-1001 is still in fulfillment.
	stale := insertMemory(t, st, embedder, "SO-1001 was fulfilled last week", 0.6, time.Hour)

	rc, err := eng.Retrieve(ctx, "Is SO-1001 complete?", testUser, 5,
		[]core.ExternalRef{{Table: "sales_orders", ID: "so-1001"}})
	require.NoError(t, err)
	require.Len(t, rc.Inconsistencies, 1)
	inc := rc.Inconsistencies[0]
	assert.Equal(t, "SO-1001", inc.Reference)
	assert.Equal(t, "in_fulfillment", inc.FactStatus)
	assert.Equal(t, "fulfilled", inc.MemoryStatus)
	assert.Equal(t, stale.ID, inc.MemoryID)
	assert.Equal(t, "prefer_db", inc.Resolution)

	// No status wording in the query means no cross-check.
	rc, err = eng.Retrieve(ctx, "Tell me about SO-1001", testUser, 5,
		[]core.ExternalRef{{Table: "sales_orders", ID: "so-1001"}})
	require.NoError(t, err)
	assert.Empty(t, rc.Inconsistencies)
}

// failingFacts errors on every fact lookup.
type failingFacts struct{ domainfact.Store }

func (failingFacts) Facts(context.Context, core.ExternalRef) ([]core.DomainFact, error) {
	return nil, errors.New("connection reset")
}

func TestRetrieveDegradesWhenFactStoreFails(t *testing.T) {
	st := inmemory.New()
	embedder := mock.NewEmbedder(64)
	eng := retrieval.New(st, func(o *retrieval.Options) {
		o.Embedder = embedder
		o.Facts = failingFacts{}
	})
	ctx := context.Background()

	target := insertMemory(t, st, embedder, "Gai Media prefers Friday deliveries", 0.5, time.Hour)

	rc, err := eng.Retrieve(ctx, "Gai Media prefers Friday deliveries", testUser, 3,
		[]core.ExternalRef{{Table: "customers", ID: "c-gai"}})
	require.NoError(t, err)
	assert.True(t, rc.Degraded)
	assert.Empty(t, rc.DomainFacts)
	require.NotEmpty(t, rc.Memories)
	assert.Equal(t, target.ID, rc.Memories[0].Memory.ID)
}
