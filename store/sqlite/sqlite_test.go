package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memfuse/memfuse/core"
	"github.com/memfuse/memfuse/provider/mock"
	"github.com/memfuse/memfuse/store/sqlite"
)

func newStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.New(filepath.Join(t.TempDir(), "memfuse.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func embed(t *testing.T, text string) []float32 {
	t.Helper()
	vec, err := mock.NewEmbedder(64).Embed(context.Background(), text)
	require.NoError(t, err)
	return vec
}

func TestEventRoundTrip(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	first, err := s.AppendEvent(ctx, core.NewChatEvent("sess-1", core.RoleUser, "hello"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), first.Seq)

	second, err := s.AppendEvent(ctx, core.NewChatEvent("sess-1", core.RoleAssistant, "hi there"))
	require.NoError(t, err)
	assert.Equal(t, int64(2), second.Seq)

	// Other sessions have their own sequence.
	other, err := s.AppendEvent(ctx, core.NewChatEvent("sess-2", core.RoleUser, "hey"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), other.Seq)

	events, err := s.SessionEvents(ctx, "sess-1", 0)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "hello", events[0].Content)
	assert.Equal(t, core.RoleAssistant, events[1].Role)

	tail, err := s.SessionEvents(ctx, "sess-1", 1)
	require.NoError(t, err)
	require.Len(t, tail, 1)
	assert.Equal(t, "hi there", tail[0].Content)
}

func TestMemoryRoundTripPreservesEmbedding(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	m := core.NewMemory("sess-1", "u1", core.KindSemantic, "Gai Media prefers Friday deliveries")
	m.Embedding = embed(t, m.Text)
	require.NoError(t, s.InsertMemory(ctx, m))

	got, err := s.Memory(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, m.Text, got.Text)
	assert.Equal(t, m.Embedding, got.Embedding)
	assert.Equal(t, m.Kind, got.Kind)

	_, err = s.Memory(ctx, "missing")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestSimilarMemoriesRanksAndFiltersTTL(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	target := core.NewMemory("sess-1", "u1", core.KindSemantic, "invoice INV-1001 has an open balance")
	target.Embedding = embed(t, target.Text)
	require.NoError(t, s.InsertMemory(ctx, target))

	unrelated := core.NewMemory("sess-1", "u1", core.KindEpisodic, "likes hiking on weekends")
	unrelated.Embedding = embed(t, unrelated.Text)
	require.NoError(t, s.InsertMemory(ctx, unrelated))

	expired := core.NewMemory("sess-1", "u1", core.KindEpisodic, "invoice INV-1001 mentioned in passing")
	expired.TTLDays = 7
	expired.CreatedAt = now.AddDate(0, 0, -30)
	expired.Embedding = embed(t, expired.Text)
	require.NoError(t, s.InsertMemory(ctx, expired))

	got, err := s.SimilarMemories(ctx, "u1", embed(t, "invoice INV-1001 has an open balance"), 10, now)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, target.ID, got[0].Memory.ID)
	assert.Greater(t, got[0].Similarity, got[1].Similarity)
}

func TestBumpImportanceMonotonic(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	m := core.NewMemory("sess-1", "u1", core.KindSemantic, "prefers morning calls")
	require.NoError(t, s.InsertMemory(ctx, m))

	require.NoError(t, s.BumpImportance(ctx, m.ID, 0.9))
	got, err := s.Memory(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, 0.9, got.Importance)

	require.NoError(t, s.BumpImportance(ctx, m.ID, 0.1))
	got, err = s.Memory(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, 0.9, got.Importance)

	assert.ErrorIs(t, s.BumpImportance(ctx, "missing", 1.0), core.ErrNotFound)
}

func TestKeywordMemoriesCaseInsensitive(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	m := core.NewMemory("sess-1", "u1", core.KindEpisodic, "Work order WO-77 rescheduled to Friday")
	require.NoError(t, s.InsertMemory(ctx, m))

	got, err := s.KeywordMemories(ctx, "u1", []string{"wo-77"}, 10, time.Now())
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, m.ID, got[0].ID)
}

func TestRecentSessionMemories(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	base := time.Now().UTC().Add(-3 * time.Hour)

	for i, sess := range []string{"s1", "s2", "s3"} {
		m := core.NewMemory(sess, "u1", core.KindEpisodic, "memory in "+sess)
		m.CreatedAt = base.Add(time.Duration(i) * time.Hour)
		require.NoError(t, s.InsertMemory(ctx, m))
	}

	got, err := s.RecentSessionMemories(ctx, "u1", 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	for _, m := range got {
		assert.NotEqual(t, "s1", m.SessionID)
	}
}

func TestSummariesNewestFirst(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	base := time.Now().UTC().Add(-time.Hour)

	for i, text := range []string{"older summary", "newer summary"} {
		sum := core.MemorySummary{
			ID:            core.NewID(),
			UserID:        "u1",
			SessionWindow: 3,
			Summary:       text,
			Embedding:     embed(t, text),
			CreatedAt:     base.Add(time.Duration(i) * time.Minute),
		}
		require.NoError(t, s.AppendSummary(ctx, sum))
	}

	got, err := s.Summaries(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "newer summary", got[0].Summary)

	scored, err := s.SimilarSummaries(ctx, "u1", embed(t, "newer summary"), 1)
	require.NoError(t, err)
	require.Len(t, scored, 1)
	assert.Equal(t, "newer summary", scored[0].Summary.Summary)
}

func TestEntityRoundTrip(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	e := core.NewEntity("sess-1", "Gai Media", core.EntityCustomer)
	require.NoError(t, s.InsertEntity(ctx, e))
	resolved := e.Resolved(core.ExternalRef{Table: "customers", ID: "c-1"})
	require.NoError(t, s.InsertEntity(ctx, resolved))

	got, err := s.SessionEntities(ctx, "sess-1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "customers", got[1].ExternalRef.Table)
}
