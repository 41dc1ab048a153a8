package disambig_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memfuse/memfuse/core"
	"github.com/memfuse/memfuse/disambig"
	"github.com/memfuse/memfuse/store/inmemory"
)

func kaiMention() core.CandidateMention {
	return core.CandidateMention{
		SurfaceText: "kai",
		Type:        core.EntityCustomer,
		Ambiguous:   true,
		Links: []core.ScoredLink{
			{Name: "Kai Media", Type: core.EntityCustomer, Ref: core.ExternalRef{Table: "customers", ID: "c-kai"}, Confidence: 0.6},
			{Name: "Kai Media Europe", Type: core.EntityCustomer, Ref: core.ExternalRef{Table: "customers", ID: "c-kai-eu"}, Confidence: 0.6},
		},
	}
}

func TestBeginAsksAndTracksSingleState(t *testing.T) {
	st := inmemory.New()
	eng := disambig.New(st)
	ctx := context.Background()

	question, resolved, err := eng.Begin(ctx, "sess-1", "user-1", kaiMention(), "ship the order for kai")
	require.NoError(t, err)
	assert.Nil(t, resolved)
	assert.Contains(t, question, `"kai"`)
	assert.Contains(t, question, "1. Kai Media")
	assert.Contains(t, question, "2. Kai Media Europe")

	state, ok := eng.Pending("sess-1")
	require.True(t, ok)
	assert.Equal(t, "kai", state.PendingMention)
	assert.Equal(t, "ship the order for kai", state.OriginalText)
	assert.Len(t, state.Candidates, 2)

	// A second ambiguity replaces, never stacks.
	other := kaiMention()
	other.SurfaceText = "media"
	_, _, err = eng.Begin(ctx, "sess-1", "user-1", other, "call media tomorrow")
	require.NoError(t, err)
	state, ok = eng.Pending("sess-1")
	require.True(t, ok)
	assert.Equal(t, "media", state.PendingMention)
}

func TestResolveByOrdinalWords(t *testing.T) {
	for _, reply := range []string{"1", "the first one", "first"} {
		st := inmemory.New()
		eng := disambig.New(st)
		ctx := context.Background()

		_, _, err := eng.Begin(ctx, "sess-1", "user-1", kaiMention(), "original")
		require.NoError(t, err)

		out, err := eng.Resolve(ctx, "sess-1", "user-1", reply)
		require.NoError(t, err, "reply %q", reply)
		require.NotNil(t, out.Selected)
		assert.Equal(t, "Kai Media", out.Selected.Name)
		assert.Equal(t, "original", out.OriginalText)

		_, ok := eng.Pending("sess-1")
		assert.False(t, ok, "state must clear after resolution")
	}
}

func TestResolvePersistsEntityAndAlias(t *testing.T) {
	st := inmemory.New()
	eng := disambig.New(st)
	ctx := context.Background()

	_, _, err := eng.Begin(ctx, "sess-1", "user-1", kaiMention(), "original")
	require.NoError(t, err)

	out, err := eng.Resolve(ctx, "sess-1", "user-1", "Kai Media Europe")
	require.NoError(t, err)
	require.NotNil(t, out.Entity)
	assert.Equal(t, core.SourceDB, out.Entity.Source)
	assert.Equal(t, "c-kai-eu", out.Entity.ExternalRef.ID)

	ents, err := st.SessionEntities(ctx, "sess-1")
	require.NoError(t, err)
	require.Len(t, ents, 1)
	assert.Equal(t, "Kai Media Europe", ents[0].Name)

	mems, err := st.KeywordMemories(ctx, "user-1", []string{"alias mapping"}, 5, time.Now())
	require.NoError(t, err)
	require.Len(t, mems, 1)
	assert.Equal(t, "Alias mapping: 'kai' refers to 'Kai Media Europe'", mems[0].Text)
	assert.Equal(t, core.KindSemantic, mems[0].Kind)
	assert.Equal(t, 0.8, mems[0].Importance)
	assert.Zero(t, mems[0].TTLDays)
}

func TestAliasShortCircuitsLaterQuestions(t *testing.T) {
	st := inmemory.New()
	eng := disambig.New(st)
	ctx := context.Background()

	_, _, err := eng.Begin(ctx, "sess-1", "user-1", kaiMention(), "original")
	require.NoError(t, err)
	_, err = eng.Resolve(ctx, "sess-1", "user-1", "2")
	require.NoError(t, err)

	// Same shorthand in a later session resolves without asking.
	question, resolved, err := eng.Begin(ctx, "sess-2", "user-1", kaiMention(), "invoice kai again")
	require.NoError(t, err)
	require.NotNil(t, resolved)
	assert.Equal(t, "Kai Media Europe", resolved.Name)
	assert.Empty(t, question)
	_, ok := eng.Pending("sess-2")
	assert.False(t, ok)
}

func TestUnparseableReplyReasksOnceThenDegrades(t *testing.T) {
	st := inmemory.New()
	eng := disambig.New(st)
	ctx := context.Background()

	_, _, err := eng.Begin(ctx, "sess-1", "user-1", kaiMention(), "original")
	require.NoError(t, err)

	out, err := eng.Resolve(ctx, "sess-1", "user-1", "what's the weather like?")
	require.NoError(t, err)
	assert.True(t, out.Reask)
	assert.Contains(t, out.Question, "Which one did you mean?")
	_, ok := eng.Pending("sess-1")
	assert.True(t, ok)

	out, err = eng.Resolve(ctx, "sess-1", "user-1", "still no idea")
	require.NoError(t, err)
	assert.False(t, out.Reask)
	assert.Nil(t, out.Selected)
	require.NotNil(t, out.Entity)
	assert.Equal(t, core.SourceMessage, out.Entity.Source)
	assert.True(t, out.Entity.ExternalRef.IsZero())
	_, ok = eng.Pending("sess-1")
	assert.False(t, ok)
}

func TestRejectionRecordsUnresolved(t *testing.T) {
	st := inmemory.New()
	eng := disambig.New(st)
	ctx := context.Background()

	_, _, err := eng.Begin(ctx, "sess-1", "user-1", kaiMention(), "original")
	require.NoError(t, err)

	out, err := eng.Resolve(ctx, "sess-1", "user-1", "none of these")
	require.NoError(t, err)
	assert.True(t, out.Rejected)
	require.NotNil(t, out.Entity)
	assert.Equal(t, "kai", out.Entity.Name)
	assert.True(t, out.Entity.ExternalRef.IsZero())
}

func TestExpiredStateTreatedAsFreshUtterance(t *testing.T) {
	st := inmemory.New()
	now := time.Now()
	eng := disambig.New(st, func(o *disambig.Options) {
		o.TTL = time.Minute
		o.Now = func() time.Time { return now }
	})
	ctx := context.Background()

	_, _, err := eng.Begin(ctx, "sess-1", "user-1", kaiMention(), "original")
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)

	_, ok := eng.Pending("sess-1")
	assert.False(t, ok)

	_, err = eng.Resolve(ctx, "sess-1", "user-1", "1")
	assert.ErrorIs(t, err, core.ErrDisambiguationExpired)
}

func TestMaxCandidatesCap(t *testing.T) {
	st := inmemory.New()
	eng := disambig.New(st, func(o *disambig.Options) { o.MaxCandidates = 2 })
	ctx := context.Background()

	m := kaiMention()
	m.Links = append(m.Links, core.ScoredLink{Name: "Kai Logistics", Type: core.EntityCustomer, Confidence: 0.6})

	question, _, err := eng.Begin(ctx, "sess-1", "user-1", m, "original")
	require.NoError(t, err)
	assert.Contains(t, question, "2. Kai Media Europe")
	assert.NotContains(t, question, "Kai Logistics")

	state, ok := eng.Pending("sess-1")
	require.True(t, ok)
	assert.Len(t, state.Candidates, 2)
}

func TestParseSelectionPartialMatch(t *testing.T) {
	candidates := kaiMention().Links

	link, ok := disambig.ParseSelection("the media one in europe, kai", candidates)
	require.True(t, ok)
	assert.Equal(t, "Kai Media Europe", link.Name)

	_, ok = disambig.ParseSelection("", candidates)
	assert.False(t, ok)
	_, ok = disambig.ParseSelection("something unrelated entirely", candidates)
	assert.False(t, ok)
}

func TestParseSelectionPrefersMostSpecificName(t *testing.T) {
	candidates := kaiMention().Links

	// One candidate's name is a prefix of another; naming the longer one
	// must never resolve to the shorter.
	link, ok := disambig.ParseSelection("Kai Media Europe", candidates)
	require.True(t, ok)
	assert.Equal(t, "c-kai-eu", link.Ref.ID)

	link, ok = disambig.ParseSelection("I meant kai media europe, thanks", candidates)
	require.True(t, ok)
	assert.Equal(t, "c-kai-eu", link.Ref.ID)

	link, ok = disambig.ParseSelection("kai media", candidates)
	require.True(t, ok)
	assert.Equal(t, "c-kai", link.Ref.ID)
}
