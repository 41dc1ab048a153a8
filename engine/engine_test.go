package engine_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memfuse/memfuse/config"
	"github.com/memfuse/memfuse/core"
	"github.com/memfuse/memfuse/engine"
	"github.com/memfuse/memfuse/internal/testutil"
	"github.com/memfuse/memfuse/provider/mock"
	"github.com/memfuse/memfuse/store/inmemory"
)

func newTestEngine(t *testing.T, optFns ...func(o *engine.Options)) (*engine.Engine, *inmemory.Store) {
	t.Helper()
	facts := testutil.SeededFacts(t)
	st := inmemory.New()
	base := func(o *engine.Options) {
		o.Embedder = mock.NewEmbedder(32)
		o.Completer = mock.NewCompleter()
		o.Facts = facts
	}
	eng := engine.New(st, append([]func(o *engine.Options){base}, optFns...)...)
	return eng, st
}

func TestTurnValidation(t *testing.T) {
	eng, _ := newTestEngine(t)

	_, err := eng.Turn(context.Background(), core.TurnRequest{Message: "hello"})
	assert.Error(t, err)

	_, err = eng.Turn(context.Background(), core.TurnRequest{UserID: "u-1", Message: "   "})
	assert.Error(t, err)
}

func TestTurnAssignsSessionID(t *testing.T) {
	eng, _ := newTestEngine(t)

	res, err := eng.Turn(context.Background(), core.TurnRequest{UserID: "u-1", Message: "hello there"})
	require.NoError(t, err)
	assert.NotEmpty(t, res.SessionID)

	// A provided session id is kept as-is.
	res2, err := eng.Turn(context.Background(), core.TurnRequest{UserID: "u-1", SessionID: "sess-9", Message: "hello again"})
	require.NoError(t, err)
	assert.Equal(t, "sess-9", res2.SessionID)
}

func TestTurnStoresPreferenceMemory(t *testing.T) {
	eng, st := newTestEngine(t)

	res, err := eng.Turn(context.Background(), core.TurnRequest{
		UserID:  "u-1",
		Message: "Remember: Gai Media prefers Friday deliveries",
	})
	require.NoError(t, err)
	assert.Equal(t, core.TurnFull, res.Status)
	assert.Contains(t, res.StoredKinds, core.KindSemantic)

	memories, err := st.KeywordMemories(context.Background(), "u-1", []string{"friday"}, 10, time.Now().UTC())
	require.NoError(t, err)
	require.NotEmpty(t, memories)
	assert.Contains(t, memories[0].Text, "Friday")

	events, err := st.SessionEvents(context.Background(), res.SessionID, 0)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, core.RoleUser, events[0].Role)
	assert.Equal(t, core.RoleAssistant, events[1].Role)
}

func TestTurnRecallsPreferenceAcrossSessions(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	resA, err := eng.Turn(ctx, core.TurnRequest{
		UserID:  "u-1",
		Message: "Remember: Gai Media prefers Friday deliveries",
	})
	require.NoError(t, err)
	require.Contains(t, resA.StoredKinds, core.KindSemantic)

	// A brand-new session still sees the stored preference and the linked
	// customer record.
	resB, err := eng.Turn(ctx, core.TurnRequest{
		UserID:  "u-1",
		Message: "When should we deliver for Gai Media?",
	})
	require.NoError(t, err)
	assert.NotEqual(t, resA.SessionID, resB.SessionID)

	require.NotNil(t, resB.Context)
	var recalled bool
	for _, m := range resB.Context.Memories {
		if m.Memory.Text == "Gai Media prefers Friday deliveries; align scheduling accordingly." {
			recalled = true
		}
	}
	assert.True(t, recalled, "preference memory should rank into the context")

	require.NotEmpty(t, resB.Context.DomainFacts)
	assert.Equal(t, "customers", resB.Context.DomainFacts[0].Table)
}

func TestTurnClarificationRoundTrip(t *testing.T) {
	eng, st := newTestEngine(t)

	res, err := eng.Turn(context.Background(), core.TurnRequest{
		UserID:  "u-1",
		Message: "Ship the order for kai",
	})
	require.NoError(t, err)
	require.Equal(t, core.TurnClarification, res.Status)
	require.Len(t, res.Candidates, 2)
	assert.Contains(t, res.Reply, "Which one did you mean?")
	assert.Contains(t, res.Reply, "Kai Media")

	// The reply resumes the original utterance with the mention settled.
	res2, err := eng.Turn(context.Background(), core.TurnRequest{
		UserID:    "u-1",
		SessionID: res.SessionID,
		Message:   "1",
	})
	require.NoError(t, err)
	assert.Equal(t, core.TurnFull, res2.Status)
	assert.NotContains(t, res2.Reply, "Which one did you mean?")
	assert.Contains(t, res2.StoredKinds, core.KindEpisodic)

	require.NotNil(t, res2.Context)
	require.NotEmpty(t, res2.Context.DomainFacts)
	assert.Equal(t, "customers", res2.Context.DomainFacts[0].Table)

	entities, err := st.SessionEntities(context.Background(), res.SessionID)
	require.NoError(t, err)
	var linked bool
	for _, e := range entities {
		if !e.ExternalRef.IsZero() {
			linked = true
		}
	}
	assert.True(t, linked, "resolved entity should carry its external reference")
}

func TestTurnAliasSkipsLaterClarification(t *testing.T) {
	eng, _ := newTestEngine(t)

	res, err := eng.Turn(context.Background(), core.TurnRequest{
		UserID:  "u-1",
		Message: "Ship the order for kai",
	})
	require.NoError(t, err)
	require.Equal(t, core.TurnClarification, res.Status)

	_, err = eng.Turn(context.Background(), core.TurnRequest{
		UserID:    "u-1",
		SessionID: res.SessionID,
		Message:   "Kai Media Europe",
	})
	require.NoError(t, err)

	// The alias memory written on resolution resolves the next mention
	// without another question, even in a new session.
	res3, err := eng.Turn(context.Background(), core.TurnRequest{
		UserID:  "u-1",
		Message: "Ship the order for kai",
	})
	require.NoError(t, err)
	assert.NotEqual(t, core.TurnClarification, res3.Status)
}

func TestTurnUnparseableReplyReasksThenDegrades(t *testing.T) {
	eng, _ := newTestEngine(t)

	res, err := eng.Turn(context.Background(), core.TurnRequest{
		UserID:  "u-1",
		Message: "Ship the order for kai",
	})
	require.NoError(t, err)
	require.Equal(t, core.TurnClarification, res.Status)

	res2, err := eng.Turn(context.Background(), core.TurnRequest{
		UserID:    "u-1",
		SessionID: res.SessionID,
		Message:   "whatever you think",
	})
	require.NoError(t, err)
	assert.Equal(t, core.TurnClarification, res2.Status)
	// The re-ask carries the same candidate list as the first question.
	assert.Equal(t, res.Candidates, res2.Candidates)
	require.NotEmpty(t, res2.Candidates)

	// A second unparseable reply gives up on the question and finishes the
	// original turn with the mention unresolved.
	res3, err := eng.Turn(context.Background(), core.TurnRequest{
		UserID:    "u-1",
		SessionID: res.SessionID,
		Message:   "just do it already",
	})
	require.NoError(t, err)
	assert.NotEqual(t, core.TurnClarification, res3.Status)
	assert.NotContains(t, res3.Reply, "Which one did you mean?")
}

func TestTurnExpiredClarificationTreatedAsFresh(t *testing.T) {
	cfg := config.Default()
	cfg.Disambiguation.TTL = time.Millisecond
	eng, _ := newTestEngine(t, func(o *engine.Options) { o.Config = cfg })

	res, err := eng.Turn(context.Background(), core.TurnRequest{
		UserID:  "u-1",
		Message: "Ship the order for kai",
	})
	require.NoError(t, err)
	require.Equal(t, core.TurnClarification, res.Status)

	time.Sleep(5 * time.Millisecond)

	res2, err := eng.Turn(context.Background(), core.TurnRequest{
		UserID:    "u-1",
		SessionID: res.SessionID,
		Message:   "1",
	})
	require.NoError(t, err)
	assert.NotEqual(t, core.TurnClarification, res2.Status)
}

func TestTurnMasksPhoneNumbers(t *testing.T) {
	eng, st := newTestEngine(t)

	res, err := eng.Turn(context.Background(), core.TurnRequest{
		UserID:  "u-1",
		Message: "This is urgent, reach Dana at 555-123-4567",
	})
	require.NoError(t, err)

	events, err := st.SessionEvents(context.Background(), res.SessionID, 0)
	require.NoError(t, err)
	require.NotEmpty(t, events)
	assert.NotContains(t, events[0].Content, "555-123-4567")
	assert.Contains(t, events[0].Content, "***-***-****")
}

func TestTurnNilCompleterDegrades(t *testing.T) {
	eng, _ := newTestEngine(t, func(o *engine.Options) { o.Completer = nil })

	res, err := eng.Turn(context.Background(), core.TurnRequest{
		UserID:  "u-1",
		Message: "What is the status of SO-1001?",
	})
	require.NoError(t, err)
	assert.Equal(t, core.TurnDegraded, res.Status)
	assert.Contains(t, res.Reply, "recorded your message")
}

func TestConsolidateRequiresUser(t *testing.T) {
	eng, _ := newTestEngine(t)

	_, err := eng.Consolidate(context.Background(), "")
	assert.Error(t, err)
}

func TestConsolidateSummarizesTurnMemories(t *testing.T) {
	eng, _ := newTestEngine(t)

	_, err := eng.Turn(context.Background(), core.TurnRequest{
		UserID:  "u-1",
		Message: "Remember: Gai Media prefers Friday deliveries",
	})
	require.NoError(t, err)

	sum, err := eng.Consolidate(context.Background(), "u-1")
	require.NoError(t, err)
	assert.Contains(t, sum.Summary, "- ")
}

func TestTurnSerializesWithinSession(t *testing.T) {
	eng, st := newTestEngine(t)

	const turns = 4
	var wg sync.WaitGroup
	for i := 0; i < turns; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := eng.Turn(context.Background(), core.TurnRequest{
				UserID:    "u-1",
				SessionID: "sess-c",
				Message:   "hello there",
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	events, err := st.SessionEvents(context.Background(), "sess-c", 0)
	require.NoError(t, err)
	// Serialized turns interleave cleanly: one user and one assistant event
	// per turn.
	assert.Len(t, events, turns*2)
}
