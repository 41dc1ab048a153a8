package memfuse_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memfuse/memfuse"
	"github.com/memfuse/memfuse/core"
	"github.com/memfuse/memfuse/internal/testutil"
	"github.com/memfuse/memfuse/provider/mock"
)

func TestChatRoundTrip(t *testing.T) {
	mf := memfuse.New(func(o *memfuse.Options) {
		o.Embedder = mock.NewEmbedder(32)
		o.Completer = mock.NewCompleter()
		o.Facts = testutil.SeededFacts(t)
	})
	defer mf.Close()
	ctx := context.Background()

	res, err := mf.Chat(ctx, core.TurnRequest{
		UserID:  "u-1",
		Message: "Remember: Gai Media prefers Friday deliveries",
	})
	require.NoError(t, err)
	require.NotEmpty(t, res.SessionID)
	assert.Equal(t, core.TurnFull, res.Status)

	history, err := mf.History(ctx, res.SessionID, 0)
	require.NoError(t, err)
	assert.Len(t, history, 2)

	entities, err := mf.Entities(ctx, res.SessionID)
	require.NoError(t, err)
	assert.NotEmpty(t, entities)

	memories, err := mf.Memories(ctx, "u-1", 0)
	require.NoError(t, err)
	require.NotEmpty(t, memories)
	assert.Equal(t, core.KindSemantic, memories[0].Kind)

	sum, err := mf.Consolidate(ctx, "u-1")
	require.NoError(t, err)
	assert.NotEmpty(t, sum.Summary)

	summaries, err := mf.Summaries(ctx, "u-1")
	require.NoError(t, err)
	assert.Len(t, summaries, 1)
}

func TestDefaultsWithoutProviders(t *testing.T) {
	mf := memfuse.New()
	defer mf.Close()

	res, err := mf.Chat(context.Background(), core.TurnRequest{
		UserID:  "u-1",
		Message: "hello there",
	})
	require.NoError(t, err)
	assert.Equal(t, core.TurnDegraded, res.Status)
	assert.NotEmpty(t, res.Reply)
}
