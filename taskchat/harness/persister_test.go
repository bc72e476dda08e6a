package harness

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ports "github.com/ZanzyTHEbar/taskchat/taskchat/harness/ports"
)

func TestTurnPersister_CommitWithReply(t *testing.T) {
	store := newSQLStore(t)
	ctx := context.Background()
	created := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	convID, err := store.CreateConversation(ctx, "alice", created)
	require.NoError(t, err)

	p := NewTurnPersister(store, time.Second, 100, &noOpTracer{}, zerolog.Nop())
	at := created.Add(time.Minute)
	require.NoError(t, p.Commit(ctx, convID, "alice",
		Utterance{Content: "hi", At: at},
		&Utterance{Content: "hello!", At: at.Add(time.Millisecond)},
	))

	msgs, err := store.LoadRecentMessages(ctx, "alice", convID, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, ports.RoleUser, msgs[0].Role)
	assert.Equal(t, "hi", msgs[0].Content)
	assert.Equal(t, ports.RoleAssistant, msgs[1].Role)
	assert.Equal(t, "hello!", msgs[1].Content)
	assert.NotEqual(t, msgs[0].ID, msgs[1].ID)

	convs, err := store.ListConversations(ctx, "alice", 10)
	require.NoError(t, err)
	require.Len(t, convs, 1)
	assert.True(t, convs[0].UpdatedAt.Equal(at.Add(time.Millisecond)))
	assert.Equal(t, 2, convs[0].MessageCount)
}

func TestTurnPersister_UserOnlyAndTruncation(t *testing.T) {
	store := newMemStore()
	convID, err := store.CreateConversation(context.Background(), "alice", time.Now())
	require.NoError(t, err)

	p := NewTurnPersister(store, time.Second, 5, &noOpTracer{}, zerolog.Nop())
	require.NoError(t, p.Commit(context.Background(), convID, "alice", Utterance{Content: "héllo wörld", At: time.Now()}, nil))

	msgs := store.Messages(convID)
	require.Len(t, msgs, 1)
	assert.Equal(t, "héllo", msgs[0].Content)
}

func TestTurnPersister_FailureIsPersistenceError(t *testing.T) {
	store := newMemStore()
	store.commitErr = errors.New("database is locked")
	p := NewTurnPersister(store, time.Second, 100, &noOpTracer{}, zerolog.Nop())

	err := p.Commit(context.Background(), "conv-1", "alice", Utterance{Content: "hi", At: time.Now()}, &Utterance{Content: "yo", At: time.Now()})
	assert.Equal(t, KindPersistence, KindOf(err))
	assert.Equal(t, 1, store.Commits())
	assert.Empty(t, store.Messages("conv-1"))
}

func TestTurnPersister_UnknownConversationRollsBack(t *testing.T) {
	store := newSQLStore(t)
	p := NewTurnPersister(store, time.Second, 100, &noOpTracer{}, zerolog.Nop())

	err := p.Commit(context.Background(), "ghost", "alice", Utterance{Content: "hi", At: time.Now()}, nil)
	require.Error(t, err)
	assert.Equal(t, KindPersistence, KindOf(err))
}

func TestTurnPersister_SurvivesCanceledCaller(t *testing.T) {
	store := newSQLStore(t)
	convID, err := store.CreateConversation(context.Background(), "alice", time.Now())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := NewTurnPersister(store, time.Second, 100, &noOpTracer{}, zerolog.Nop())
	require.NoError(t, p.Commit(ctx, convID, "alice", Utterance{Content: "hi", At: time.Now()}, nil))

	msgs, err := store.LoadRecentMessages(context.Background(), "alice", convID, 10)
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
}

func TestTruncateRunes(t *testing.T) {
	assert.Equal(t, "abc", truncateRunes("abc", 0))
	assert.Equal(t, "abc", truncateRunes("abc", 3))
	assert.Equal(t, "ab", truncateRunes("abc", 2))
	assert.Equal(t, "日本", truncateRunes("日本語", 2))
	assert.Equal(t, strings.Repeat("x", 10), truncateRunes(strings.Repeat("x", 20), 10))
}
