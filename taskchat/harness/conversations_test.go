package harness

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConversations(t *testing.T) {
	store := newSQLStore(t)
	svc := NewConversations(store)
	ctx := context.Background()

	base := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	older, err := store.CreateConversation(ctx, "alice", base)
	require.NoError(t, err)
	newer, err := store.CreateConversation(ctx, "alice", base.Add(time.Hour))
	require.NoError(t, err)
	foreign, err := store.CreateConversation(ctx, "bob", base)
	require.NoError(t, err)
	seedMessages(t, store, "alice", older, 4)

	t.Run("list is scoped and ordered", func(t *testing.T) {
		convs, err := svc.List(ctx, "alice", 0)
		require.NoError(t, err)
		require.Len(t, convs, 2)
		assert.Equal(t, newer, convs[0].ID)
		assert.Equal(t, older, convs[1].ID)
		assert.Equal(t, 4, convs[1].MessageCount)

		convs, err = svc.List(ctx, "alice", 1)
		require.NoError(t, err)
		assert.Len(t, convs, 1)
	})

	t.Run("messages", func(t *testing.T) {
		msgs, err := svc.Messages(ctx, "alice", older, 2)
		require.NoError(t, err)
		require.Len(t, msgs, 2)
		assert.Equal(t, "message 2", msgs[0].Content)
		assert.Equal(t, "message 3", msgs[1].Content)

		_, err = svc.Messages(ctx, "alice", foreign, 10)
		assert.Equal(t, KindAuthorization, KindOf(err))

		_, err = svc.Messages(ctx, "alice", "missing", 10)
		assert.Equal(t, KindAuthorization, KindOf(err))

		_, err = svc.Messages(ctx, "alice", "", 10)
		assert.Equal(t, KindValidation, KindOf(err))
	})

	t.Run("delete", func(t *testing.T) {
		_, err := svc.Delete(ctx, "alice", foreign)
		assert.Equal(t, KindAuthorization, KindOf(err))

		n, err := svc.Delete(ctx, "alice", older)
		require.NoError(t, err)
		assert.Equal(t, 4, n)

		_, err = svc.Messages(ctx, "alice", older, 10)
		assert.Equal(t, KindAuthorization, KindOf(err))

		_, err = svc.Delete(ctx, "alice", older)
		assert.Equal(t, KindAuthorization, KindOf(err))
	})
}

func TestClampPage(t *testing.T) {
	assert.Equal(t, 50, clampPage(0, 50, 100))
	assert.Equal(t, 50, clampPage(-3, 50, 100))
	assert.Equal(t, 7, clampPage(7, 50, 100))
	assert.Equal(t, 100, clampPage(500, 50, 100))
}
