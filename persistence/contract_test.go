package persistence

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runSessionStoreContract exercises the behavior every SessionStore
// backend has to share. Each subtest gets a fresh store.
func runSessionStoreContract(t *testing.T, open func(t *testing.T) SessionStore) {
	t.Helper()
	ctx := context.Background()

	t.Run("active session is stable", func(t *testing.T) {
		store := open(t)

		first, err := store.GetOrCreateActiveSession(ctx, "alice", "ask")
		require.NoError(t, err)
		require.NotEmpty(t, first)

		second, err := store.GetOrCreateActiveSession(ctx, "alice", "ask")
		require.NoError(t, err)
		assert.Equal(t, first, second)
	})

	t.Run("users and features are isolated", func(t *testing.T) {
		store := open(t)

		ask, err := store.GetOrCreateActiveSession(ctx, "alice", "ask")
		require.NoError(t, err)
		review, err := store.GetOrCreateActiveSession(ctx, "alice", "review")
		require.NoError(t, err)
		bob, err := store.GetOrCreateActiveSession(ctx, "bob", "ask")
		require.NoError(t, err)

		assert.NotEqual(t, ask, review)
		assert.NotEqual(t, ask, bob)
	})

	t.Run("transcript keeps append order", func(t *testing.T) {
		store := open(t)

		id, err := store.GetOrCreateActiveSession(ctx, "alice", "ask")
		require.NoError(t, err)

		require.NoError(t, store.AddMessage(ctx, id, "user", "What is Go?"))
		require.NoError(t, store.AddMessage(ctx, id, "assistant", "A programming language."))
		require.NoError(t, store.AddMessage(ctx, id, "user", "Who made it?"))

		msgs, err := store.Messages(ctx, id, 0)
		require.NoError(t, err)
		require.Len(t, msgs, 3)
		assert.Equal(t, "user", msgs[0].Role)
		assert.Equal(t, "What is Go?", msgs[0].Content)
		assert.Equal(t, "assistant", msgs[1].Role)
		assert.Equal(t, "user", msgs[2].Role)
		assert.Equal(t, "Who made it?", msgs[2].Content)
		for _, m := range msgs {
			assert.Equal(t, id, m.SessionID)
		}
	})

	t.Run("limit returns the most recent turns", func(t *testing.T) {
		store := open(t)

		id, err := store.GetOrCreateActiveSession(ctx, "alice", "ask")
		require.NoError(t, err)

		require.NoError(t, store.AddMessage(ctx, id, "user", "one"))
		require.NoError(t, store.AddMessage(ctx, id, "assistant", "two"))
		require.NoError(t, store.AddMessage(ctx, id, "user", "three"))

		msgs, err := store.Messages(ctx, id, 2)
		require.NoError(t, err)
		require.Len(t, msgs, 2)
		assert.Equal(t, "two", msgs[0].Content)
		assert.Equal(t, "three", msgs[1].Content)
	})

	t.Run("empty transcript is not an error", func(t *testing.T) {
		store := open(t)

		id, err := store.GetOrCreateActiveSession(ctx, "alice", "ask")
		require.NoError(t, err)

		msgs, err := store.Messages(ctx, id, 0)
		require.NoError(t, err)
		assert.Empty(t, msgs)
	})

	t.Run("close starts a fresh session", func(t *testing.T) {
		store := open(t)

		old, err := store.GetOrCreateActiveSession(ctx, "alice", "ask")
		require.NoError(t, err)
		require.NoError(t, store.AddMessage(ctx, old, "user", "before close"))
		require.NoError(t, store.CloseSession(ctx, old))

		fresh, err := store.GetOrCreateActiveSession(ctx, "alice", "ask")
		require.NoError(t, err)
		assert.NotEqual(t, old, fresh)

		// The old transcript stays readable, and a late assistant turn
		// may still land in it.
		require.NoError(t, store.AddMessage(ctx, old, "assistant", "after close"))
		msgs, err := store.Messages(ctx, old, 0)
		require.NoError(t, err)
		require.Len(t, msgs, 2)
		assert.Equal(t, "after close", msgs[1].Content)

		// Closing twice is a no-op.
		require.NoError(t, store.CloseSession(ctx, old))
	})

	t.Run("unknown session is reported", func(t *testing.T) {
		store := open(t)

		err := store.AddMessage(ctx, "no-such-session", "user", "hello")
		assert.ErrorIs(t, err, ErrSessionNotFound)

		_, err = store.Messages(ctx, "no-such-session", 0)
		assert.ErrorIs(t, err, ErrSessionNotFound)

		err = store.CloseSession(ctx, "no-such-session")
		assert.ErrorIs(t, err, ErrSessionNotFound)
	})

	t.Run("input validation", func(t *testing.T) {
		store := open(t)

		_, err := store.GetOrCreateActiveSession(ctx, "", "ask")
		assert.ErrorIs(t, err, ErrInvalidInput)
		_, err = store.GetOrCreateActiveSession(ctx, "alice", "")
		assert.ErrorIs(t, err, ErrInvalidInput)

		assert.ErrorIs(t, store.AddMessage(ctx, "", "user", "hi"), ErrInvalidInput)

		id, err := store.GetOrCreateActiveSession(ctx, "alice", "ask")
		require.NoError(t, err)
		assert.ErrorIs(t, store.AddMessage(ctx, id, "", "hi"), ErrInvalidInput)

		_, err = store.Messages(ctx, "", 0)
		assert.ErrorIs(t, err, ErrInvalidInput)
		assert.ErrorIs(t, store.CloseSession(ctx, ""), ErrInvalidInput)
	})

	t.Run("ping", func(t *testing.T) {
		store := open(t)
		assert.NoError(t, store.Ping(ctx))
	})
}
