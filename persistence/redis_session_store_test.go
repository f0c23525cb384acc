package persistence

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func openRedisStore(t *testing.T) (*RedisSessionStore, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	port, err := strconv.Atoi(mr.Port())
	require.NoError(t, err)

	cfg := DefaultConfig()
	cfg.Type = StoreTypeRedis
	cfg.Redis.Host = mr.Host()
	cfg.Redis.Port = port
	cfg.Redis.KeyPrefix = "test:"

	store, err := NewRedisSessionStore(cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store, mr
}

func TestRedisSessionStore_Contract(t *testing.T) {
	runSessionStoreContract(t, func(t *testing.T) SessionStore {
		store, _ := openRedisStore(t)
		return store
	})
}

func TestRedisSessionStore_SessionsCarryTTL(t *testing.T) {
	ctx := context.Background()
	store, mr := openRedisStore(t)

	id, err := store.GetOrCreateActiveSession(ctx, "alice", "ask")
	require.NoError(t, err)
	require.NoError(t, store.AddMessage(ctx, id, "user", "hello"))

	assert.Greater(t, mr.TTL("test:session:"+id), time.Duration(0))
	assert.Greater(t, mr.TTL("test:active:alice:ask"), time.Duration(0))
}

func TestRedisSessionStore_ExpiredSessionIsReplaced(t *testing.T) {
	ctx := context.Background()
	store, mr := openRedisStore(t)

	old, err := store.GetOrCreateActiveSession(ctx, "alice", "ask")
	require.NoError(t, err)
	require.NoError(t, store.AddMessage(ctx, old, "user", "hello"))

	mr.FastForward(25 * time.Hour)

	assert.ErrorIs(t, store.AddMessage(ctx, old, "user", "too late"), ErrSessionNotFound)

	fresh, err := store.GetOrCreateActiveSession(ctx, "alice", "ask")
	require.NoError(t, err)
	assert.NotEqual(t, old, fresh)
}

func TestRedisSessionStore_UnreachableServer(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Type = StoreTypeRedis
	cfg.Redis.Host = "127.0.0.1"
	cfg.Redis.Port = 1

	_, err := NewRedisSessionStore(cfg, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis ping")
}
