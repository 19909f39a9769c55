package cache

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fuomag9/integration-broker/internal/config"
)

func newTestStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	store := NewRedisStore(redis.NewClient(&redis.Options{Addr: mr.Addr()}), zerolog.Nop())
	t.Cleanup(func() { store.Close() })
	return store, mr
}

func TestRedisStore_SetGetDelete(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "testkey", []byte("testvalue"), 5*time.Second))

	value, err := store.Get(ctx, "testkey")
	require.NoError(t, err)
	assert.Equal(t, "testvalue", string(value))

	require.NoError(t, store.Delete(ctx, "testkey"))

	_, err = store.Get(ctx, "testkey")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisStore_TTL(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "short", []byte("v"), 600*time.Second))
	assert.Equal(t, 600*time.Second, mr.TTL("short"))

	mr.FastForward(601 * time.Second)

	_, err := store.Get(ctx, "short")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisStore_Take(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "once", []byte(`{"access_token":"x"}`), time.Minute))

	value, err := store.Take(ctx, "once")
	require.NoError(t, err)
	assert.JSONEq(t, `{"access_token":"x"}`, string(value))
	assert.False(t, mr.Exists("once"))

	_, err = store.Take(ctx, "once")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisStore_DeleteMany(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "a", []byte("1"), time.Minute))
	require.NoError(t, store.Set(ctx, "b", []byte("2"), time.Minute))

	require.NoError(t, store.Delete(ctx, "a", "b", "missing"))
	assert.False(t, mr.Exists("a"))
	assert.False(t, mr.Exists("b"))

	assert.NoError(t, store.Delete(ctx))
}

func TestRedisStore_ConnectionError(t *testing.T) {
	store, mr := newTestStore(t)
	mr.Close()

	_, err := store.Get(context.Background(), "k")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestConnect(t *testing.T) {
	mr := miniredis.RunT(t)

	port, err := strconv.Atoi(mr.Port())
	require.NoError(t, err)
	store, err := Connect(context.Background(), config.RedisConfig{Host: mr.Host(), Port: port}, zerolog.Nop())
	require.NoError(t, err)
	defer store.Close()

	assert.NoError(t, store.Ping(context.Background()))
}

func TestConnect_Unreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	host := mr.Host()
	port, err := strconv.Atoi(mr.Port())
	require.NoError(t, err)
	mr.Close()

	_, err = Connect(context.Background(), config.RedisConfig{Host: host, Port: port}, zerolog.Nop())
	assert.Error(t, err)
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "airtable_state:o1:u1", StateKey("airtable", "o1", "u1"))
	assert.Equal(t, "airtable_verifier:o1:u1", VerifierKey("airtable", "o1", "u1"))
	assert.Equal(t, "notion_credentials:o1:u1", CredentialsKey("notion", "o1", "u1"))

	// sha256("token")
	assert.Equal(t,
		"hubspot_items_cache:3c469e9d6c5875d37a43f353d4f88e61fcf812c66eee3457465a40b0da4153e0",
		ItemsKey("hubspot", "token"))
}
