package dedupe

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/poiesic/maildigest/storage/badger"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKey(t *testing.T) {
	assert.Equal(t, "id:abc", Key("abc", []byte("body")))

	h1 := Key("", []byte("same body"))
	h2 := Key("", []byte("same body"))
	h3 := Key("", []byte("other body"))
	assert.Equal(t, h1, h2)
	assert.NotEqual(t, h1, h3)
	assert.Contains(t, h1, "hash:")
}

func exerciseDeduper(t *testing.T, d Deduper) {
	ctx := context.Background()
	key := "id:" + uuid.NewString()

	assert.True(t, d.AcquireOnce(ctx, key))
	assert.False(t, d.AcquireOnce(ctx, key))

	d.Release(ctx, key)
	assert.True(t, d.AcquireOnce(ctx, key))
}

func TestBadgerDeduper(t *testing.T) {
	backend, err := badger.OpenBackend("", true)
	require.NoError(t, err)
	defer backend.Close()

	exerciseDeduper(t, NewBadgerDeduper(backend, time.Hour, nil))
}

func TestBadgerDeduper_FailsOpenWhenClosed(t *testing.T) {
	backend, err := badger.OpenBackend("", true)
	require.NoError(t, err)
	d := NewBadgerDeduper(backend, time.Hour, nil)
	require.NoError(t, backend.Close())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.True(t, d.AcquireOnce(ctx, "k"))
}

func TestRedisDeduper(t *testing.T) {
	addr := os.Getenv("MAILDIGEST_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("MAILDIGEST_TEST_REDIS_ADDR not set")
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	defer rdb.Close()

	exerciseDeduper(t, NewRedisDeduper(rdb, time.Minute, nil))
}

func TestRedisDeduper_FailsOpen(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 50 * time.Millisecond, MaxRetries: -1})
	defer rdb.Close()

	d := NewRedisDeduper(rdb, time.Minute, nil)
	assert.True(t, d.AcquireOnce(context.Background(), "k"))
	assert.True(t, d.AcquireOnce(context.Background(), "k"))
}
