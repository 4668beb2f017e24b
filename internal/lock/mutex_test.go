package lock

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func getRedisClient(t *testing.T) *redis.Client {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}

	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	return client
}

func TestMutex_AcquireAndRelease(t *testing.T) {
	client := getRedisClient(t)
	defer client.Close()
	ctx := context.Background()

	client.Del(ctx, "lock:test-acquire")

	mu := NewMutex(client, "test-acquire")
	ok, err := mu.TryLock(ctx, 10*time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	// Held iff the key exists.
	exists, err := client.Exists(ctx, "lock:test-acquire").Result()
	require.NoError(t, err)
	require.Equal(t, int64(1), exists)

	require.NoError(t, mu.Unlock(ctx))

	exists, err = client.Exists(ctx, "lock:test-acquire").Result()
	require.NoError(t, err)
	require.Equal(t, int64(0), exists)
}

func TestMutex_Contention(t *testing.T) {
	client := getRedisClient(t)
	defer client.Close()
	ctx := context.Background()

	client.Del(ctx, "lock:test-contention")

	first := NewMutex(client, "test-contention")
	ok, err := first.TryLock(ctx, 10*time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	second := NewMutex(client, "test-contention")
	ok, err = second.TryLock(ctx, 10*time.Second)
	require.NoError(t, err)
	require.False(t, ok, "second holder must not acquire a held lock")

	require.NoError(t, first.Unlock(ctx))

	ok, err = second.TryLock(ctx, 10*time.Second)
	require.NoError(t, err)
	require.True(t, ok, "lock must be acquirable after release")
	require.NoError(t, second.Unlock(ctx))
}

func TestMutex_ReleaseOnlyOwnToken(t *testing.T) {
	client := getRedisClient(t)
	defer client.Close()
	ctx := context.Background()

	client.Del(ctx, "lock:test-token")

	// Simulates a lease that expired and was re-acquired by another holder:
	// the original holder's release must be a no-op.
	stale := NewMutex(client, "test-token")
	ok, err := stale.TryLock(ctx, 10*time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	client.Del(ctx, "lock:test-token") // lease expiry

	current := NewMutex(client, "test-token")
	ok, err = current.TryLock(ctx, 10*time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, stale.Unlock(ctx))

	exists, err := client.Exists(ctx, "lock:test-token").Result()
	require.NoError(t, err)
	require.Equal(t, int64(1), exists, "stale holder must not release the current lease")

	require.NoError(t, current.Unlock(ctx))
}

func TestMutex_LeaseExpiry(t *testing.T) {
	client := getRedisClient(t)
	defer client.Close()
	ctx := context.Background()

	client.Del(ctx, "lock:test-expiry")

	mu := NewMutex(client, "test-expiry")
	ok, err := mu.TryLock(ctx, 100*time.Millisecond)
	require.NoError(t, err)
	require.True(t, ok)

	time.Sleep(200 * time.Millisecond)

	other := NewMutex(client, "test-expiry")
	ok, err = other.TryLock(ctx, 10*time.Second)
	require.NoError(t, err)
	require.True(t, ok, "expired lease must be self-healing")
	require.NoError(t, other.Unlock(ctx))
}
