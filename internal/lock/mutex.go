// Package lock implements a leased redis mutex. The key exists iff the lock
// is held; release deletes the key only when the stored token still belongs
// to the releasing holder, so an expired lease re-acquired by someone else
// is never torn down by the original holder.
package lock

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "lock:"

var unlockScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return 0
`)

type Mutex struct {
	rdb   *redis.Client
	name  string
	token string
}

// NewMutex creates a mutex for the named resource. The holder token is
// unique per Mutex instance.
func NewMutex(rdb *redis.Client, name string) *Mutex {
	return &Mutex{
		rdb:   rdb,
		name:  name,
		token: uuid.NewString(),
	}
}

// TryLock attempts a non-blocking acquire with the given lease. It returns
// false immediately on contention; callers choose their own retry policy.
func (m *Mutex) TryLock(ctx context.Context, lease time.Duration) (bool, error) {
	return m.rdb.SetNX(ctx, keyPrefix+m.name, m.token, lease).Result()
}

// Unlock releases the lock via an atomic check-and-delete. Releasing a lock
// whose lease already expired (and may now be held by another token) is a
// no-op, not an error.
func (m *Mutex) Unlock(ctx context.Context) error {
	return unlockScript.Run(ctx, m.rdb, []string{keyPrefix + m.name}, m.token).Err()
}
