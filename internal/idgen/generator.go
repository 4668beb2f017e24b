// Package idgen allocates collision-free 64-bit IDs: a coarse timestamp in
// the high bits and a per-day redis counter in the low bits.
package idgen

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// Epoch is the fixed origin for the timestamp component,
	// 2025-01-01T00:00:00Z.
	Epoch int64 = 1735660800

	// CounterBits is the width of the daily-counter component. A fresh
	// counter starts at zero each day, leaving 2^32 allocations of headroom
	// per namespace per day.
	CounterBits = 32

	keyPrefix = "seq:"
)

type Generator struct {
	rdb *redis.Client
	now func() time.Time
}

func New(rdb *redis.Client) *Generator {
	return &Generator{rdb: rdb, now: time.Now}
}

// NextID returns (elapsedSeconds << CounterBits) | dailyCounter for the
// namespace. IDs are strictly increasing within a namespace as long as the
// clock does not go backward and the counter does not wrap in a single day.
func (g *Generator) NextID(ctx context.Context, namespace string) (int64, error) {
	now := g.now().UTC()
	elapsed := now.Unix() - Epoch

	key := fmt.Sprintf("%s%s:%s", keyPrefix, namespace, now.Format("20060102"))
	count, err := g.rdb.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("increment sequence %s: %w", key, err)
	}

	return elapsed<<CounterBits | count, nil
}
