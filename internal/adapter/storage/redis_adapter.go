package storage

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/hieudt/voucher-rush/internal/port"
)

const (
	stockKeyPrefix    = "seckill:stock:"
	orderSetKeyPrefix = "seckill:order:"
)

// reserveScript is the intake gate: stock check, per-user membership check,
// decrement and record, all in one indivisible server-side step. There is no
// window between check and decrement for concurrent requests to race in.
var reserveScript = redis.NewScript(`
local stockKey = KEYS[1]
local orderKey = KEYS[2]
local userId = ARGV[1]

if tonumber(redis.call('GET', stockKey) or '0') <= 0 then
	return 1
end

if redis.call('SISMEMBER', orderKey, userId) == 1 then
	return 2
end

redis.call('DECRBY', stockKey, 1)
redis.call('SADD', orderKey, userId)
return 0
`)

type RedisAdapter struct {
	client *redis.Client
}

func NewRedisAdapter(client *redis.Client) *RedisAdapter {
	return &RedisAdapter{client: client}
}

func (r *RedisAdapter) ReserveVoucher(ctx context.Context, voucherID, userID int64) (port.ReserveResult, error) {
	keys := []string{
		stockKeyPrefix + strconv.FormatInt(voucherID, 10),
		orderSetKeyPrefix + strconv.FormatInt(voucherID, 10),
	}

	result, err := reserveScript.Run(ctx, r.client, keys, userID).Int()
	if err != nil {
		return 0, fmt.Errorf("reserve voucher %d: %w", voucherID, err)
	}

	switch result {
	case 0:
		return port.ReserveOK, nil
	case 1:
		return port.ReserveOutOfStock, nil
	case 2:
		return port.ReserveDuplicate, nil
	default:
		return 0, fmt.Errorf("reserve voucher %d: unexpected script result %d", voucherID, result)
	}
}

// ReleaseReservation restores stock and removes the user from the reserved
// set. Used to roll back an admission whose durable persist failed.
func (r *RedisAdapter) ReleaseReservation(ctx context.Context, voucherID, userID int64) error {
	stockKey := stockKeyPrefix + strconv.FormatInt(voucherID, 10)
	orderKey := orderSetKeyPrefix + strconv.FormatInt(voucherID, 10)

	pipe := r.client.TxPipeline()
	pipe.IncrBy(ctx, stockKey, 1)
	pipe.SRem(ctx, orderKey, userID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("release reservation voucher=%d user=%d: %w", voucherID, userID, err)
	}
	return nil
}

func (r *RedisAdapter) SeedStock(ctx context.Context, voucherID int64, stock int) error {
	key := stockKeyPrefix + strconv.FormatInt(voucherID, 10)
	return r.client.Set(ctx, key, stock, 0).Err()
}

// ClearVoucher removes a voucher's stock counter and reserved-users set.
func (r *RedisAdapter) ClearVoucher(ctx context.Context, voucherID int64) error {
	return r.client.Del(ctx,
		stockKeyPrefix+strconv.FormatInt(voucherID, 10),
		orderSetKeyPrefix+strconv.FormatInt(voucherID, 10),
	).Err()
}
