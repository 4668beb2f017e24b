package service

import (
	"context"
	"strconv"
	"time"

	"github.com/hieudt/voucher-rush/internal/cache"
	"github.com/hieudt/voucher-rush/internal/core/domain"
	"github.com/hieudt/voucher-rush/internal/port"
)

const shopKeyPrefix = "cache:shop:"

// ShopService serves shop reads through the cache layer and keeps the cache
// coherent on writes by deleting the entry after the durable update.
type ShopService struct {
	cache *cache.Client
	db    port.DatabaseRepository

	entryTTL      time.Duration
	logicalWindow time.Duration
}

func NewShopService(c *cache.Client, db port.DatabaseRepository, entryTTL, logicalWindow time.Duration) *ShopService {
	return &ShopService{
		cache:         c,
		db:            db,
		entryTTL:      entryTTL,
		logicalWindow: logicalWindow,
	}
}

// GetByID serves hot shop reads with logical expiry: stale entries are
// returned immediately while a background rebuild refreshes them. The cache
// must be warmed first (see Warm); a cold key reads as not found.
func (s *ShopService) GetByID(ctx context.Context, id int64) (*domain.Shop, error) {
	return cache.QueryWithLogicalExpire(ctx, s.cache, shopKeyPrefix, id, s.logicalWindow, s.loadShop)
}

// GetByIDPassThrough is the penetration-guarded variant: absences are
// negative-cached and the membership filter rejects unknown IDs outright.
func (s *ShopService) GetByIDPassThrough(ctx context.Context, id int64) (*domain.Shop, error) {
	return cache.QueryWithPassThrough(ctx, s.cache, shopKeyPrefix, id, s.entryTTL, s.loadShop)
}

// GetByIDMutex is the breakdown-guarded variant: concurrent misses on one
// key produce a single backing-store load.
func (s *ShopService) GetByIDMutex(ctx context.Context, id int64) (*domain.Shop, error) {
	return cache.QueryWithMutex(ctx, s.cache, shopKeyPrefix, id, s.entryTTL, s.loadShop)
}

// Warm pre-populates the logical-expiry entry for a shop.
func (s *ShopService) Warm(ctx context.Context, id int64, window time.Duration) error {
	shop, err := s.db.GetShopByID(ctx, id)
	if err != nil {
		return err
	}
	if shop == nil {
		return cache.ErrNotFound
	}
	key := shopKeyPrefix + strconv.FormatInt(id, 10)
	return s.cache.SetWithLogicalExpire(ctx, key, shop, window)
}

// Update writes the shop to the durable store, then invalidates the cache
// entry. Delete-after-write keeps readers from pinning a stale copy for a
// full TTL.
func (s *ShopService) Update(ctx context.Context, shop domain.Shop) error {
	if err := s.db.UpdateShop(ctx, shop); err != nil {
		return err
	}
	key := shopKeyPrefix + strconv.FormatInt(shop.ID, 10)
	return s.cache.Delete(ctx, key)
}

func (s *ShopService) loadShop(ctx context.Context, id int64) (*domain.Shop, error) {
	return s.db.GetShopByID(ctx, id)
}
