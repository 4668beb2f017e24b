package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hieudt/voucher-rush/internal/core/domain"
	"github.com/hieudt/voucher-rush/internal/port"
)

// Mock CacheRepository
type mockCacheRepo struct {
	mu       sync.Mutex
	stock    map[int64]int
	reserved map[int64]map[int64]bool
	released int
}

func newMockCacheRepo(voucherID int64, stock int) *mockCacheRepo {
	return &mockCacheRepo{
		stock:    map[int64]int{voucherID: stock},
		reserved: make(map[int64]map[int64]bool),
	}
}

func (m *mockCacheRepo) ReserveVoucher(ctx context.Context, voucherID, userID int64) (port.ReserveResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stock[voucherID] <= 0 {
		return port.ReserveOutOfStock, nil
	}
	if m.reserved[voucherID][userID] {
		return port.ReserveDuplicate, nil
	}
	m.stock[voucherID]--
	if m.reserved[voucherID] == nil {
		m.reserved[voucherID] = make(map[int64]bool)
	}
	m.reserved[voucherID][userID] = true
	return port.ReserveOK, nil
}

func (m *mockCacheRepo) ReleaseReservation(ctx context.Context, voucherID, userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stock[voucherID]++
	delete(m.reserved[voucherID], userID)
	m.released++
	return nil
}

func (m *mockCacheRepo) SeedStock(ctx context.Context, voucherID int64, stock int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stock[voucherID] = stock
	return nil
}

// Mock DatabaseRepository (only the order path matters here)
type mockDatabaseRepo struct {
	mu        sync.Mutex
	orders    map[string]domain.OrderIntent
	voucher   *domain.Voucher
	createErr error
}

func newMockDatabaseRepo() *mockDatabaseRepo {
	now := time.Now()
	return &mockDatabaseRepo{
		orders: make(map[string]domain.OrderIntent),
		voucher: &domain.Voucher{
			ID:        1,
			ShopID:    1,
			Title:     "test voucher",
			Stock:     10,
			BeginTime: now.Add(-time.Hour),
			EndTime:   now.Add(time.Hour),
		},
	}
}

func orderKey(userID, voucherID int64) string {
	return fmt.Sprintf("%d:%d", userID, voucherID)
}

func (m *mockDatabaseRepo) CreateVoucherOrder(ctx context.Context, intent domain.OrderIntent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.createErr != nil {
		return m.createErr
	}
	key := orderKey(intent.UserID, intent.VoucherID)
	if _, exists := m.orders[key]; exists {
		return port.ErrDuplicateOrder
	}
	m.orders[key] = intent
	return nil
}

func (m *mockDatabaseRepo) CountOrders(ctx context.Context, userID, voucherID int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.orders[orderKey(userID, voucherID)]; exists {
		return 1, nil
	}
	return 0, nil
}

func (m *mockDatabaseRepo) GetShopByID(ctx context.Context, id int64) (*domain.Shop, error) {
	return nil, nil
}

func (m *mockDatabaseRepo) ListShopIDs(ctx context.Context) ([]int64, error) { return nil, nil }

func (m *mockDatabaseRepo) UpdateShop(ctx context.Context, shop domain.Shop) error { return nil }

func (m *mockDatabaseRepo) GetVoucher(ctx context.Context, id int64) (*domain.Voucher, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.voucher == nil || m.voucher.ID != id {
		return nil, nil
	}
	v := *m.voucher
	return &v, nil
}

func (m *mockDatabaseRepo) ListVoucherStock(ctx context.Context) (map[int64]int, error) {
	return nil, nil
}

// Mock IDAllocator
type mockIDAllocator struct {
	next atomic.Int64
	err  error
}

func (m *mockIDAllocator) NextID(ctx context.Context, namespace string) (int64, error) {
	if m.err != nil {
		return 0, m.err
	}
	return m.next.Add(1), nil
}

// Mock Locker
type mockLocker struct {
	deny bool
}

func (m *mockLocker) TryLock(ctx context.Context, lease time.Duration) (bool, error) {
	return !m.deny, nil
}

func (m *mockLocker) Unlock(ctx context.Context) error { return nil }

func allowLocks(name string) Locker { return &mockLocker{} }
func denyLocks(name string) Locker  { return &mockLocker{deny: true} }

func newTestService(cache *mockCacheRepo, db *mockDatabaseRepo, locks LockFactory) *OrderService {
	return NewOrderService(cache, db, &mockIDAllocator{}, locks, OrderServiceOptions{QueueSize: 100})
}

func TestSeckillVoucher_Success(t *testing.T) {
	cache := newMockCacheRepo(1, 10)
	db := newMockDatabaseRepo()
	svc := newTestService(cache, db, allowLocks)

	orderID, err := svc.SeckillVoucher(context.Background(), 1, 100)
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if orderID == 0 {
		t.Error("expected non-zero order id")
	}
	if cache.stock[1] != 9 {
		t.Errorf("expected stock 9, got %d", cache.stock[1])
	}
	if svc.QueueDepth() != 1 {
		t.Errorf("expected 1 queued intent, got %d", svc.QueueDepth())
	}
}

func TestSeckillVoucher_OutOfStock(t *testing.T) {
	cache := newMockCacheRepo(1, 0)
	svc := newTestService(cache, newMockDatabaseRepo(), allowLocks)

	_, err := svc.SeckillVoucher(context.Background(), 1, 100)
	if !errors.Is(err, port.ErrOutOfStock) {
		t.Errorf("expected ErrOutOfStock, got: %v", err)
	}
}

func TestSeckillVoucher_Duplicate(t *testing.T) {
	cache := newMockCacheRepo(1, 10)
	svc := newTestService(cache, newMockDatabaseRepo(), allowLocks)

	if _, err := svc.SeckillVoucher(context.Background(), 1, 100); err != nil {
		t.Fatalf("first call failed: %v", err)
	}

	_, err := svc.SeckillVoucher(context.Background(), 1, 100)
	if !errors.Is(err, port.ErrDuplicateOrder) {
		t.Errorf("expected ErrDuplicateOrder, got: %v", err)
	}

	// Stock decremented only once.
	if cache.stock[1] != 9 {
		t.Errorf("expected stock 9, got %d", cache.stock[1])
	}
}

func TestSeckillVoucher_UnknownVoucher(t *testing.T) {
	cache := newMockCacheRepo(1, 10)
	svc := newTestService(cache, newMockDatabaseRepo(), allowLocks)

	_, err := svc.SeckillVoucher(context.Background(), 99, 100)
	if !errors.Is(err, port.ErrVoucherNotFound) {
		t.Errorf("expected ErrVoucherNotFound, got: %v", err)
	}
}

func TestSeckillVoucher_BeforeSaleWindow(t *testing.T) {
	cache := newMockCacheRepo(1, 10)
	db := newMockDatabaseRepo()
	db.voucher.BeginTime = time.Now().Add(time.Hour)
	svc := newTestService(cache, db, allowLocks)

	_, err := svc.SeckillVoucher(context.Background(), 1, 100)
	if !errors.Is(err, port.ErrSaleNotStarted) {
		t.Errorf("expected ErrSaleNotStarted, got: %v", err)
	}
	if cache.stock[1] != 10 {
		t.Errorf("expected stock untouched at 10, got %d", cache.stock[1])
	}
}

func TestSeckillVoucher_AfterSaleWindow(t *testing.T) {
	cache := newMockCacheRepo(1, 10)
	db := newMockDatabaseRepo()
	db.voucher.EndTime = time.Now().Add(-time.Hour)
	svc := newTestService(cache, db, allowLocks)

	_, err := svc.SeckillVoucher(context.Background(), 1, 100)
	if !errors.Is(err, port.ErrSaleEnded) {
		t.Errorf("expected ErrSaleEnded, got: %v", err)
	}
	if cache.stock[1] != 10 {
		t.Errorf("expected stock untouched at 10, got %d", cache.stock[1])
	}
}

func TestSeckillVoucher_RollbackOnIDFailure(t *testing.T) {
	cache := newMockCacheRepo(1, 10)
	ids := &mockIDAllocator{err: errors.New("sequence unavailable")}
	svc := NewOrderService(cache, newMockDatabaseRepo(), ids, allowLocks, OrderServiceOptions{QueueSize: 100})

	_, err := svc.SeckillVoucher(context.Background(), 1, 100)
	if err == nil {
		t.Fatal("expected error")
	}

	if cache.stock[1] != 10 {
		t.Errorf("expected stock restored to 10, got %d", cache.stock[1])
	}
	if cache.released != 1 {
		t.Errorf("expected 1 release, got %d", cache.released)
	}
}

func TestSeckillVoucher_Concurrent(t *testing.T) {
	initialStock := 20
	totalRequests := 50

	cache := newMockCacheRepo(1, initialStock)
	svc := newTestService(cache, newMockDatabaseRepo(), allowLocks)

	var successCount atomic.Int32
	var wg sync.WaitGroup

	for i := 0; i < totalRequests; i++ {
		wg.Add(1)
		go func(userID int64) {
			defer wg.Done()
			if _, err := svc.SeckillVoucher(context.Background(), 1, userID); err == nil {
				successCount.Add(1)
			}
		}(int64(i + 1))
	}

	wg.Wait()

	if successCount.Load() != int32(initialStock) {
		t.Errorf("expected %d admissions, got %d", initialStock, successCount.Load())
	}
	if cache.stock[1] != 0 {
		t.Errorf("expected stock 0, got %d", cache.stock[1])
	}
}

func TestWorker_PersistsOrder(t *testing.T) {
	cache := newMockCacheRepo(1, 10)
	db := newMockDatabaseRepo()
	svc := newTestService(cache, db, allowLocks)
	svc.Start()

	orderID, err := svc.SeckillVoucher(context.Background(), 1, 100)
	if err != nil {
		t.Fatalf("seckill failed: %v", err)
	}

	svc.Close()
	svc.Wait()

	count, _ := db.CountOrders(context.Background(), 100, 1)
	if count != 1 {
		t.Fatalf("expected 1 persisted order, got %d", count)
	}
	if db.orders[orderKey(100, 1)].OrderID != orderID {
		t.Errorf("persisted order id mismatch")
	}
}

func TestWorker_DropsOnLockContention(t *testing.T) {
	cache := newMockCacheRepo(1, 10)
	db := newMockDatabaseRepo()
	svc := newTestService(cache, db, denyLocks)
	svc.Start()

	if _, err := svc.SeckillVoucher(context.Background(), 1, 100); err != nil {
		t.Fatalf("seckill failed: %v", err)
	}

	svc.Close()
	svc.Wait()

	count, _ := db.CountOrders(context.Background(), 100, 1)
	if count != 0 {
		t.Errorf("expected no persisted orders under lock contention, got %d", count)
	}
}

func TestWorker_RollbackOnPersistFailure(t *testing.T) {
	cache := newMockCacheRepo(1, 10)
	db := newMockDatabaseRepo()
	db.createErr = errors.New("mysql gone away")
	svc := newTestService(cache, db, allowLocks)
	svc.Start()

	if _, err := svc.SeckillVoucher(context.Background(), 1, 100); err != nil {
		t.Fatalf("seckill failed: %v", err)
	}

	svc.Close()
	svc.Wait()

	cache.mu.Lock()
	defer cache.mu.Unlock()
	if cache.stock[1] != 10 {
		t.Errorf("expected stock restored to 10, got %d", cache.stock[1])
	}
	if cache.released != 1 {
		t.Errorf("expected 1 release, got %d", cache.released)
	}
}

func TestWorker_SurvivesFailures(t *testing.T) {
	cache := newMockCacheRepo(1, 10)
	db := newMockDatabaseRepo()
	db.createErr = errors.New("mysql gone away")
	svc := newTestService(cache, db, allowLocks)
	svc.Start()

	if _, err := svc.SeckillVoucher(context.Background(), 1, 100); err != nil {
		t.Fatalf("seckill failed: %v", err)
	}

	// Heal the store; a later intent must still be processed.
	db.mu.Lock()
	db.createErr = nil
	db.mu.Unlock()

	if _, err := svc.SeckillVoucher(context.Background(), 1, 200); err != nil {
		t.Fatalf("seckill failed: %v", err)
	}

	svc.Close()
	svc.Wait()

	count, _ := db.CountOrders(context.Background(), 200, 1)
	if count != 1 {
		t.Errorf("expected order for user 200 after worker recovered, got %d", count)
	}
}
