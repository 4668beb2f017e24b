package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/hieudt/voucher-rush/internal/core/domain"
	"github.com/hieudt/voucher-rush/internal/port"
)

// Locker is a non-blocking leased mutex over a named resource.
type Locker interface {
	TryLock(ctx context.Context, lease time.Duration) (bool, error)
	Unlock(ctx context.Context) error
}

// LockFactory builds a lock for a resource name, e.g. "order:42".
type LockFactory func(name string) Locker

// IDAllocator hands out unique order IDs.
type IDAllocator interface {
	NextID(ctx context.Context, namespace string) (int64, error)
}

// OrderService runs the seckill pipeline: atomic admission through the
// intake gate, ID allocation, then a bounded queue drained by a single
// worker that persists orders under a per-user lock.
type OrderService struct {
	cache port.CacheRepository
	db    port.DatabaseRepository
	ids   IDAllocator
	locks LockFactory

	queue     chan domain.OrderIntent
	lockLease time.Duration
	persistTO time.Duration
	now       func() time.Time

	wg        sync.WaitGroup
	closeOnce sync.Once
}

type OrderServiceOptions struct {
	QueueSize      int
	LockLease      time.Duration
	PersistTimeout time.Duration
}

func NewOrderService(cache port.CacheRepository, db port.DatabaseRepository, ids IDAllocator, locks LockFactory, opts OrderServiceOptions) *OrderService {
	if opts.LockLease <= 0 {
		opts.LockLease = 10 * time.Second
	}
	if opts.PersistTimeout <= 0 {
		opts.PersistTimeout = 5 * time.Second
	}
	return &OrderService{
		cache:     cache,
		db:        db,
		ids:       ids,
		locks:     locks,
		queue:     make(chan domain.OrderIntent, opts.QueueSize),
		lockLease: opts.LockLease,
		persistTO: opts.PersistTimeout,
		now:       time.Now,
	}
}

// SeckillVoucher checks the voucher's sale window, admits the purchase
// through the atomic gate, and enqueues the intent for durable persistence.
// It returns the allocated order ID on admission; a full queue blocks, which
// is the backpressure point.
func (s *OrderService) SeckillVoucher(ctx context.Context, voucherID, userID int64) (int64, error) {
	voucher, err := s.db.GetVoucher(ctx, voucherID)
	if err != nil {
		return 0, fmt.Errorf("load voucher: %w", err)
	}
	if voucher == nil {
		return 0, port.ErrVoucherNotFound
	}
	now := s.now()
	if now.Before(voucher.BeginTime) {
		return 0, port.ErrSaleNotStarted
	}
	if now.After(voucher.EndTime) {
		return 0, port.ErrSaleEnded
	}

	result, err := s.cache.ReserveVoucher(ctx, voucherID, userID)
	if err != nil {
		return 0, fmt.Errorf("intake gate: %w", err)
	}
	switch result {
	case port.ReserveOutOfStock:
		return 0, port.ErrOutOfStock
	case port.ReserveDuplicate:
		return 0, port.ErrDuplicateOrder
	}

	orderID, err := s.ids.NextID(ctx, "order")
	if err != nil {
		// The reservation already happened; undo it so the unit is not lost.
		if rbErr := s.cache.ReleaseReservation(ctx, voucherID, userID); rbErr != nil {
			log.Error().Err(rbErr).
				Int64("voucher_id", voucherID).Int64("user_id", userID).
				Msg("reservation rollback failed after id allocation error")
		}
		return 0, fmt.Errorf("allocate order id: %w", err)
	}

	s.queue <- domain.OrderIntent{OrderID: orderID, UserID: userID, VoucherID: voucherID}
	return orderID, nil
}

// Start launches the single consumer that drains the queue. Per-intent
// failures are logged and never stop the loop.
func (s *OrderService) Start() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for intent := range s.queue {
			s.handleIntent(intent)
		}
	}()
}

func (s *OrderService) handleIntent(intent domain.OrderIntent) {
	ctx, cancel := context.WithTimeout(context.Background(), s.persistTO)
	defer cancel()

	logger := log.With().
		Int64("order_id", intent.OrderID).
		Int64("user_id", intent.UserID).
		Int64("voucher_id", intent.VoucherID).
		Logger()

	mu := s.locks(fmt.Sprintf("order:%d", intent.UserID))
	ok, err := mu.TryLock(ctx, s.lockLease)
	if err != nil {
		logger.Error().Err(err).Msg("per-user lock acquire failed, intent dropped")
		return
	}
	if !ok {
		// Duplicate protection already happened at the gate; contention here
		// means an anomalous retry and the intent is dropped, not retried.
		logger.Warn().Str("state", string(domain.IntentDroppedLockContention)).
			Msg("per-user lock contended, intent dropped")
		return
	}
	defer func() {
		if err := mu.Unlock(ctx); err != nil {
			logger.Warn().Err(err).Msg("per-user lock release failed")
		}
	}()

	err = s.db.CreateVoucherOrder(ctx, intent)
	switch {
	case err == nil:
		logger.Info().Str("state", string(domain.IntentCommitted)).Msg("order persisted")
	case errors.Is(err, port.ErrDuplicateOrder):
		logger.Warn().Str("state", string(domain.IntentRejectedDuplicate)).
			Msg("order already exists, intent rejected")
	case errors.Is(err, port.ErrOutOfStock):
		logger.Warn().Msg("durable stock exhausted, intent rejected")
	default:
		logger.Error().Err(err).Msg("order persist failed")
		// Restore the redis-side reservation so the unit can be sold again.
		if rbErr := s.cache.ReleaseReservation(ctx, intent.VoucherID, intent.UserID); rbErr != nil {
			logger.Error().Err(rbErr).Msg("reservation rollback failed after persist error")
		}
	}
}

// Close stops accepting intents; the worker drains what is queued and exits.
func (s *OrderService) Close() {
	s.closeOnce.Do(func() { close(s.queue) })
}

// Wait blocks until the worker has drained the queue after Close.
func (s *OrderService) Wait() {
	s.wg.Wait()
}

// QueueDepth reports how many intents are waiting for the worker.
func (s *OrderService) QueueDepth() int {
	return len(s.queue)
}
