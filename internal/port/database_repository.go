package port

import (
	"context"
	"errors"

	"github.com/hieudt/voucher-rush/internal/core/domain"
)

// Sale-window outcomes of the pre-admission voucher check.
var (
	ErrVoucherNotFound = errors.New("voucher does not exist")
	ErrSaleNotStarted  = errors.New("sale has not started")
	ErrSaleEnded       = errors.New("sale has ended")
)

type DatabaseRepository interface {
	// CreateVoucherOrder persists an admitted intent in a single transaction:
	// idempotency count, guarded stock decrement, insert. Returns
	// ErrDuplicateOrder or ErrOutOfStock when the checks fail.
	CreateVoucherOrder(ctx context.Context, intent domain.OrderIntent) error

	// CountOrders returns how many orders exist for a (user, voucher) pair.
	CountOrders(ctx context.Context, userID, voucherID int64) (int, error)

	// GetShopByID retrieves a shop, nil when absent.
	GetShopByID(ctx context.Context, id int64) (*domain.Shop, error)

	// ListShopIDs returns every known shop ID (membership filter warmup).
	ListShopIDs(ctx context.Context) ([]int64, error)

	// UpdateShop writes shop fields back to the durable store.
	UpdateShop(ctx context.Context, shop domain.Shop) error

	// GetVoucher retrieves a seckill voucher, nil when absent. The order
	// pipeline reads it for the sale-window check before admission.
	GetVoucher(ctx context.Context, id int64) (*domain.Voucher, error)

	// ListVoucherStock returns remaining stock per voucher (redis seeding).
	ListVoucherStock(ctx context.Context) (map[int64]int, error)
}
