package port

import (
	"context"
	"errors"
)

var (
	ErrOutOfStock     = errors.New("voucher out of stock")
	ErrDuplicateOrder = errors.New("user already ordered this voucher")
)

// ReserveResult is the outcome of the atomic intake gate.
type ReserveResult int

const (
	ReserveOK ReserveResult = iota
	ReserveOutOfStock
	ReserveDuplicate
)

type CacheRepository interface {
	// ReserveVoucher atomically checks stock and per-user membership, then
	// decrements stock and records the user, all in one server-side step.
	ReserveVoucher(ctx context.Context, voucherID, userID int64) (ReserveResult, error)

	// ReleaseReservation undoes a reservation (rollback after a failed persist).
	ReleaseReservation(ctx context.Context, voucherID, userID int64) error

	// SeedStock writes the authoritative stock counter for a voucher.
	SeedStock(ctx context.Context, voucherID int64, stock int) error
}
