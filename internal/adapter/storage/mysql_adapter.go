package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hieudt/voucher-rush/internal/core/domain"
	"github.com/hieudt/voucher-rush/internal/port"
)

type MySQLAdapter struct {
	db *sql.DB
}

func NewMySQLAdapter(db *sql.DB) *MySQLAdapter {
	return &MySQLAdapter{db: db}
}

// CreateVoucherOrder is the single transactional boundary of the order
// pipeline: idempotency count, guarded stock decrement, insert. The caller
// holds the per-user lock, so the count check cannot race with itself.
func (m *MySQLAdapter) CreateVoucherOrder(ctx context.Context, intent domain.OrderIntent) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var count int
	err = tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM voucher_order WHERE user_id = ? AND voucher_id = ?`,
		intent.UserID, intent.VoucherID,
	).Scan(&count)
	if err != nil {
		return fmt.Errorf("count orders: %w", err)
	}
	if count > 0 {
		return port.ErrDuplicateOrder
	}

	result, err := tx.ExecContext(ctx, `
		UPDATE seckill_voucher
		SET stock = stock - 1, updated_at = NOW()
		WHERE voucher_id = ? AND stock > 0`,
		intent.VoucherID,
	)
	if err != nil {
		return fmt.Errorf("decrement stock: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return port.ErrOutOfStock
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO voucher_order (id, user_id, voucher_id, created_at)
		VALUES (?, ?, ?, ?)`,
		intent.OrderID, intent.UserID, intent.VoucherID, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}

	return tx.Commit()
}

func (m *MySQLAdapter) CountOrders(ctx context.Context, userID, voucherID int64) (int, error) {
	var count int
	err := m.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM voucher_order WHERE user_id = ? AND voucher_id = ?`,
		userID, voucherID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count orders: %w", err)
	}
	return count, nil
}

func (m *MySQLAdapter) GetShopByID(ctx context.Context, id int64) (*domain.Shop, error) {
	var shop domain.Shop
	err := m.db.QueryRowContext(ctx, `
		SELECT id, name, address, avg_price, score, created_at, updated_at
		FROM shop WHERE id = ?`, id,
	).Scan(&shop.ID, &shop.Name, &shop.Address, &shop.AvgPrice, &shop.Score,
		&shop.CreatedAt, &shop.UpdatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query shop: %w", err)
	}
	return &shop, nil
}

func (m *MySQLAdapter) ListShopIDs(ctx context.Context) ([]int64, error) {
	rows, err := m.db.QueryContext(ctx, `SELECT id FROM shop`)
	if err != nil {
		return nil, fmt.Errorf("list shop ids: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan shop id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (m *MySQLAdapter) UpdateShop(ctx context.Context, shop domain.Shop) error {
	_, err := m.db.ExecContext(ctx, `
		UPDATE shop
		SET name = ?, address = ?, avg_price = ?, score = ?, updated_at = NOW()
		WHERE id = ?`,
		shop.Name, shop.Address, shop.AvgPrice, shop.Score, shop.ID,
	)
	if err != nil {
		return fmt.Errorf("update shop: %w", err)
	}
	return nil
}

func (m *MySQLAdapter) GetVoucher(ctx context.Context, id int64) (*domain.Voucher, error) {
	var v domain.Voucher
	err := m.db.QueryRowContext(ctx, `
		SELECT voucher_id, shop_id, title, stock, begin_time, end_time
		FROM seckill_voucher WHERE voucher_id = ?`, id,
	).Scan(&v.ID, &v.ShopID, &v.Title, &v.Stock, &v.BeginTime, &v.EndTime)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query voucher: %w", err)
	}
	return &v, nil
}

func (m *MySQLAdapter) ListVoucherStock(ctx context.Context) (map[int64]int, error) {
	rows, err := m.db.QueryContext(ctx, `SELECT voucher_id, stock FROM seckill_voucher`)
	if err != nil {
		return nil, fmt.Errorf("list voucher stock: %w", err)
	}
	defer rows.Close()

	stock := make(map[int64]int)
	for rows.Next() {
		var id int64
		var remaining int
		if err := rows.Scan(&id, &remaining); err != nil {
			return nil, fmt.Errorf("scan voucher stock: %w", err)
		}
		stock[id] = remaining
	}
	return stock, rows.Err()
}
