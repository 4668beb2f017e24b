package domain

import "time"

// Voucher is a seckill voucher with fixed stock and a sale window.
type Voucher struct {
	ID        int64     `json:"id"`
	ShopID    int64     `json:"shop_id"`
	Title     string    `json:"title"`
	Stock     int       `json:"stock"`
	BeginTime time.Time `json:"begin_time"`
	EndTime   time.Time `json:"end_time"`
}
