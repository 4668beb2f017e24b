package domain

import "time"

// OrderIntent is an admitted reservation waiting for durable persistence.
// It is created after the atomic intake gate succeeds and is consumed
// exactly once by the order worker.
type OrderIntent struct {
	OrderID   int64
	UserID    int64
	VoucherID int64
}

// IntentState tracks an intent through the pipeline. committed,
// rejected_duplicate and dropped_lock_contention are terminal.
type IntentState string

const (
	IntentAdmitted              IntentState = "admitted"
	IntentQueued                IntentState = "queued"
	IntentPersisting            IntentState = "persisting"
	IntentCommitted             IntentState = "committed"
	IntentRejectedDuplicate     IntentState = "rejected_duplicate"
	IntentDroppedLockContention IntentState = "dropped_lock_contention"
)

// VoucherOrder is the durable record of a committed purchase. At most one
// exists per (user, voucher) pair.
type VoucherOrder struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id"`
	VoucherID int64     `json:"voucher_id"`
	CreatedAt time.Time `json:"created_at"`
}
