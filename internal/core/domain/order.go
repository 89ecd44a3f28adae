package domain

import "time"

// Order is an accepted flash-sale reservation. It is created by the admission
// script in Redis and drained into MySQL by the order consumer; the Redis-side
// dedup set, not this row, is what enforces one order per (user, voucher).
type Order struct {
	ID        uint64
	UserID    uint64
	VoucherID uint64
	CreatedAt time.Time
}
