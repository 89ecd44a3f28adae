package port

import (
	"context"
	"time"

	"github.com/yunqi-lab/nearbuy/internal/core/domain"
)

// AdmissionCode is the result of the store-side admission script.
type AdmissionCode int

const (
	AdmissionAccepted   AdmissionCode = 0
	AdmissionOutOfStock AdmissionCode = 1
	AdmissionDuplicate  AdmissionCode = 2
)

// QueuedOrder is a reservation pulled from the order stream, paired with the
// stream id needed to acknowledge it.
type QueuedOrder struct {
	StreamID string
	Order    domain.Order
}

type SeckillStore interface {
	// ReserveVoucher runs the atomic admission step: stock check, per-user
	// dedup, decrement, and enqueue of the reservation, as one indivisible
	// script execution.
	ReserveVoucher(ctx context.Context, voucherID, userID, orderID uint64, now time.Time) (AdmissionCode, error)

	// InitCampaignStock syncs a campaign's initial stock into the store.
	InitCampaignStock(ctx context.Context, voucherID uint64, stock int64) error

	// EnsureOrderGroup creates the order stream consumer group if missing.
	EnsureOrderGroup(ctx context.Context) error

	// PullOrders reads fresh reservations for consumer, blocking up to block.
	// An empty result after the block window is not an error.
	PullOrders(ctx context.Context, consumer string, count int64, block time.Duration) ([]QueuedOrder, error)

	// PendingOrders re-reads reservations delivered to consumer but never
	// acknowledged, for recovery after a crash.
	PendingOrders(ctx context.Context, consumer string, count int64) ([]QueuedOrder, error)

	// AckOrder acknowledges a drained reservation.
	AckOrder(ctx context.Context, streamID string) error

	// ParkOrder moves a reservation that keeps failing to persist onto the
	// dead-letter stream and acknowledges the original entry, so the consumer
	// can make progress past it.
	ParkOrder(ctx context.Context, q QueuedOrder) error
}
