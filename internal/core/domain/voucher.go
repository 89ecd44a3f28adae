package domain

import "time"

// VoucherCampaign is a limited-stock flash-sale voucher. Stock is synced into
// Redis at setup time and only ever decremented there; the row here is the
// durable record the order consumer reconciles against.
type VoucherCampaign struct {
	VoucherID uint64    `json:"voucherId"`
	Stock     int64     `json:"stock"`
	BeginAt   time.Time `json:"beginAt"`
	EndAt     time.Time `json:"endAt"`
}
