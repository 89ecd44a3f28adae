package port

import (
	"context"

	"github.com/yunqi-lab/nearbuy/internal/core/domain"
)

type ShopRepository interface {
	// GetByID returns (nil, nil) when the shop does not exist.
	GetByID(ctx context.Context, id uint64) (*domain.Shop, error)

	Update(ctx context.Context, shop *domain.Shop) error
}

type CampaignRepository interface {
	// GetCampaign returns (nil, nil) when the voucher does not exist.
	GetCampaign(ctx context.Context, voucherID uint64) (*domain.VoucherCampaign, error)

	// ListCampaigns returns every campaign, used for the setup-time stock sync.
	ListCampaigns(ctx context.Context) ([]domain.VoucherCampaign, error)
}

type OrderRepository interface {
	// CreateOrder persists an accepted reservation. Delivery is at-least-once,
	// so the insert must be idempotent on the order id.
	CreateOrder(ctx context.Context, order domain.Order) error
}
