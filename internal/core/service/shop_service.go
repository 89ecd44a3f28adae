package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/yunqi-lab/nearbuy/internal/cache"
	"github.com/yunqi-lab/nearbuy/internal/core/domain"
	"github.com/yunqi-lab/nearbuy/internal/port"
)

var ErrShopNotFound = errors.New("shop not found")

type ShopService struct {
	repo   port.ShopRepository
	cache  *cache.Client[domain.Shop]
	ttl    time.Duration
	policy cache.Policy
	log    *zap.Logger
}

func NewShopService(repo port.ShopRepository, c *cache.Client[domain.Shop], ttl time.Duration, policy cache.Policy, log *zap.Logger) *ShopService {
	if log == nil {
		log = zap.NewNop()
	}
	return &ShopService{repo: repo, cache: c, ttl: ttl, policy: policy, log: log}
}

func (s *ShopService) GetByID(ctx context.Context, id uint64) (*domain.Shop, error) {
	shop, err := s.cache.Get(ctx, strconv.FormatUint(id, 10), s.loadShop, s.ttl, s.policy)
	if errors.Is(err, cache.ErrNotFound) {
		return nil, ErrShopNotFound
	}
	if err != nil {
		return nil, err
	}
	return &shop, nil
}

// Update writes the durable row first, then drops the cached entry; the next
// read rebuilds from the fresh row.
func (s *ShopService) Update(ctx context.Context, shop *domain.Shop) error {
	if shop.ID == 0 {
		return errors.New("shop id required")
	}
	if err := s.repo.Update(ctx, shop); err != nil {
		return err
	}
	if err := s.cache.Invalidate(ctx, strconv.FormatUint(shop.ID, 10)); err != nil {
		return err
	}
	return nil
}

// WarmShop preloads a hot shop for the logical-expiration policy.
func (s *ShopService) WarmShop(ctx context.Context, id uint64, logicalTTL time.Duration) error {
	shop, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if shop == nil {
		return ErrShopNotFound
	}
	return s.cache.Warm(ctx, strconv.FormatUint(id, 10), *shop, logicalTTL)
}

func (s *ShopService) loadShop(ctx context.Context, id string) (domain.Shop, bool, error) {
	shopID, err := strconv.ParseUint(id, 10, 64)
	if err != nil {
		return domain.Shop{}, false, fmt.Errorf("shop id %q: %w", id, err)
	}
	shop, err := s.repo.GetByID(ctx, shopID)
	if err != nil {
		return domain.Shop{}, false, err
	}
	if shop == nil {
		return domain.Shop{}, false, nil
	}
	return *shop, true, nil
}
