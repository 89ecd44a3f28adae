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
	"github.com/yunqi-lab/nearbuy/internal/idgen"
	"github.com/yunqi-lab/nearbuy/internal/metrics"
	"github.com/yunqi-lab/nearbuy/internal/port"
)

var (
	ErrOutOfStock         = errors.New("voucher out of stock")
	ErrDuplicateOrder     = errors.New("user already ordered this voucher")
	ErrCampaignNotFound   = errors.New("campaign not found")
	ErrCampaignNotStarted = errors.New("campaign has not started")
	ErrCampaignEnded      = errors.New("campaign has ended")
)

const orderIDPrefix = "order"

// SeckillService admits or rejects flash-sale orders. The decision itself
// happens in one atomic script execution in Redis; this service only frames
// it with the campaign window check and the order id.
type SeckillService struct {
	store     port.SeckillStore
	repo      port.CampaignRepository
	ids       *idgen.Worker
	campaigns *cache.Client[domain.VoucherCampaign]
	cacheTTL  time.Duration
	log       *zap.Logger

	now func() time.Time
}

func NewSeckillService(
	store port.SeckillStore,
	repo port.CampaignRepository,
	ids *idgen.Worker,
	campaigns *cache.Client[domain.VoucherCampaign],
	cacheTTL time.Duration,
	log *zap.Logger,
) *SeckillService {
	if log == nil {
		log = zap.NewNop()
	}
	return &SeckillService{
		store:     store,
		repo:      repo,
		ids:       ids,
		campaigns: campaigns,
		cacheTTL:  cacheTTL,
		log:       log,
		now:       time.Now,
	}
}

// PlaceOrder attempts to reserve one voucher for userID. On acceptance the
// reservation is already queued for durable persistence and the returned
// order id is final; rejections are typed, never generic failures.
func (s *SeckillService) PlaceOrder(ctx context.Context, userID, voucherID uint64) (uint64, error) {
	camp, err := s.campaign(ctx, voucherID)
	if err != nil {
		if errors.Is(err, cache.ErrNotFound) {
			return 0, ErrCampaignNotFound
		}
		return 0, err
	}

	now := s.now()
	if now.Before(camp.BeginAt) {
		return 0, ErrCampaignNotStarted
	}
	if now.After(camp.EndAt) {
		return 0, ErrCampaignEnded
	}

	orderID, err := s.ids.NextID(ctx, orderIDPrefix)
	if err != nil {
		return 0, fmt.Errorf("mint order id: %w", err)
	}

	code, err := s.store.ReserveVoucher(ctx, voucherID, userID, orderID, now)
	if err != nil {
		return 0, err
	}

	switch code {
	case port.AdmissionOutOfStock:
		metrics.AdmissionResults.WithLabelValues("out_of_stock").Inc()
		return 0, ErrOutOfStock
	case port.AdmissionDuplicate:
		metrics.AdmissionResults.WithLabelValues("duplicate").Inc()
		return 0, ErrDuplicateOrder
	}

	metrics.AdmissionResults.WithLabelValues("accepted").Inc()
	s.log.Debug("reservation accepted",
		zap.Uint64("orderId", orderID),
		zap.Uint64("userId", userID),
		zap.Uint64("voucherId", voucherID))
	return orderID, nil
}

// SyncCampaigns loads every campaign's stock into Redis. Run once at startup;
// after that Redis is the only writer of stock during the active window.
func (s *SeckillService) SyncCampaigns(ctx context.Context) error {
	campaigns, err := s.repo.ListCampaigns(ctx)
	if err != nil {
		return err
	}
	for _, c := range campaigns {
		if err := s.store.InitCampaignStock(ctx, c.VoucherID, c.Stock); err != nil {
			return err
		}
	}
	s.log.Info("campaign stock synced", zap.Int("campaigns", len(campaigns)))
	return nil
}

func (s *SeckillService) campaign(ctx context.Context, voucherID uint64) (domain.VoucherCampaign, error) {
	id := strconv.FormatUint(voucherID, 10)
	return s.campaigns.Get(ctx, id, s.loadCampaign, s.cacheTTL, cache.PassThrough)
}

func (s *SeckillService) loadCampaign(ctx context.Context, id string) (domain.VoucherCampaign, bool, error) {
	voucherID, err := strconv.ParseUint(id, 10, 64)
	if err != nil {
		return domain.VoucherCampaign{}, false, fmt.Errorf("campaign id %q: %w", id, err)
	}
	c, err := s.repo.GetCampaign(ctx, voucherID)
	if err != nil {
		return domain.VoucherCampaign{}, false, err
	}
	if c == nil {
		return domain.VoucherCampaign{}, false, nil
	}
	return *c, true, nil
}
