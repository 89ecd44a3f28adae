package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yunqi-lab/nearbuy/internal/cache"
	"github.com/yunqi-lab/nearbuy/internal/core/domain"
)

type fakeShopRepo struct {
	mu    sync.Mutex
	shops map[uint64]domain.Shop
	loads int
}

func (f *fakeShopRepo) GetByID(ctx context.Context, id uint64) (*domain.Shop, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loads++
	s, ok := f.shops[id]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (f *fakeShopRepo) Update(ctx context.Context, shop *domain.Shop) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.shops[shop.ID] = *shop
	return nil
}

func (f *fakeShopRepo) loadCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loads
}

func newShopHarness(t *testing.T, policy cache.Policy, shops ...domain.Shop) (*ShopService, *fakeShopRepo) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	pool := cache.NewRebuildPool(1, 16)
	t.Cleanup(pool.Close)
	shopCache := cache.New[domain.Shop](rdb, cache.JSONCodec[domain.Shop]{}, pool, cache.Options{
		Prefix:     "cache:shop:",
		LockPrefix: "lock:shop:",
	})

	repo := &fakeShopRepo{shops: make(map[uint64]domain.Shop)}
	for _, s := range shops {
		repo.shops[s.ID] = s
	}
	return NewShopService(repo, shopCache, time.Minute, policy, nil), repo
}

func TestShopGetByID_SecondReadServedFromCache(t *testing.T) {
	svc, repo := newShopHarness(t, cache.PassThrough, domain.Shop{ID: 1, Name: "102 Coffee"})
	ctx := context.Background()

	shop, err := svc.GetByID(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "102 Coffee", shop.Name)

	shop, err = svc.GetByID(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "102 Coffee", shop.Name)

	assert.Equal(t, 1, repo.loadCount())
}

func TestShopGetByID_MissingShopNegativeCached(t *testing.T) {
	svc, repo := newShopHarness(t, cache.PassThrough)
	ctx := context.Background()

	_, err := svc.GetByID(ctx, 404)
	assert.ErrorIs(t, err, ErrShopNotFound)
	_, err = svc.GetByID(ctx, 404)
	assert.ErrorIs(t, err, ErrShopNotFound)

	assert.Equal(t, 1, repo.loadCount())
}

func TestShopUpdate_InvalidatesCache(t *testing.T) {
	svc, repo := newShopHarness(t, cache.PassThrough, domain.Shop{ID: 1, Name: "old name"})
	ctx := context.Background()

	shop, err := svc.GetByID(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, "old name", shop.Name)

	shop.Name = "new name"
	require.NoError(t, svc.Update(ctx, shop))

	shop, err = svc.GetByID(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "new name", shop.Name)
	assert.Equal(t, 2, repo.loadCount())
}

func TestShopUpdate_RequiresID(t *testing.T) {
	svc, _ := newShopHarness(t, cache.PassThrough)
	assert.Error(t, svc.Update(context.Background(), &domain.Shop{}))
}

func TestWarmShop_ServesUnderLogicalExpiration(t *testing.T) {
	svc, repo := newShopHarness(t, cache.LogicalExpire, domain.Shop{ID: 1, Name: "102 Coffee"})
	ctx := context.Background()

	require.NoError(t, svc.WarmShop(ctx, 1, time.Minute))
	warmLoads := repo.loadCount()

	shop, err := svc.GetByID(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "102 Coffee", shop.Name)
	assert.Equal(t, warmLoads, repo.loadCount(), "fresh logical hit must not touch the loader")
}
