package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yunqi-lab/nearbuy/internal/core/domain"
	"github.com/yunqi-lab/nearbuy/internal/core/service"
)

type fakeShops struct {
	shop        *domain.Shop
	err         error
	gotDeadline bool
}

func (f *fakeShops) GetByID(ctx context.Context, id uint64) (*domain.Shop, error) {
	_, f.gotDeadline = ctx.Deadline()
	return f.shop, f.err
}

type fakePlacer struct {
	orderID     uint64
	err         error
	gotUser     uint64
	gotVoucher  uint64
	gotDeadline bool
}

func (f *fakePlacer) PlaceOrder(ctx context.Context, userID, voucherID uint64) (uint64, error) {
	f.gotUser, f.gotVoucher = userID, voucherID
	_, f.gotDeadline = ctx.Deadline()
	return f.orderID, f.err
}

func newTestMux(shops ShopReader, placer OrderPlacer) *http.ServeMux {
	mux := http.NewServeMux()
	NewHTTPHandler(shops, placer, 0, nil).Register(mux)
	return mux
}

func doRequest(mux *http.ServeMux, method, target, userID string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	if userID != "" {
		req.Header.Set("X-User-Id", userID)
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestGetShop(t *testing.T) {
	shops := &fakeShops{shop: &domain.Shop{ID: 1, Name: "102 Coffee"}}
	mux := newTestMux(shops, &fakePlacer{})

	rec := doRequest(mux, http.MethodGet, "/api/shop/1", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Success bool        `json:"success"`
		Data    domain.Shop `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, "102 Coffee", resp.Data.Name)
}

func TestGetShop_NotFound(t *testing.T) {
	mux := newTestMux(&fakeShops{err: service.ErrShopNotFound}, &fakePlacer{})
	rec := doRequest(mux, http.MethodGet, "/api/shop/1", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetShop_BadID(t *testing.T) {
	mux := newTestMux(&fakeShops{}, &fakePlacer{})
	rec := doRequest(mux, http.MethodGet, "/api/shop/abc", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSeckill_AnonymousRejected(t *testing.T) {
	placer := &fakePlacer{orderID: 555001}
	mux := newTestMux(&fakeShops{}, placer)

	rec := doRequest(mux, http.MethodPost, "/api/voucher/100/seckill", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Zero(t, placer.gotUser)
}

func TestSeckill_Accepted(t *testing.T) {
	placer := &fakePlacer{orderID: 555001}
	mux := newTestMux(&fakeShops{}, placer)

	rec := doRequest(mux, http.MethodPost, "/api/voucher/100/seckill", "42")
	require.Equal(t, http.StatusOK, rec.Code)

	assert.EqualValues(t, 42, placer.gotUser)
	assert.EqualValues(t, 100, placer.gotVoucher)

	var resp struct {
		Data map[string]string `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "555001", resp.Data["orderId"])
}

func TestSeckill_ErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
	}{
		{"out of stock", service.ErrOutOfStock, http.StatusGone},
		{"duplicate", service.ErrDuplicateOrder, http.StatusConflict},
		{"campaign not found", service.ErrCampaignNotFound, http.StatusNotFound},
		{"not started", service.ErrCampaignNotStarted, http.StatusForbidden},
		{"ended", service.ErrCampaignEnded, http.StatusForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			mux := newTestMux(&fakeShops{}, &fakePlacer{err: tc.err})
			rec := doRequest(mux, http.MethodPost, "/api/voucher/100/seckill", "42")
			assert.Equal(t, tc.status, rec.Code)
		})
	}
}

func TestSeckill_RequestContextHasDeadline(t *testing.T) {
	placer := &fakePlacer{orderID: 555001}
	mux := newTestMux(&fakeShops{}, placer)

	rec := doRequest(mux, http.MethodPost, "/api/voucher/100/seckill", "42")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, placer.gotDeadline, "store calls must run under a request deadline")
}

func TestGetShop_RequestContextHasDeadline(t *testing.T) {
	shops := &fakeShops{shop: &domain.Shop{ID: 1}}
	mux := newTestMux(shops, &fakePlacer{})

	rec := doRequest(mux, http.MethodGet, "/api/shop/1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, shops.gotDeadline, "store calls must run under a request deadline")
}

func TestSeckill_TimedOutRequestIsAborted(t *testing.T) {
	mux := http.NewServeMux()
	NewHTTPHandler(&fakeShops{}, &fakePlacer{err: context.DeadlineExceeded}, time.Nanosecond, nil).Register(mux)

	rec := doRequest(mux, http.MethodPost, "/api/voucher/100/seckill", "42")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestResolveIdentity_MalformedHeaderIsAnonymous(t *testing.T) {
	placer := &fakePlacer{}
	mux := newTestMux(&fakeShops{}, placer)

	rec := doRequest(mux, http.MethodPost, "/api/voucher/100/seckill", "not-a-number")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
