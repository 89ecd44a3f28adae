package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/yunqi-lab/nearbuy/internal/core/domain"
	"github.com/yunqi-lab/nearbuy/internal/core/service"
)

type ShopReader interface {
	GetByID(ctx context.Context, id uint64) (*domain.Shop, error)
}

type OrderPlacer interface {
	PlaceOrder(ctx context.Context, userID, voucherID uint64) (uint64, error)
}

type HTTPHandler struct {
	shops   ShopReader
	seckill OrderPlacer
	timeout time.Duration
	log     *zap.Logger
}

type response struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

func NewHTTPHandler(shops ShopReader, seckill OrderPlacer, timeout time.Duration, log *zap.Logger) *HTTPHandler {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &HTTPHandler{shops: shops, seckill: seckill, timeout: timeout, log: log}
}

func (h *HTTPHandler) Register(mux *http.ServeMux) {
	mux.Handle("GET /api/shop/{id}", h.withTimeout(ResolveIdentity(http.HandlerFunc(h.GetShop))))
	mux.Handle("POST /api/voucher/{id}/seckill", h.withTimeout(ResolveIdentity(http.HandlerFunc(h.Seckill))))
	mux.HandleFunc("GET /health", h.HealthCheck)
}

// withTimeout puts a deadline on the request context so every store call made
// on behalf of the request gives up instead of holding a handler goroutine.
func (h *HTTPHandler) withTimeout(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
		defer cancel()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (h *HTTPHandler) GetShop(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, response{Message: "invalid shop id"})
		return
	}

	shop, err := h.shops.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, service.ErrShopNotFound) {
			writeJSON(w, http.StatusNotFound, response{Message: "shop not found"})
			return
		}
		h.log.Error("get shop failed", zap.Uint64("shopId", id), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, response{Message: "internal error"})
		return
	}

	writeJSON(w, http.StatusOK, response{Success: true, Data: shop})
}

func (h *HTTPHandler) Seckill(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, response{Message: "login required"})
		return
	}

	voucherID, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, response{Message: "invalid voucher id"})
		return
	}

	orderID, err := h.seckill.PlaceOrder(r.Context(), userID, voucherID)
	if err != nil {
		status, message := http.StatusInternalServerError, "internal error"
		switch {
		case errors.Is(err, service.ErrOutOfStock):
			status, message = http.StatusGone, "sold out"
		case errors.Is(err, service.ErrDuplicateOrder):
			status, message = http.StatusConflict, "already ordered"
		case errors.Is(err, service.ErrCampaignNotFound):
			status, message = http.StatusNotFound, "campaign not found"
		case errors.Is(err, service.ErrCampaignNotStarted):
			status, message = http.StatusForbidden, "campaign has not started"
		case errors.Is(err, service.ErrCampaignEnded):
			status, message = http.StatusForbidden, "campaign has ended"
		default:
			h.log.Error("seckill failed",
				zap.Uint64("userId", userID),
				zap.Uint64("voucherId", voucherID),
				zap.Error(err))
		}
		writeJSON(w, status, response{Message: message})
		return
	}

	writeJSON(w, http.StatusOK, response{
		Success: true,
		Data:    map[string]string{"orderId": strconv.FormatUint(orderID, 10)},
	})
}

func (h *HTTPHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, response{Success: true, Message: "ok"})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
