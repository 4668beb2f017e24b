package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/hieudt/voucher-rush/internal/cache"
	"github.com/hieudt/voucher-rush/internal/core/service"
	"github.com/hieudt/voucher-rush/internal/port"
)

type HTTPHandler struct {
	orders *service.OrderService
	shops  *service.ShopService
}

type SeckillRequest struct {
	VoucherID int64 `json:"voucher_id"`
	UserID    int64 `json:"user_id"`
}

type SeckillResponse struct {
	Success bool   `json:"success"`
	OrderID int64  `json:"order_id,omitempty"`
	Message string `json:"message"`
}

func NewHTTPHandler(orders *service.OrderService, shops *service.ShopService) *HTTPHandler {
	return &HTTPHandler{orders: orders, shops: shops}
}

func (h *HTTPHandler) Seckill(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req SeckillRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, SeckillResponse{
			Success: false,
			Message: "invalid request body",
		})
		return
	}

	if req.VoucherID <= 0 || req.UserID <= 0 {
		writeJSON(w, http.StatusBadRequest, SeckillResponse{
			Success: false,
			Message: "missing required fields",
		})
		return
	}

	orderID, err := h.orders.SeckillVoucher(r.Context(), req.VoucherID, req.UserID)
	if err != nil {
		status := http.StatusInternalServerError
		message := "internal error"

		switch {
		case errors.Is(err, port.ErrDuplicateOrder):
			status = http.StatusConflict
			message = "already ordered"
		case errors.Is(err, port.ErrOutOfStock):
			status = http.StatusGone
			message = "sold out"
		case errors.Is(err, port.ErrVoucherNotFound):
			status = http.StatusNotFound
			message = "voucher not found"
		case errors.Is(err, port.ErrSaleNotStarted):
			status = http.StatusForbidden
			message = "sale has not started"
		case errors.Is(err, port.ErrSaleEnded):
			status = http.StatusForbidden
			message = "sale has ended"
		}

		writeJSON(w, status, SeckillResponse{
			Success: false,
			Message: message,
		})
		return
	}

	writeJSON(w, http.StatusOK, SeckillResponse{
		Success: true,
		OrderID: orderID,
		Message: "order admitted",
	})
}

func (h *HTTPHandler) GetShop(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.URL.Query().Get("id"), 10, 64)
	if err != nil || id <= 0 {
		http.Error(w, "invalid shop id", http.StatusBadRequest)
		return
	}

	shop, err := h.shops.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, cache.ErrNotFound) {
			http.Error(w, "shop not found", http.StatusNotFound)
			return
		}
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, shop)
}

func (h *HTTPHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
