package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/quickcart/order-engine/internal/gateway"
	"github.com/quickcart/order-engine/internal/order"
	"github.com/quickcart/order-engine/internal/redisx"
	"github.com/quickcart/order-engine/internal/stock"
	"github.com/quickcart/order-engine/internal/voucher"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
)

// Engine is the order lifecycle surface the HTTP layer drives.
type Engine interface {
	Create(ctx context.Context, userID int64, lines []order.LineInput, paymentMethod string) (order.Order, error)
	ApplyVoucher(ctx context.Context, orderID, code string) (order.Order, error)
	Cancel(ctx context.Context, orderID string, actorID int64, actorType string) error
}

// OrderReader is the read side: lookups, listings, the stats rollup.
type OrderReader interface {
	Get(ctx context.Context, orderID string) (order.Order, error)
	ListByUser(ctx context.Context, userID int64, limit, offset int) ([]order.Order, error)
	Stats(ctx context.Context) (order.Stats, error)
	ListProducts(ctx context.Context) ([]order.Product, error)
}

// PaymentGateway issues payment intents and reports reachability.
type PaymentGateway interface {
	Healthy(ctx context.Context) bool
	CreateIntent(ctx context.Context, invoiceID string, amount int64, orderDeadline time.Time) (gateway.Intent, error)
}

type OrdersHandler struct {
	Svc     Engine
	Repo    OrderReader
	Gateway PaymentGateway
	Intents gateway.IntentStore
	Redis   *redis.Client
}

type CreateOrderReq struct {
	UserID        int64             `json:"user_id"`
	PaymentMethod string            `json:"payment_method"`
	Items         []order.LineInput `json:"items"`
}

type CreateOrderResp struct {
	OrderID   string          `json:"order_id"`
	InvoiceID string          `json:"invoice_id"`
	Subtotal  int64           `json:"subtotal"`
	Fee       int64           `json:"fee"`
	Total     int64           `json:"total"`
	Deadline  time.Time       `json:"deadline"`
	Flagged   bool            `json:"flagged,omitempty"`
	Payment   *gateway.Intent `json:"payment,omitempty"`
}

func (h *OrdersHandler) Register(r *chi.Mux) {
	r.Post("/orders", h.createOrder)
	r.Get("/orders/stats", h.orderStats)
	r.Post("/orders/{id}/voucher", h.applyVoucher)
	r.Post("/orders/{id}/cancel", h.cancelOrder)
	r.Get("/orders/{id}", h.getOrder)
	r.Get("/users/{id}/orders", h.listUserOrders)
	r.Get("/products", h.listProducts)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, code int, reason string) {
	writeJSON(w, code, map[string]string{"error": reason})
}

func (h *OrdersHandler) createOrder(w http.ResponseWriter, r *http.Request) {
	var req CreateOrderReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.UserID == 0 || len(req.Items) == 0 {
		writeErr(w, http.StatusBadRequest, "missing fields")
		return
	}
	if req.PaymentMethod == "" {
		req.PaymentMethod = "qris"
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	// Hide the method while the gateway is down instead of minting orders
	// nobody can pay.
	if req.PaymentMethod == "qris" && !h.Gateway.Healthy(ctx) {
		writeErr(w, http.StatusServiceUnavailable, "gateway_unavailable")
		return
	}

	o, err := h.Svc.Create(ctx, req.UserID, req.Items, req.PaymentMethod)
	if err != nil {
		code, reason := createErrStatus(err)
		writeErr(w, code, reason)
		return
	}

	resp := CreateOrderResp{
		OrderID: o.ID, InvoiceID: o.InvoiceID,
		Subtotal: o.Subtotal, Fee: o.Fee, Total: o.Total,
		Deadline: o.Deadline, Flagged: o.Flagged,
	}

	// Intent row first, gateway call second: a gateway failure leaves the
	// order pending and it expires on its own schedule.
	if err := h.Intents.Insert(ctx, o.InvoiceID, o.ID, o.Total); err != nil {
		writeErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	intent, err := h.Gateway.CreateIntent(ctx, o.InvoiceID, o.Total, o.Deadline)
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}
	resp.Payment = &intent

	h.cacheStatus(ctx, o)
	writeJSON(w, http.StatusCreated, resp)
}

func createErrStatus(err error) (int, string) {
	switch {
	case errors.Is(err, order.ErrInvalidQuantity):
		return http.StatusBadRequest, "invalid_quantity"
	case errors.Is(err, order.ErrUserBanned):
		return http.StatusForbidden, "user_banned"
	case errors.Is(err, order.ErrFraudBlocked):
		return http.StatusForbidden, "risk_blocked"
	case errors.Is(err, order.ErrPendingOrderExists):
		return http.StatusConflict, "pending_order_exists"
	case errors.Is(err, order.ErrProductUnavailable):
		return http.StatusNotFound, "product_unavailable"
	case errors.Is(err, stock.ErrInsufficientStock):
		return http.StatusConflict, "insufficient_stock"
	case errors.Is(err, order.ErrNotFound):
		return http.StatusNotFound, "not_found"
	default:
		return http.StatusInternalServerError, err.Error()
	}
}

type applyVoucherReq struct {
	Code string `json:"code"`
}

func (h *OrdersHandler) applyVoucher(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")
	var req applyVoucherReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Code == "" {
		writeErr(w, http.StatusBadRequest, "missing code")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	o, err := h.Svc.ApplyVoucher(ctx, orderID, req.Code)
	if err != nil {
		// user-facing copy differs per reason, so the reason is explicit
		switch {
		case errors.Is(err, voucher.ErrNotFound):
			writeErr(w, http.StatusNotFound, "voucher_not_found")
		case errors.Is(err, voucher.ErrAlreadyUsed):
			writeErr(w, http.StatusConflict, "voucher_already_used")
		case errors.Is(err, voucher.ErrExpired):
			writeErr(w, http.StatusConflict, "voucher_expired")
		case errors.Is(err, voucher.ErrCooldownActive):
			writeErr(w, http.StatusTooManyRequests, "voucher_cooldown_active")
		case errors.Is(err, order.ErrNotPending):
			writeErr(w, http.StatusConflict, "order_not_pending")
		case errors.Is(err, order.ErrNotFound):
			writeErr(w, http.StatusNotFound, "not_found")
		default:
			writeErr(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	// The open intent still carries the pre-discount amount; refresh it and
	// hand back a new payment payload so the buyer pays the new total.
	if _, err := h.Intents.UpdateAmount(ctx, o.InvoiceID, o.Total); err != nil {
		writeErr(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := map[string]any{
		"order_id": o.ID,
		"discount": o.Discount,
		"fee":      o.Fee,
		"total":    o.Total,
	}
	if intent, err := h.Gateway.CreateIntent(ctx, o.InvoiceID, o.Total, o.Deadline); err == nil {
		resp["payment"] = intent
	}

	h.cacheStatus(ctx, o)
	writeJSON(w, http.StatusOK, resp)
}

type cancelReq struct {
	ActorID   int64  `json:"actor_id"`
	ActorType string `json:"actor_type"` // user | admin
}

func (h *OrdersHandler) cancelOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")
	var req cancelReq
	_ = json.NewDecoder(r.Body).Decode(&req)
	if req.ActorType == "" {
		req.ActorType = "user"
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	err := h.Svc.Cancel(ctx, orderID, req.ActorID, req.ActorType)
	switch {
	case err == nil:
		h.invalidateStatus(ctx, orderID)
		writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
	case errors.Is(err, order.ErrNotFound):
		writeErr(w, http.StatusNotFound, "not_found")
	case errors.Is(err, order.ErrNotPending):
		writeErr(w, http.StatusConflict, "order_not_pending")
	default:
		writeErr(w, http.StatusInternalServerError, err.Error())
	}
}

type orderStatusView struct {
	OrderID   string       `json:"order_id"`
	InvoiceID string       `json:"invoice_id"`
	Status    order.Status `json:"status"`
	Total     int64        `json:"total"`
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	// cache first, DB is the source of truth
	if h.Redis != nil {
		key := fmt.Sprintf(redisx.KeyOrderStatus, orderID)
		if s, err := h.Redis.Get(ctx, key).Result(); err == nil && s != "" {
			writeJSON(w, http.StatusOK, json.RawMessage(s))
			return
		}
	}

	o, err := h.Repo.Get(ctx, orderID)
	if err != nil {
		writeErr(w, http.StatusNotFound, "not_found")
		return
	}
	h.cacheStatus(ctx, o)
	writeJSON(w, http.StatusOK, orderStatusView{
		OrderID: o.ID, InvoiceID: o.InvoiceID, Status: o.Status, Total: o.Total,
	})
}

type orderSummary struct {
	OrderID   string       `json:"order_id"`
	InvoiceID string       `json:"invoice_id"`
	Status    order.Status `json:"status"`
	Subtotal  int64        `json:"subtotal"`
	Discount  int64        `json:"discount"`
	Fee       int64        `json:"fee"`
	Total     int64        `json:"total"`
	CreatedAt time.Time    `json:"created_at"`
	Deadline  time.Time    `json:"deadline"`
}

func (h *OrdersHandler) listUserOrders(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || userID <= 0 {
		writeErr(w, http.StatusBadRequest, "invalid user id")
		return
	}
	limit := queryInt(r, "limit", 20)
	if limit > 100 {
		limit = 100
	}
	offset := queryInt(r, "offset", 0)

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	orders, err := h.Repo.ListByUser(ctx, userID, limit, offset)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err.Error())
		return
	}

	views := make([]orderSummary, 0, len(orders))
	for _, o := range orders {
		views = append(views, orderSummary{
			OrderID: o.ID, InvoiceID: o.InvoiceID, Status: o.Status,
			Subtotal: o.Subtotal, Discount: o.Discount, Fee: o.Fee, Total: o.Total,
			CreatedAt: o.CreatedAt, Deadline: o.Deadline,
		})
	}
	writeJSON(w, http.StatusOK, views)
}

func (h *OrdersHandler) orderStats(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	st, err := h.Repo.Stats(ctx)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *OrdersHandler) listProducts(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	ps, err := h.Repo.ListProducts(ctx)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, ps)
}

func queryInt(r *http.Request, key string, def int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil && i >= 0 {
			return i
		}
	}
	return def
}

func (h *OrdersHandler) cacheStatus(ctx context.Context, o order.Order) {
	if h.Redis == nil {
		return
	}
	b, _ := json.Marshal(orderStatusView{
		OrderID: o.ID, InvoiceID: o.InvoiceID, Status: o.Status, Total: o.Total,
	})
	key := fmt.Sprintf(redisx.KeyOrderStatus, o.ID)
	_ = h.Redis.Set(ctx, key, b, redisx.TTLStatusCache).Err()
}

func (h *OrdersHandler) invalidateStatus(ctx context.Context, orderID string) {
	if h.Redis == nil {
		return
	}
	_ = h.Redis.Del(ctx, fmt.Sprintf(redisx.KeyOrderStatus, orderID)).Err()
}
