package httpx

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/dukapay/go-shop-backend/internal/events"
	"github.com/dukapay/go-shop-backend/internal/redisx"
	"github.com/dukapay/go-shop-backend/internal/shop"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
)

type orderReader interface {
	GetOrder(ctx context.Context, userID, orderID string) (shop.Order, error)
	GetOrderStatus(ctx context.Context, orderID string) (shop.Status, error)
	ListUserOrders(ctx context.Context, userID string) ([]shop.Order, error)
	ListOrders(ctx context.Context, status shop.Status) ([]shop.Order, error)
}

type orderFinalizer interface {
	CancelOrder(ctx context.Context, orderID string) (shop.ReconcileResult, error)
	RefundOrder(ctx context.Context, orderID string) (shop.ReconcileResult, error)
}

type OrdersHandler struct {
	Repo  orderReader
	Recon orderFinalizer
	Redis *redis.Client
	Sink  *events.Sink
}

func (h *OrdersHandler) Register(r *chi.Mux) {
	r.Group(func(r chi.Router) {
		r.Use(RequireUser)
		r.Get("/orders", h.listOrders)
		r.Get("/orders/{id}", h.getOrder)
		r.Get("/orders/{id}/status", h.getStatus)
	})
	r.Group(func(r chi.Router) {
		r.Use(RequireAdmin)
		r.Get("/admin/orders", h.adminList)
		r.Post("/admin/orders/{id}/cancel", h.cancel)
		r.Post("/admin/orders/{id}/refund", h.refund)
	})
}

func (h *OrdersHandler) listOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.Repo.ListUserOrders(r.Context(), IdentityFrom(r.Context()).UserID)
	if err != nil {
		writeError(w, err)
		return
	}
	if orders == nil {
		orders = []shop.Order{}
	}
	writeJSON(w, http.StatusOK, orders)
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.Repo.GetOrder(r.Context(), IdentityFrom(r.Context()).UserID, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

// getStatus serves from the redis cache first and falls back to the database.
func (h *OrdersHandler) getStatus(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")

	key := fmt.Sprintf(redisx.KeyOrderStatus, orderID)
	if s, err := h.Redis.Get(r.Context(), key).Result(); err == nil && s != "" {
		writeJSON(w, http.StatusOK, json.RawMessage(s))
		return
	}

	status, err := h.Repo.GetOrderStatus(r.Context(), orderID)
	if err != nil {
		writeError(w, err)
		return
	}
	body := fmt.Sprintf(`{"status":%q}`, status)
	_ = h.Redis.Set(r.Context(), key, body, redisx.TTLStatusCache).Err()
	writeJSON(w, http.StatusOK, json.RawMessage(body))
}

func (h *OrdersHandler) adminList(w http.ResponseWriter, r *http.Request) {
	orders, err := h.Repo.ListOrders(r.Context(), shop.Status(r.URL.Query().Get("status")))
	if err != nil {
		writeError(w, err)
		return
	}
	if orders == nil {
		orders = []shop.Order{}
	}
	writeJSON(w, http.StatusOK, orders)
}

func (h *OrdersHandler) cancel(w http.ResponseWriter, r *http.Request) {
	h.finalize(w, r, h.Recon.CancelOrder)
}

func (h *OrdersHandler) refund(w http.ResponseWriter, r *http.Request) {
	h.finalize(w, r, h.Recon.RefundOrder)
}

func (h *OrdersHandler) finalize(w http.ResponseWriter, r *http.Request,
	fn func(context.Context, string) (shop.ReconcileResult, error)) {

	res, err := fn(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	h.Sink.OrderSettled(r.Context(), r.Header.Get("X-Request-Id"), res)
	writeJSON(w, http.StatusOK, map[string]any{
		"order_id":     res.OrderID,
		"order_status": res.Status,
	})
}
