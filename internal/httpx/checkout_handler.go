package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/dukapay/go-shop-backend/internal/events"
	"github.com/dukapay/go-shop-backend/internal/shop"
	"github.com/go-chi/chi/v5"
)

type checkoutRunner interface {
	Checkout(ctx context.Context, userID, cartID, phone string) (shop.CheckoutResult, error)
}

type cartReader interface {
	GetCart(ctx context.Context, userID string) (shop.CartView, error)
}

type CheckoutHandler struct {
	Checkout checkoutRunner
	Cart     cartReader
	Sink     *events.Sink
}

func (h *CheckoutHandler) Register(r *chi.Mux) {
	r.With(RequireUser).Post("/checkout", h.checkout)
}

type checkoutReq struct {
	PhoneNumber string `json:"phone_number"`
	CartID      string `json:"cart_id"` // optional; defaults to the caller's cart
}

type checkoutResp struct {
	OrderID           string `json:"order_id"`
	TotalAmount       string `json:"total_amount"`
	CheckoutRequestID string `json:"checkout_request_id"`
}

func (h *CheckoutHandler) checkout(w http.ResponseWriter, r *http.Request) {
	var req checkoutReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if req.PhoneNumber == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing phone_number"})
		return
	}
	userID := IdentityFrom(r.Context()).UserID

	cartID := req.CartID
	if cartID == "" {
		view, err := h.Cart.GetCart(r.Context(), userID)
		if err != nil {
			writeError(w, err)
			return
		}
		if view.ID == "" {
			h.count(shop.ErrCartNotFound)
			writeError(w, shop.ErrCartNotFound)
			return
		}
		cartID = view.ID
	}

	res, err := h.Checkout.Checkout(r.Context(), userID, cartID, req.PhoneNumber)
	if err != nil {
		h.count(err)
		writeError(w, err)
		return
	}
	h.Sink.Metrics.Checkouts.WithLabelValues("ok").Inc()
	h.Sink.OrderCreated(r.Context(), r.Header.Get("X-Request-Id"), userID, res)

	writeJSON(w, http.StatusAccepted, checkoutResp{
		OrderID:           res.OrderID,
		TotalAmount:       res.TotalAmount.String(),
		CheckoutRequestID: res.CheckoutRequestID,
	})
}

func (h *CheckoutHandler) count(err error) {
	var stockErr *shop.InsufficientStockError
	switch {
	case errors.As(err, &stockErr):
		h.Sink.Metrics.Checkouts.WithLabelValues("insufficient_stock").Inc()
	case errors.Is(err, shop.ErrEmptyCart):
		h.Sink.Metrics.Checkouts.WithLabelValues("empty_cart").Inc()
	case errors.Is(err, shop.ErrBusy):
		h.Sink.Metrics.Checkouts.WithLabelValues("busy").Inc()
	case errors.Is(err, shop.ErrExternalService):
		h.Sink.Metrics.Checkouts.WithLabelValues("gateway_error").Inc()
	default:
		h.Sink.Metrics.Checkouts.WithLabelValues("error").Inc()
	}
}
