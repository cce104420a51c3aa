package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/dukapay/go-shop-backend/internal/events"
	"github.com/dukapay/go-shop-backend/internal/mpesa"
	"github.com/dukapay/go-shop-backend/internal/shop"
	"github.com/go-chi/chi/v5"
)

type paymentApplier interface {
	ApplyPaymentResult(ctx context.Context, checkoutRequestID string, resultCode int) (shop.ReconcileResult, error)
}

type transactionVerifier interface {
	VerifyTransaction(ctx context.Context, checkoutRequestID string) (int, error)
}

// PaymentHandler owns the two entry points for gateway results: the push
// callback and the manual verify poll. Both feed the same Reconciler
// transition, so they cannot diverge.
type PaymentHandler struct {
	Recon   paymentApplier
	Gateway transactionVerifier
	Sink    *events.Sink
	Log     *slog.Logger
}

func (h *PaymentHandler) Register(r *chi.Mux) {
	r.Post("/payments/callback", h.callback) // called by the gateway, no identity
	r.With(RequireUser).Post("/payments/verify", h.verify)
}

func (h *PaymentHandler) callback(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unreadable body"})
		return
	}
	cb, err := mpesa.ParseCallback(body)
	if err != nil {
		h.Log.Warn("bad payment callback", "err", err)
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid callback data"})
		return
	}

	res, err := h.Recon.ApplyPaymentResult(r.Context(), cb.CheckoutRequestID, cb.ResultCode)
	if err != nil {
		if errors.Is(err, shop.ErrOrderNotFound) {
			// Unknown reference: log and reject, never guess at an order.
			h.Log.Warn("callback for unknown reference", "checkout_request_id", cb.CheckoutRequestID)
			h.Sink.Metrics.PaymentResults.WithLabelValues("unknown_reference").Inc()
		}
		writeError(w, err)
		return
	}
	h.Sink.OrderSettled(r.Context(), r.Header.Get("X-Request-Id"), res)
	writeJSON(w, http.StatusOK, map[string]string{
		"message": settleMessage(res.Status),
	})
}

type verifyReq struct {
	CheckoutRequestID string `json:"checkout_request_id"`
}

func (h *PaymentHandler) verify(w http.ResponseWriter, r *http.Request) {
	var req verifyReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if req.CheckoutRequestID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing checkout_request_id"})
		return
	}

	code, err := h.Gateway.VerifyTransaction(r.Context(), req.CheckoutRequestID)
	if err != nil {
		h.Log.Warn("verify transaction", "checkout_request_id", req.CheckoutRequestID, "err", err)
		writeError(w, shop.ErrExternalService)
		return
	}

	res, err := h.Recon.ApplyPaymentResult(r.Context(), req.CheckoutRequestID, code)
	if err != nil {
		if errors.Is(err, shop.ErrOrderNotFound) {
			h.Sink.Metrics.PaymentResults.WithLabelValues("unknown_reference").Inc()
		}
		writeError(w, err)
		return
	}
	h.Sink.OrderSettled(r.Context(), r.Header.Get("X-Request-Id"), res)
	writeJSON(w, http.StatusOK, map[string]any{
		"message":      settleMessage(res.Status),
		"order_id":     res.OrderID,
		"order_status": res.Status,
	})
}

func settleMessage(s shop.Status) string {
	if s == shop.StatusPaid {
		return "Payment successful"
	}
	return "Payment " + string(s)
}
