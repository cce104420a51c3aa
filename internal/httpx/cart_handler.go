package httpx

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/dukapay/go-shop-backend/internal/shop"
	"github.com/go-chi/chi/v5"
)

type cartService interface {
	GetCart(ctx context.Context, userID string) (shop.CartView, error)
	AddItem(ctx context.Context, userID, productID string, qty int) (shop.CartLine, error)
	UpdateItem(ctx context.Context, userID, itemID string, qty int) (shop.CartLine, error)
	RemoveItem(ctx context.Context, userID, itemID string) error
}

type CartHandler struct {
	Cart cartService
}

func (h *CartHandler) Register(r *chi.Mux) {
	r.Group(func(r chi.Router) {
		r.Use(RequireUser)
		r.Get("/cart", h.getCart)
		r.Post("/cart/items", h.addItem)
		r.Patch("/cart/items/{id}", h.updateItem)
		r.Delete("/cart/items/{id}", h.removeItem)
	})
}

func (h *CartHandler) getCart(w http.ResponseWriter, r *http.Request) {
	view, err := h.Cart.GetCart(r.Context(), IdentityFrom(r.Context()).UserID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

type addItemReq struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

func (h *CartHandler) addItem(w http.ResponseWriter, r *http.Request) {
	var req addItemReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if req.ProductID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing product_id"})
		return
	}
	if req.Quantity == 0 {
		req.Quantity = 1
	}

	line, err := h.Cart.AddItem(r.Context(), IdentityFrom(r.Context()).UserID, req.ProductID, req.Quantity)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, line)
}

type updateItemReq struct {
	Quantity int `json:"quantity"`
}

func (h *CartHandler) updateItem(w http.ResponseWriter, r *http.Request) {
	var req updateItemReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	line, err := h.Cart.UpdateItem(r.Context(), IdentityFrom(r.Context()).UserID, chi.URLParam(r, "id"), req.Quantity)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, line)
}

func (h *CartHandler) removeItem(w http.ResponseWriter, r *http.Request) {
	if err := h.Cart.RemoveItem(r.Context(), IdentityFrom(r.Context()).UserID, chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
