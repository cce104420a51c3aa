package httpx

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/dukapay/go-shop-backend/internal/shop"
)

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps domain errors onto status codes in one place so every
// handler reports the same way.
func writeError(w http.ResponseWriter, err error) {
	var stockErr *shop.InsufficientStockError
	if errors.As(err, &stockErr) {
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":   "insufficient stock for some items",
			"details": stockErr.Lines,
		})
		return
	}

	switch {
	case errors.Is(err, shop.ErrProductNotFound),
		errors.Is(err, shop.ErrCategoryNotFound),
		errors.Is(err, shop.ErrCartNotFound),
		errors.Is(err, shop.ErrItemNotFound),
		errors.Is(err, shop.ErrOrderNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	case errors.Is(err, shop.ErrUnauthorized):
		writeJSON(w, http.StatusForbidden, map[string]string{"error": err.Error()})
	case errors.Is(err, shop.ErrInvalidQuantity),
		errors.Is(err, shop.ErrEmptyCart),
		errors.Is(err, shop.ErrInvalidPrice),
		errors.Is(err, shop.ErrInvalidStock):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, shop.ErrCategoryExists),
		errors.Is(err, shop.ErrProductInUse),
		errors.Is(err, shop.ErrAlreadyFinalized):
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	case errors.Is(err, shop.ErrBusy):
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
	case errors.Is(err, shop.ErrExternalService):
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
	default:
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}
