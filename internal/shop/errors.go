package shop

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	ErrProductNotFound  = errors.New("product not found")
	ErrCategoryNotFound = errors.New("category not found")
	ErrCategoryExists   = errors.New("category already exists")
	ErrProductInUse     = errors.New("product is referenced by carts or orders")
	ErrInvalidPrice     = errors.New("price must be positive")
	ErrInvalidStock     = errors.New("stock must not go negative")

	ErrCartNotFound    = errors.New("cart not found")
	ErrItemNotFound    = errors.New("cart item not found")
	ErrEmptyCart       = errors.New("cart is empty")
	ErrUnauthorized    = errors.New("not the owner")
	ErrInvalidQuantity = errors.New("quantity must be between 1 and 100")

	ErrOrderNotFound    = errors.New("order not found")
	ErrAlreadyFinalized = errors.New("order already finalized")

	ErrBusy            = errors.New("resource busy, retry")
	ErrExternalService = errors.New("payment gateway error")
)

// StockShortfall describes one cart line that cannot be satisfied.
type StockShortfall struct {
	ProductID   string `json:"product_id"`
	ProductName string `json:"product_name"`
	Available   int    `json:"available"`
	Requested   int    `json:"requested"`
}

// InsufficientStockError lists every offending line, not just the first, so a
// client can fix the whole cart in one round trip.
type InsufficientStockError struct {
	Lines []StockShortfall
}

func (e *InsufficientStockError) Error() string {
	var b strings.Builder
	b.WriteString("insufficient stock:")
	for _, l := range e.Lines {
		fmt.Fprintf(&b, " %s (available %d, requested %d)", l.ProductID, l.Available, l.Requested)
	}
	return b.String()
}

const (
	pgLockNotAvailable = "55P03"
	pgUniqueViolation  = "23505"
	pgFKViolation      = "23503"
)

// mapBusy turns a postgres lock_timeout expiry into ErrBusy. The transaction
// never committed, so the caller may retry freely.
func mapBusy(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgLockNotAvailable {
		return ErrBusy
	}
	return err
}

func isPgCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == code
}
