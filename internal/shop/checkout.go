package shop

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// PaymentGateway is the external mobile-money collaborator. InitiateSTKPush
// returns the provider's checkout request id; VerifyTransaction returns the
// provider result code (0 = success).
type PaymentGateway interface {
	InitiateSTKPush(ctx context.Context, phone string, amount int64, reference, description string) (string, error)
	VerifyTransaction(ctx context.Context, checkoutRequestID string) (int, error)
}

type CheckoutResult struct {
	OrderID           string          `json:"order_id"`
	TotalAmount       decimal.Decimal `json:"total_amount"`
	CheckoutRequestID string          `json:"checkout_request_id"`
}

// CheckoutService converts a cart into a pending order inside one transaction:
// lock the cart, lock its products in ascending id order, validate every line,
// initiate the STK push, then write the order + items, deduct stock, and clear
// the cart. Any failure rolls the whole attempt back.
type CheckoutService struct {
	DB          *pgxpool.Pool
	Gateway     PaymentGateway
	LockTimeout time.Duration
	Log         *slog.Logger
}

type cartLineRow struct {
	ItemID    string
	ProductID string
	Quantity  int
}

func (s *CheckoutService) Checkout(ctx context.Context, userID, cartID, phone string) (CheckoutResult, error) {
	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return CheckoutResult{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := setLockTimeout(ctx, tx, s.LockTimeout); err != nil {
		return CheckoutResult{}, err
	}

	// 1. Cart first, then products. Every multi-product path locks products in
	// ascending id order, so checkouts can't deadlock each other.
	var lockedCartID string
	err = tx.QueryRow(ctx, `
		SELECT id FROM carts WHERE id = $1 AND user_id = $2
		FOR UPDATE`, cartID, userID).Scan(&lockedCartID)
	if errors.Is(err, pgx.ErrNoRows) {
		return CheckoutResult{}, ErrCartNotFound
	}
	if err != nil {
		return CheckoutResult{}, mapBusy(err)
	}

	lines, err := loadCartLines(ctx, tx, cartID)
	if err != nil {
		return CheckoutResult{}, err
	}
	if len(lines) == 0 {
		return CheckoutResult{}, ErrEmptyCart
	}

	products, err := lockProducts(ctx, tx, distinctProductIDs(lines))
	if err != nil {
		return CheckoutResult{}, err
	}

	// 2. Validate everything before mutating anything. All shortfalls are
	// collected so the client sees the full picture at once.
	if err := validateLines(lines, products); err != nil {
		return CheckoutResult{}, err
	}
	total := computeTotal(lines, products)

	// 3. The STK push happens before any write so a gateway failure leaves no
	// trace: the transaction holds only locks at this point.
	reference := CheckoutReference(userID, cartID)
	checkoutRequestID, err := s.Gateway.InitiateSTKPush(ctx, phone, total.IntPart(), reference, "Order payment")
	if err != nil {
		return CheckoutResult{}, fmt.Errorf("%w: %v", ErrExternalService, err)
	}

	orderID := uuid.NewString()
	_, err = tx.Exec(ctx, `
		INSERT INTO orders (id, user_id, total_amount, status, checkout_request_id)
		VALUES ($1, $2, $3, 'pending', $4)`,
		orderID, userID, total, checkoutRequestID)
	if err != nil {
		return CheckoutResult{}, err
	}

	for _, l := range lines {
		p := products[l.ProductID]
		_, err = tx.Exec(ctx, `
			INSERT INTO order_items (id, order_id, product_id, quantity, price)
			VALUES ($1, $2, $3, $4, $5)`,
			uuid.NewString(), orderID, l.ProductID, l.Quantity, p.Price)
		if err != nil {
			return CheckoutResult{}, err
		}
		if err := reserveStock(ctx, tx, l.ProductID, l.Quantity); err != nil {
			return CheckoutResult{}, err
		}
	}

	// The cart row stays so the next add reuses it; only its items go.
	if _, err := tx.Exec(ctx, `DELETE FROM cart_items WHERE cart_id = $1`, cartID); err != nil {
		return CheckoutResult{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return CheckoutResult{}, mapBusy(err)
	}

	s.Log.Info("checkout committed", "order_id", orderID, "user_id", userID,
		"total", total.String(), "checkout_request_id", checkoutRequestID)
	return CheckoutResult{OrderID: orderID, TotalAmount: total, CheckoutRequestID: checkoutRequestID}, nil
}

// CheckoutReference builds the account reference sent to the gateway.
func CheckoutReference(userID, cartID string) string {
	return fmt.Sprintf("ORDER-%s-%s", userID, cartID)
}

func loadCartLines(ctx context.Context, tx pgx.Tx, cartID string) ([]cartLineRow, error) {
	rows, err := tx.Query(ctx, `
		SELECT id, product_id, quantity FROM cart_items WHERE cart_id = $1`, cartID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []cartLineRow
	for rows.Next() {
		var l cartLineRow
		if err := rows.Scan(&l.ItemID, &l.ProductID, &l.Quantity); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func distinctProductIDs(lines []cartLineRow) []string {
	seen := make(map[string]bool, len(lines))
	out := make([]string, 0, len(lines))
	for _, l := range lines {
		if !seen[l.ProductID] {
			seen[l.ProductID] = true
			out = append(out, l.ProductID)
		}
	}
	sort.Strings(out)
	return out
}

// validateLines checks every line against locked stock, accumulating all
// shortfalls instead of failing on the first.
func validateLines(lines []cartLineRow, products map[string]lockedProduct) error {
	var short []StockShortfall
	for _, l := range lines {
		p, ok := products[l.ProductID]
		if !ok {
			return fmt.Errorf("%w: %s", ErrProductNotFound, l.ProductID)
		}
		if p.Stock < l.Quantity {
			short = append(short, StockShortfall{
				ProductID:   p.ID,
				ProductName: p.Name,
				Available:   p.Stock,
				Requested:   l.Quantity,
			})
		}
	}
	if len(short) > 0 {
		return &InsufficientStockError{Lines: short}
	}
	return nil
}

// computeTotal sums current locked price × quantity. The per-line price is
// captured into order_items, so this is the price-at-order-time total.
func computeTotal(lines []cartLineRow, products map[string]lockedProduct) decimal.Decimal {
	total := decimal.Zero
	for _, l := range lines {
		total = total.Add(products[l.ProductID].Price.Mul(decimal.NewFromInt(int64(l.Quantity))))
	}
	return total
}

// setLockTimeout bounds how long this transaction waits on row locks. SET
// LOCAL cannot take a bind parameter; the value comes from config, not users.
func setLockTimeout(ctx context.Context, tx pgx.Tx, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	_, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", d.Milliseconds()))
	return err
}
