package shop

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// OrderRepo is the read side: order lookups for owners and admins. All writes
// go through CheckoutService and Reconciler.
type OrderRepo struct {
	DB *pgxpool.Pool
}

const orderCols = `id, user_id, total_amount, status, checkout_request_id, paid_at, created_at`

// GetOrder returns the order with its items. ErrUnauthorized when it belongs
// to someone else.
func (r *OrderRepo) GetOrder(ctx context.Context, userID, orderID string) (Order, error) {
	o, err := r.getOrder(ctx, orderID)
	if err != nil {
		return Order{}, err
	}
	if o.UserID != userID {
		return Order{}, ErrUnauthorized
	}
	return o, nil
}

// GetOrderAdmin skips the ownership check.
func (r *OrderRepo) GetOrderAdmin(ctx context.Context, orderID string) (Order, error) {
	return r.getOrder(ctx, orderID)
}

func (r *OrderRepo) getOrder(ctx context.Context, orderID string) (Order, error) {
	var o Order
	err := r.DB.QueryRow(ctx, `SELECT `+orderCols+` FROM orders WHERE id = $1`, orderID).
		Scan(&o.ID, &o.UserID, &o.TotalAmount, &o.Status, &o.CheckoutRequestID, &o.PaidAt, &o.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Order{}, ErrOrderNotFound
	}
	if err != nil {
		return Order{}, err
	}

	rows, err := r.DB.Query(ctx, `
		SELECT id, order_id, product_id, quantity, price
		FROM order_items WHERE order_id = $1`, orderID)
	if err != nil {
		return Order{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var it OrderItem
		if err := rows.Scan(&it.ID, &it.OrderID, &it.ProductID, &it.Quantity, &it.Price); err != nil {
			return Order{}, err
		}
		o.Items = append(o.Items, it)
	}
	return o, rows.Err()
}

func (r *OrderRepo) GetOrderStatus(ctx context.Context, orderID string) (Status, error) {
	var s string
	err := r.DB.QueryRow(ctx, `SELECT status FROM orders WHERE id = $1`, orderID).Scan(&s)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrOrderNotFound
	}
	if err != nil {
		return "", err
	}
	return Status(s), nil
}

func (r *OrderRepo) ListUserOrders(ctx context.Context, userID string) ([]Order, error) {
	return r.list(ctx, `SELECT `+orderCols+` FROM orders WHERE user_id = $1 ORDER BY created_at DESC`, userID)
}

// ListOrders is the admin listing, optionally filtered by status.
func (r *OrderRepo) ListOrders(ctx context.Context, status Status) ([]Order, error) {
	if status == "" {
		return r.list(ctx, `SELECT `+orderCols+` FROM orders ORDER BY created_at DESC`)
	}
	return r.list(ctx, `SELECT `+orderCols+` FROM orders WHERE status = $1 ORDER BY created_at DESC`, string(status))
}

func (r *OrderRepo) list(ctx context.Context, q string, args ...any) ([]Order, error) {
	rows, err := r.DB.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Order
	for rows.Next() {
		var o Order
		if err := rows.Scan(&o.ID, &o.UserID, &o.TotalAmount, &o.Status,
			&o.CheckoutRequestID, &o.PaidAt, &o.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}
