package shop

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Reconciler owns every status transition after order creation. The HTTP
// callback, the manual verify endpoint, the background verifier, and the admin
// cancel/refund paths all funnel through apply(), so idempotency and stock
// restoration live in exactly one place.
type Reconciler struct {
	DB          *pgxpool.Pool
	LockTimeout time.Duration
	Log         *slog.Logger
}

type ReconcileResult struct {
	OrderID  string
	Status   Status
	Applied  bool // false means the call was a no-op (duplicate delivery)
	Restored []RestoredLine
}

// ApplyPaymentResult maps a gateway result code onto the order identified by
// its checkout request id. Result code 0 means paid; anything else fails the
// order and restores its stock. Duplicate deliveries are no-ops.
func (r *Reconciler) ApplyPaymentResult(ctx context.Context, checkoutRequestID string, resultCode int) (ReconcileResult, error) {
	target := StatusPaid
	if resultCode != 0 {
		target = StatusFailed
	}

	return r.inTx(ctx, func(tx pgx.Tx) (ReconcileResult, error) {
		o, err := lockOrderByRef(ctx, tx, checkoutRequestID)
		if err != nil {
			return ReconcileResult{}, err
		}
		// A late or duplicate gateway result for a settled order is expected
		// with at-least-once delivery; swallow it.
		if o.Status != StatusPending {
			r.Log.Info("payment result ignored", "order_id", o.ID, "status", o.Status, "result_code", resultCode)
			return ReconcileResult{OrderID: o.ID, Status: o.Status}, nil
		}
		return r.apply(ctx, tx, o, target)
	})
}

// CancelOrder moves a pending order to cancelled and restores its stock.
func (r *Reconciler) CancelOrder(ctx context.Context, orderID string) (ReconcileResult, error) {
	return r.adminTransition(ctx, orderID, StatusCancelled)
}

// RefundOrder moves a paid order to refunded and restores its stock. Whether a
// paid reservation should ever be released is answered here: yes, but only
// through this explicit path.
func (r *Reconciler) RefundOrder(ctx context.Context, orderID string) (ReconcileResult, error) {
	return r.adminTransition(ctx, orderID, StatusRefunded)
}

func (r *Reconciler) adminTransition(ctx context.Context, orderID string, target Status) (ReconcileResult, error) {
	return r.inTx(ctx, func(tx pgx.Tx) (ReconcileResult, error) {
		o, err := lockOrderByID(ctx, tx, orderID)
		if err != nil {
			return ReconcileResult{}, err
		}
		if o.Status == target {
			return ReconcileResult{OrderID: o.ID, Status: o.Status}, nil
		}
		if !CanTransition(o.Status, target) {
			return ReconcileResult{OrderID: o.ID, Status: o.Status}, ErrAlreadyFinalized
		}
		return r.apply(ctx, tx, o, target)
	})
}

// apply performs the transition on an order whose row is already locked and
// whose move has been vetted by the caller. Stock is restored on the single
// transition out of pending/paid, which is what makes double restores
// impossible: a second call finds a non-pending status and never gets here.
func (r *Reconciler) apply(ctx context.Context, tx pgx.Tx, o orderRow, target Status) (ReconcileResult, error) {
	res := ReconcileResult{OrderID: o.ID, Status: target, Applied: true}

	if target.RestoresStock() {
		items, err := loadOrderItems(ctx, tx, o.ID)
		if err != nil {
			return ReconcileResult{}, err
		}
		restored, err := restoreStock(ctx, tx, items)
		if err != nil {
			return ReconcileResult{}, err
		}
		res.Restored = restored
	}

	if target == StatusPaid {
		if _, err := tx.Exec(ctx, `
			UPDATE orders SET status = 'paid', paid_at = now() WHERE id = $1`, o.ID); err != nil {
			return ReconcileResult{}, err
		}
	} else {
		if _, err := tx.Exec(ctx, `
			UPDATE orders SET status = $2 WHERE id = $1`, o.ID, string(target)); err != nil {
			return ReconcileResult{}, err
		}
	}

	r.Log.Info("order transition", "order_id", o.ID, "from", o.Status, "to", target,
		"restored_lines", len(res.Restored))
	return res, nil
}

func (r *Reconciler) inTx(ctx context.Context, fn func(pgx.Tx) (ReconcileResult, error)) (ReconcileResult, error) {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return ReconcileResult{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := setLockTimeout(ctx, tx, r.LockTimeout); err != nil {
		return ReconcileResult{}, err
	}
	res, err := fn(tx)
	if err != nil {
		return res, err
	}
	if err := tx.Commit(ctx); err != nil {
		return ReconcileResult{}, mapBusy(err)
	}
	return res, nil
}

type orderRow struct {
	ID     string
	UserID string
	Status Status
}

func lockOrderByRef(ctx context.Context, tx pgx.Tx, checkoutRequestID string) (orderRow, error) {
	var o orderRow
	err := tx.QueryRow(ctx, `
		SELECT id, user_id, status FROM orders
		WHERE checkout_request_id = $1
		FOR UPDATE`, checkoutRequestID).Scan(&o.ID, &o.UserID, &o.Status)
	if errors.Is(err, pgx.ErrNoRows) {
		return orderRow{}, ErrOrderNotFound
	}
	return o, mapBusy(err)
}

func lockOrderByID(ctx context.Context, tx pgx.Tx, orderID string) (orderRow, error) {
	var o orderRow
	err := tx.QueryRow(ctx, `
		SELECT id, user_id, status FROM orders
		WHERE id = $1
		FOR UPDATE`, orderID).Scan(&o.ID, &o.UserID, &o.Status)
	if errors.Is(err, pgx.ErrNoRows) {
		return orderRow{}, ErrOrderNotFound
	}
	return o, mapBusy(err)
}

func loadOrderItems(ctx context.Context, tx pgx.Tx, orderID string) ([]OrderItem, error) {
	rows, err := tx.Query(ctx, `
		SELECT id, order_id, product_id, quantity, price
		FROM order_items WHERE order_id = $1`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []OrderItem
	for rows.Next() {
		var it OrderItem
		if err := rows.Scan(&it.ID, &it.OrderID, &it.ProductID, &it.Quantity, &it.Price); err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}
