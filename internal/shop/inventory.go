package shop

import (
	"context"
	"fmt"
	"sort"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// The inventory ledger: products.stock is only ever touched by the helpers in
// this file (plus the admin stock adjustment, which uses the same lock), and
// always under a row lock taken in ascending product id order. Locking in one
// global order is what keeps concurrent checkouts sharing products from
// deadlocking against each other.

type lockedProduct struct {
	ID    string
	Name  string
	Price decimal.Decimal
	Stock int
}

// lockProducts takes FOR UPDATE locks on the given products, in ascending id
// order, and returns their current name/price/stock.
func lockProducts(ctx context.Context, tx pgx.Tx, ids []string) (map[string]lockedProduct, error) {
	rows, err := tx.Query(ctx, `
		SELECT id, name, price, stock FROM products
		WHERE id = ANY($1)
		ORDER BY id
		FOR UPDATE`, ids)
	if err != nil {
		return nil, mapBusy(err)
	}
	defer rows.Close()

	out := make(map[string]lockedProduct, len(ids))
	for rows.Next() {
		var p lockedProduct
		if err := rows.Scan(&p.ID, &p.Name, &p.Price, &p.Stock); err != nil {
			return nil, err
		}
		out[p.ID] = p
	}
	if err := rows.Err(); err != nil {
		return nil, mapBusy(err)
	}
	return out, nil
}

// reserveStock decrements stock for one product. The row must already be
// locked and validated by the caller; the WHERE guard is a last line of
// defense, never the primary check.
func reserveStock(ctx context.Context, tx pgx.Tx, productID string, qty int) error {
	ct, err := tx.Exec(ctx, `
		UPDATE products SET stock = stock - $2, updated_at = now()
		WHERE id = $1 AND stock >= $2`, productID, qty)
	if err != nil {
		return err
	}
	if ct.RowsAffected() != 1 {
		return fmt.Errorf("reserve %s: %w", productID, ErrInvalidStock)
	}
	return nil
}

// restoreStock gives the reserved quantities back, locking the products in the
// same ascending id order checkout uses.
func restoreStock(ctx context.Context, tx pgx.Tx, items []OrderItem) ([]RestoredLine, error) {
	sorted := make([]OrderItem, len(items))
	copy(sorted, items)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ProductID < sorted[j].ProductID })

	ids := make([]string, 0, len(sorted))
	for _, it := range sorted {
		ids = append(ids, it.ProductID)
	}
	if _, err := lockProducts(ctx, tx, ids); err != nil {
		return nil, err
	}

	restored := make([]RestoredLine, 0, len(sorted))
	for _, it := range sorted {
		if _, err := tx.Exec(ctx, `
			UPDATE products SET stock = stock + $2, updated_at = now()
			WHERE id = $1`, it.ProductID, it.Quantity); err != nil {
			return nil, err
		}
		restored = append(restored, RestoredLine{ProductID: it.ProductID, Quantity: it.Quantity})
	}
	return restored, nil
}
