package shop

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

const (
	MinLineQuantity = 1
	MaxLineQuantity = 100
)

// CartRepo owns the per-user cart: one active cart per user, created lazily on
// the first add, at most one line per product.
type CartRepo struct {
	DB *pgxpool.Pool
}

// GetCart returns an empty view (not an error) when the user has no cart yet.
func (r *CartRepo) GetCart(ctx context.Context, userID string) (CartView, error) {
	view := CartView{UserID: userID, Items: []CartLine{}, TotalAmount: decimal.Zero}

	err := r.DB.QueryRow(ctx, `SELECT id FROM carts WHERE user_id = $1`, userID).Scan(&view.ID)
	if errors.Is(err, pgx.ErrNoRows) {
		return view, nil
	}
	if err != nil {
		return CartView{}, err
	}

	rows, err := r.DB.Query(ctx, `
		SELECT ci.id, p.id, p.name, p.price, p.image_url, ci.quantity, p.stock
		FROM cart_items ci
		JOIN products p ON p.id = ci.product_id
		WHERE ci.cart_id = $1
		ORDER BY p.name`, view.ID)
	if err != nil {
		return CartView{}, err
	}
	defer rows.Close()

	for rows.Next() {
		var l CartLine
		if err := rows.Scan(&l.ID, &l.ProductID, &l.ProductName, &l.Price, &l.ImageURL, &l.Quantity, &l.Stock); err != nil {
			return CartView{}, err
		}
		l.Subtotal = l.Price.Mul(decimal.NewFromInt(int64(l.Quantity)))
		view.TotalAmount = view.TotalAmount.Add(l.Subtotal)
		view.Items = append(view.Items, l)
	}
	return view, rows.Err()
}

// AddItem merges into an existing line for the same product instead of adding
// a duplicate. The stock check here is an optimistic pre-check for fast
// feedback; checkout re-validates under lock.
func (r *CartRepo) AddItem(ctx context.Context, userID, productID string, qty int) (CartLine, error) {
	if qty < MinLineQuantity || qty > MaxLineQuantity {
		return CartLine{}, ErrInvalidQuantity
	}

	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return CartLine{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var (
		name     string
		price    decimal.Decimal
		imageURL string
		stock    int
	)
	err = tx.QueryRow(ctx, `
		SELECT name, price, image_url, stock FROM products WHERE id = $1`, productID).
		Scan(&name, &price, &imageURL, &stock)
	if errors.Is(err, pgx.ErrNoRows) {
		return CartLine{}, ErrProductNotFound
	}
	if err != nil {
		return CartLine{}, err
	}

	cartID, err := ensureCart(ctx, tx, userID)
	if err != nil {
		return CartLine{}, err
	}

	line := CartLine{ProductID: productID, ProductName: name, Price: price, ImageURL: imageURL, Stock: stock}
	err = tx.QueryRow(ctx, `
		INSERT INTO cart_items (id, cart_id, product_id, quantity)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (cart_id, product_id)
		DO UPDATE SET quantity = cart_items.quantity + EXCLUDED.quantity
		RETURNING id, quantity`,
		uuid.NewString(), cartID, productID, qty).Scan(&line.ID, &line.Quantity)
	if err != nil {
		// merged quantity above 100 trips the table check constraint
		if isPgCode(err, "23514") {
			return CartLine{}, ErrInvalidQuantity
		}
		return CartLine{}, err
	}

	if stock < line.Quantity {
		return CartLine{}, &InsufficientStockError{Lines: []StockShortfall{{
			ProductID:   productID,
			ProductName: name,
			Available:   stock,
			Requested:   line.Quantity,
		}}}
	}

	if err := tx.Commit(ctx); err != nil {
		return CartLine{}, err
	}
	line.Subtotal = line.Price.Mul(decimal.NewFromInt(int64(line.Quantity)))
	return line, nil
}

// UpdateItem sets a line's quantity. Fails ErrUnauthorized when the line's
// cart belongs to someone else.
func (r *CartRepo) UpdateItem(ctx context.Context, userID, itemID string, qty int) (CartLine, error) {
	if qty < MinLineQuantity || qty > MaxLineQuantity {
		return CartLine{}, ErrInvalidQuantity
	}

	owner, err := r.itemOwner(ctx, itemID)
	if err != nil {
		return CartLine{}, err
	}
	if owner != userID {
		return CartLine{}, ErrUnauthorized
	}

	var line CartLine
	err = r.DB.QueryRow(ctx, `
		UPDATE cart_items ci SET quantity = $2
		FROM products p
		WHERE ci.id = $1 AND p.id = ci.product_id
		RETURNING ci.id, p.id, p.name, p.price, p.image_url, ci.quantity, p.stock`,
		itemID, qty).
		Scan(&line.ID, &line.ProductID, &line.ProductName, &line.Price, &line.ImageURL, &line.Quantity, &line.Stock)
	if err != nil {
		return CartLine{}, err
	}
	line.Subtotal = line.Price.Mul(decimal.NewFromInt(int64(line.Quantity)))
	return line, nil
}

func (r *CartRepo) RemoveItem(ctx context.Context, userID, itemID string) error {
	owner, err := r.itemOwner(ctx, itemID)
	if err != nil {
		return err
	}
	if owner != userID {
		return ErrUnauthorized
	}
	_, err = r.DB.Exec(ctx, `DELETE FROM cart_items WHERE id = $1`, itemID)
	return err
}

func (r *CartRepo) itemOwner(ctx context.Context, itemID string) (string, error) {
	var owner string
	err := r.DB.QueryRow(ctx, `
		SELECT c.user_id FROM cart_items ci
		JOIN carts c ON c.id = ci.cart_id
		WHERE ci.id = $1`, itemID).Scan(&owner)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrItemNotFound
	}
	if err != nil {
		return "", fmt.Errorf("cart item owner: %w", err)
	}
	return owner, nil
}

// ensureCart finds the user's cart or lazily creates it. ON CONFLICT keeps two
// concurrent first adds from racing the unique user_id.
func ensureCart(ctx context.Context, tx pgx.Tx, userID string) (string, error) {
	var cartID string
	err := tx.QueryRow(ctx, `SELECT id FROM carts WHERE user_id = $1`, userID).Scan(&cartID)
	if err == nil {
		return cartID, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return "", err
	}

	err = tx.QueryRow(ctx, `
		INSERT INTO carts (id, user_id) VALUES ($1, $2)
		ON CONFLICT (user_id) DO UPDATE SET user_id = EXCLUDED.user_id
		RETURNING id`, uuid.NewString(), userID).Scan(&cartID)
	return cartID, err
}
