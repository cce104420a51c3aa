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

// CatalogRepo handles products and categories. Stock here is only ever
// touched by AdjustStock, which takes the same row lock checkout does.
type CatalogRepo struct {
	DB *pgxpool.Pool
}

type ProductInput struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price"`
	Stock       int             `json:"stock"`
	ImageURL    string          `json:"image_url"`
	CategoryID  *string         `json:"category_id"`
}

// ProductUpdate is a partial update; nil fields are left alone.
type ProductUpdate struct {
	Name        *string          `json:"name"`
	Description *string          `json:"description"`
	Price       *decimal.Decimal `json:"price"`
	Stock       *int             `json:"stock"`
	ImageURL    *string          `json:"image_url"`
	CategoryID  *string          `json:"category_id"`
}

type ProductFilter struct {
	CategoryID string
	LowStock   *int // products with stock <= LowStock
}

const productCols = `id, name, description, price, stock, image_url, category_id, created_at, updated_at`

func (r *CatalogRepo) ListProducts(ctx context.Context, f ProductFilter) ([]Product, error) {
	q := `SELECT ` + productCols + ` FROM products`
	var (
		conds []string
		args  []any
	)
	if f.CategoryID != "" {
		args = append(args, f.CategoryID)
		conds = append(conds, fmt.Sprintf("category_id = $%d", len(args)))
	}
	if f.LowStock != nil {
		args = append(args, *f.LowStock)
		conds = append(conds, fmt.Sprintf("stock <= $%d", len(args)))
	}
	for i, c := range conds {
		if i == 0 {
			q += " WHERE " + c
		} else {
			q += " AND " + c
		}
	}
	q += " ORDER BY name"

	rows, err := r.DB.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *CatalogRepo) GetProduct(ctx context.Context, id string) (Product, error) {
	row := r.DB.QueryRow(ctx, `SELECT `+productCols+` FROM products WHERE id = $1`, id)
	p, err := scanProduct(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Product{}, ErrProductNotFound
	}
	return p, err
}

func (r *CatalogRepo) CreateProduct(ctx context.Context, in ProductInput) (Product, error) {
	if !in.Price.IsPositive() {
		return Product{}, ErrInvalidPrice
	}
	if in.Stock < 0 {
		return Product{}, ErrInvalidStock
	}
	id := uuid.NewString()
	_, err := r.DB.Exec(ctx, `
		INSERT INTO products (id, name, description, price, stock, image_url, category_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		id, in.Name, in.Description, in.Price, in.Stock, in.ImageURL, in.CategoryID)
	if err != nil {
		if isPgCode(err, pgFKViolation) {
			return Product{}, ErrCategoryNotFound
		}
		return Product{}, err
	}
	return r.GetProduct(ctx, id)
}

func (r *CatalogRepo) UpdateProduct(ctx context.Context, id string, up ProductUpdate) (Product, error) {
	if up.Price != nil && !up.Price.IsPositive() {
		return Product{}, ErrInvalidPrice
	}
	if up.Stock != nil && *up.Stock < 0 {
		return Product{}, ErrInvalidStock
	}
	ct, err := r.DB.Exec(ctx, `
		UPDATE products SET
			name        = COALESCE($2, name),
			description = COALESCE($3, description),
			price       = COALESCE($4, price),
			stock       = COALESCE($5, stock),
			image_url   = COALESCE($6, image_url),
			category_id = COALESCE($7, category_id),
			updated_at  = now()
		WHERE id = $1`,
		id, up.Name, up.Description, up.Price, up.Stock, up.ImageURL, up.CategoryID)
	if err != nil {
		if isPgCode(err, pgFKViolation) {
			return Product{}, ErrCategoryNotFound
		}
		return Product{}, err
	}
	if ct.RowsAffected() == 0 {
		return Product{}, ErrProductNotFound
	}
	return r.GetProduct(ctx, id)
}

// DeleteProduct refuses to remove a product still referenced by order items
// (restrict FK) or sitting in someone's cart.
func (r *CatalogRepo) DeleteProduct(ctx context.Context, id string) error {
	ct, err := r.DB.Exec(ctx, `DELETE FROM products WHERE id = $1`, id)
	if err != nil {
		if isPgCode(err, pgFKViolation) {
			return ErrProductInUse
		}
		return err
	}
	if ct.RowsAffected() == 0 {
		return ErrProductNotFound
	}
	return nil
}

// AdjustStock applies a signed delta under the product row lock. Rejected when
// it would drive stock negative.
func (r *CatalogRepo) AdjustStock(ctx context.Context, id string, delta int) (Product, error) {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Product{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var stock int
	err = tx.QueryRow(ctx, `SELECT stock FROM products WHERE id = $1 FOR UPDATE`, id).Scan(&stock)
	if errors.Is(err, pgx.ErrNoRows) {
		return Product{}, ErrProductNotFound
	}
	if err != nil {
		return Product{}, mapBusy(err)
	}
	if stock+delta < 0 {
		return Product{}, ErrInvalidStock
	}
	if _, err := tx.Exec(ctx, `
		UPDATE products SET stock = stock + $2, updated_at = now() WHERE id = $1`, id, delta); err != nil {
		return Product{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Product{}, mapBusy(err)
	}
	return r.GetProduct(ctx, id)
}

// ---- categories ----

func (r *CatalogRepo) ListCategories(ctx context.Context) ([]Category, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT id, name, description, created_at FROM categories ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Category
	for rows.Next() {
		var c Category
		if err := rows.Scan(&c.ID, &c.Name, &c.Description, &c.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *CatalogRepo) CreateCategory(ctx context.Context, name, description string) (Category, error) {
	var c Category
	err := r.DB.QueryRow(ctx, `
		INSERT INTO categories (id, name, description) VALUES ($1, $2, $3)
		RETURNING id, name, description, created_at`,
		uuid.NewString(), name, description).
		Scan(&c.ID, &c.Name, &c.Description, &c.CreatedAt)
	if isPgCode(err, pgUniqueViolation) {
		return Category{}, ErrCategoryExists
	}
	return c, err
}

func (r *CatalogRepo) UpdateCategory(ctx context.Context, id, name, description string) (Category, error) {
	var c Category
	err := r.DB.QueryRow(ctx, `
		UPDATE categories SET
			name        = COALESCE(NULLIF($2, ''), name),
			description = COALESCE(NULLIF($3, ''), description)
		WHERE id = $1
		RETURNING id, name, description, created_at`,
		id, name, description).
		Scan(&c.ID, &c.Name, &c.Description, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Category{}, ErrCategoryNotFound
	}
	if isPgCode(err, pgUniqueViolation) {
		return Category{}, ErrCategoryExists
	}
	return c, err
}

// DeleteCategory detaches products (FK is ON DELETE SET NULL), never cascades.
func (r *CatalogRepo) DeleteCategory(ctx context.Context, id string) error {
	ct, err := r.DB.Exec(ctx, `DELETE FROM categories WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return ErrCategoryNotFound
	}
	return nil
}

func scanProduct(row pgx.Row) (Product, error) {
	var p Product
	err := row.Scan(&p.ID, &p.Name, &p.Description, &p.Price, &p.Stock,
		&p.ImageURL, &p.CategoryID, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}
