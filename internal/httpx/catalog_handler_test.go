package httpx

import (
	"context"
	"net/http"
	"testing"

	"github.com/dukapay/go-shop-backend/internal/shop"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubCatalog struct {
	products  []shop.Product
	product   shop.Product
	category  shop.Category
	err       error
	gotFilter shop.ProductFilter
	gotInput  shop.ProductInput
	gotDelta  int
}

func (s *stubCatalog) ListProducts(_ context.Context, f shop.ProductFilter) ([]shop.Product, error) {
	s.gotFilter = f
	return s.products, s.err
}

func (s *stubCatalog) GetProduct(context.Context, string) (shop.Product, error) {
	return s.product, s.err
}

func (s *stubCatalog) CreateProduct(_ context.Context, in shop.ProductInput) (shop.Product, error) {
	s.gotInput = in
	return s.product, s.err
}

func (s *stubCatalog) UpdateProduct(context.Context, string, shop.ProductUpdate) (shop.Product, error) {
	return s.product, s.err
}

func (s *stubCatalog) DeleteProduct(context.Context, string) error { return s.err }

func (s *stubCatalog) AdjustStock(_ context.Context, _ string, delta int) (shop.Product, error) {
	s.gotDelta = delta
	return s.product, s.err
}

func (s *stubCatalog) ListCategories(context.Context) ([]shop.Category, error) {
	return nil, s.err
}

func (s *stubCatalog) CreateCategory(context.Context, string, string) (shop.Category, error) {
	return s.category, s.err
}

func (s *stubCatalog) UpdateCategory(context.Context, string, string, string) (shop.Category, error) {
	return s.category, s.err
}

func (s *stubCatalog) DeleteCategory(context.Context, string) error { return s.err }

func catalogRouter(c *stubCatalog) http.Handler {
	r := NewRouter()
	(&CatalogHandler{Catalog: c}).Register(r)
	return r
}

func TestListProductsPublic(t *testing.T) {
	c := &stubCatalog{products: []shop.Product{
		{ID: "p1", Name: "Keyboard", Price: decimal.RequireFromString("45.00"), Stock: 10},
	}}
	r := catalogRouter(c)

	// no identity required on the public catalog
	w := doJSON(t, r, http.MethodGet, "/products?category_id=cat1", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "cat1", c.gotFilter.CategoryID)
	assert.Nil(t, c.gotFilter.LowStock)
	assert.Contains(t, w.Body.String(), `"Keyboard"`)
}

func TestListProductsEmptyIsArray(t *testing.T) {
	w := doJSON(t, catalogRouter(&stubCatalog{}), http.MethodGet, "/products", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())
}

func TestGetProductNotFound(t *testing.T) {
	r := catalogRouter(&stubCatalog{err: shop.ErrProductNotFound})
	w := doJSON(t, r, http.MethodGet, "/products/nope", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAdminLowStockFilter(t *testing.T) {
	c := &stubCatalog{}
	r := catalogRouter(c)

	w := doJSON(t, r, http.MethodGet, "/admin/products?low_stock=5", nil, asAdmin("a1"))
	require.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, c.gotFilter.LowStock)
	assert.Equal(t, 5, *c.gotFilter.LowStock)

	w = doJSON(t, r, http.MethodGet, "/admin/products?low_stock=lots", nil, asAdmin("a1"))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreateProduct(t *testing.T) {
	c := &stubCatalog{product: shop.Product{ID: "p1", Name: "Keyboard"}}
	r := catalogRouter(c)

	w := doJSON(t, r, http.MethodPost, "/admin/products",
		map[string]any{"name": "Keyboard", "price": "45.00", "stock": 10}, asAdmin("a1"))
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "Keyboard", c.gotInput.Name)
	assert.True(t, c.gotInput.Price.Equal(decimal.RequireFromString("45.00")))

	w = doJSON(t, r, http.MethodPost, "/admin/products",
		map[string]any{"price": "45.00"}, asAdmin("a1"))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, r, http.MethodPost, "/admin/products",
		map[string]any{"name": "Keyboard"}, asUser("u1"))
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = doJSON(t, r, http.MethodPost, "/admin/products",
		map[string]any{"name": "Keyboard"}, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestCreateProductInvalidPrice(t *testing.T) {
	r := catalogRouter(&stubCatalog{err: shop.ErrInvalidPrice})
	w := doJSON(t, r, http.MethodPost, "/admin/products",
		map[string]any{"name": "Free", "price": "0"}, asAdmin("a1"))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAdjustStock(t *testing.T) {
	c := &stubCatalog{product: shop.Product{ID: "p1", Stock: 7}}
	r := catalogRouter(c)

	w := doJSON(t, r, http.MethodPost, "/admin/products/p1/stock",
		map[string]any{"delta": -3}, asAdmin("a1"))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, -3, c.gotDelta)

	under := catalogRouter(&stubCatalog{err: shop.ErrInvalidStock})
	w = doJSON(t, under, http.MethodPost, "/admin/products/p1/stock",
		map[string]any{"delta": -100}, asAdmin("a1"))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDeleteProductInUse(t *testing.T) {
	r := catalogRouter(&stubCatalog{err: shop.ErrProductInUse})
	w := doJSON(t, r, http.MethodDelete, "/admin/products/p1", nil, asAdmin("a1"))
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestCategoryEndpoints(t *testing.T) {
	c := &stubCatalog{category: shop.Category{ID: "cat1", Name: "Electronics"}}
	r := catalogRouter(c)

	w := doJSON(t, r, http.MethodPost, "/admin/categories",
		map[string]any{"name": "Electronics"}, asAdmin("a1"))
	assert.Equal(t, http.StatusCreated, w.Code)

	w = doJSON(t, r, http.MethodPost, "/admin/categories",
		map[string]any{"description": "no name"}, asAdmin("a1"))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	dup := catalogRouter(&stubCatalog{err: shop.ErrCategoryExists})
	w = doJSON(t, dup, http.MethodPost, "/admin/categories",
		map[string]any{"name": "Electronics"}, asAdmin("a1"))
	assert.Equal(t, http.StatusConflict, w.Code)

	w = doJSON(t, r, http.MethodGet, "/categories", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, r, http.MethodDelete, "/admin/categories/cat1", nil, asAdmin("a1"))
	assert.Equal(t, http.StatusNoContent, w.Code)
}
