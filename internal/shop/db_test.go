package shop

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/dukapay/go-shop-backend/internal/postgres"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// These tests need a real postgres; point TEST_POSTGRES_DSN at one to run
// them. Every test starts from truncated tables.

func testPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	pool, err := postgres.Connect(ctx, dsn)
	require.NoError(t, err)
	require.NoError(t, postgres.Migrate(ctx, pool))
	_, err = pool.Exec(ctx, `TRUNCATE order_items, orders, cart_items, carts, products, categories CASCADE`)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return pool
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type stubGateway struct {
	ref     string
	pushErr error
	code    int
}

func (g *stubGateway) InitiateSTKPush(context.Context, string, int64, string, string) (string, error) {
	return g.ref, g.pushErr
}

func (g *stubGateway) VerifyTransaction(context.Context, string) (int, error) {
	return g.code, nil
}

func seedProduct(t *testing.T, pool *pgxpool.Pool, name, price string, stock int) Product {
	t.Helper()
	p, err := (&CatalogRepo{DB: pool}).CreateProduct(context.Background(), ProductInput{
		Name:  name,
		Price: dec(price),
		Stock: stock,
	})
	require.NoError(t, err)
	return p
}

func fillCart(t *testing.T, pool *pgxpool.Pool, userID string, items map[string]int) string {
	t.Helper()
	carts := &CartRepo{DB: pool}
	for productID, qty := range items {
		_, err := carts.AddItem(context.Background(), userID, productID, qty)
		require.NoError(t, err)
	}
	view, err := carts.GetCart(context.Background(), userID)
	require.NoError(t, err)
	require.NotEmpty(t, view.ID)
	return view.ID
}

func productStock(t *testing.T, pool *pgxpool.Pool, id string) int {
	t.Helper()
	var stock int
	require.NoError(t, pool.QueryRow(context.Background(),
		`SELECT stock FROM products WHERE id = $1`, id).Scan(&stock))
	return stock
}

func newCheckout(pool *pgxpool.Pool, gw PaymentGateway) *CheckoutService {
	return &CheckoutService{DB: pool, Gateway: gw, LockTimeout: 2 * time.Second, Log: testLogger()}
}

func newReconciler(pool *pgxpool.Pool) *Reconciler {
	return &Reconciler{DB: pool, LockTimeout: 2 * time.Second, Log: testLogger()}
}

func TestCheckoutHappyPath(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()
	userID := uuid.NewString()

	p1 := seedProduct(t, pool, "Keyboard", "45.00", 10)
	p2 := seedProduct(t, pool, "Mouse", "15.50", 4)
	cartID := fillCart(t, pool, userID, map[string]int{p1.ID: 2, p2.ID: 1})

	svc := newCheckout(pool, &stubGateway{ref: "ws_CO_1"})
	res, err := svc.Checkout(ctx, userID, cartID, "254712345678")
	require.NoError(t, err)
	assert.True(t, res.TotalAmount.Equal(dec("105.50")), "got %s", res.TotalAmount)
	assert.Equal(t, "ws_CO_1", res.CheckoutRequestID)

	order, err := (&OrderRepo{DB: pool}).GetOrder(ctx, userID, res.OrderID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, order.Status)
	require.NotNil(t, order.CheckoutRequestID)
	assert.Equal(t, "ws_CO_1", *order.CheckoutRequestID)
	assert.Len(t, order.Items, 2)
	assert.Nil(t, order.PaidAt)

	assert.Equal(t, 8, productStock(t, pool, p1.ID))
	assert.Equal(t, 3, productStock(t, pool, p2.ID))

	// the cart row survives, only its items go
	view, err := (&CartRepo{DB: pool}).GetCart(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, cartID, view.ID)
	assert.Empty(t, view.Items)
}

func TestCheckoutInsufficientStockRollsBack(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()
	userID := uuid.NewString()

	p := seedProduct(t, pool, "Monitor", "210.00", 5)
	cartID := fillCart(t, pool, userID, map[string]int{p.ID: 5})

	// stock drops after the items went in, as if someone else bought them
	_, err := (&CatalogRepo{DB: pool}).AdjustStock(ctx, p.ID, -3)
	require.NoError(t, err)

	svc := newCheckout(pool, &stubGateway{ref: "ws_CO_2"})
	_, err = svc.Checkout(ctx, userID, cartID, "254712345678")

	var stockErr *InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	require.Len(t, stockErr.Lines, 1)
	assert.Equal(t, 2, stockErr.Lines[0].Available)
	assert.Equal(t, 5, stockErr.Lines[0].Requested)

	// nothing committed: stock unchanged, cart intact, no order
	assert.Equal(t, 2, productStock(t, pool, p.ID))
	view, err := (&CartRepo{DB: pool}).GetCart(ctx, userID)
	require.NoError(t, err)
	assert.Len(t, view.Items, 1)
	var n int
	require.NoError(t, pool.QueryRow(ctx, `SELECT count(*) FROM orders`).Scan(&n))
	assert.Zero(t, n)
}

func TestCheckoutGatewayFailureLeavesNoTrace(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()
	userID := uuid.NewString()

	p := seedProduct(t, pool, "Webcam", "89.99", 3)
	cartID := fillCart(t, pool, userID, map[string]int{p.ID: 1})

	svc := newCheckout(pool, &stubGateway{pushErr: errors.New("daraja timeout")})
	_, err := svc.Checkout(ctx, userID, cartID, "254712345678")
	assert.ErrorIs(t, err, ErrExternalService)

	assert.Equal(t, 3, productStock(t, pool, p.ID))
	view, err := (&CartRepo{DB: pool}).GetCart(ctx, userID)
	require.NoError(t, err)
	assert.Len(t, view.Items, 1)
}

func TestCheckoutEmptyCart(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()
	userID := uuid.NewString()

	p := seedProduct(t, pool, "Cable", "5.00", 10)
	carts := &CartRepo{DB: pool}
	line, err := carts.AddItem(ctx, userID, p.ID, 1)
	require.NoError(t, err)
	require.NoError(t, carts.RemoveItem(ctx, userID, line.ID))
	view, err := carts.GetCart(ctx, userID)
	require.NoError(t, err)

	svc := newCheckout(pool, &stubGateway{ref: "ws_CO_3"})
	_, err = svc.Checkout(ctx, userID, view.ID, "254712345678")
	assert.ErrorIs(t, err, ErrEmptyCart)
}

func TestCheckoutSomeoneElsesCart(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()

	p := seedProduct(t, pool, "Desk", "320.00", 2)
	cartID := fillCart(t, pool, "owner", map[string]int{p.ID: 1})

	svc := newCheckout(pool, &stubGateway{ref: "ws_CO_4"})
	_, err := svc.Checkout(ctx, "intruder", cartID, "254712345678")
	assert.ErrorIs(t, err, ErrCartNotFound)
}

func TestConcurrentCheckoutsLastUnit(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()

	p := seedProduct(t, pool, "Limited", "99.00", 1)
	cartA := fillCart(t, pool, "userA", map[string]int{p.ID: 1})
	cartB := fillCart(t, pool, "userB", map[string]int{p.ID: 1})

	svc := newCheckout(pool, &stubGateway{ref: "ws_CO_5"})
	var wg sync.WaitGroup
	errs := make([]error, 2)
	wg.Add(2)
	go func() { defer wg.Done(); _, errs[0] = svc.Checkout(ctx, "userA", cartA, "254700000001") }()
	go func() { defer wg.Done(); _, errs[1] = svc.Checkout(ctx, "userB", cartB, "254700000002") }()
	wg.Wait()

	var ok, rejected int
	for _, err := range errs {
		var stockErr *InsufficientStockError
		switch {
		case err == nil:
			ok++
		case errors.As(err, &stockErr), errors.Is(err, ErrBusy):
			rejected++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, rejected)
	assert.Equal(t, 0, productStock(t, pool, p.ID))
}

func checkoutOrder(t *testing.T, pool *pgxpool.Pool, userID, ref string, items map[string]int) CheckoutResult {
	t.Helper()
	cartID := fillCart(t, pool, userID, items)
	res, err := newCheckout(pool, &stubGateway{ref: ref}).Checkout(context.Background(), userID, cartID, "254712345678")
	require.NoError(t, err)
	return res
}

func TestApplyPaymentResultPaid(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()

	p := seedProduct(t, pool, "Chair", "150.00", 5)
	checkoutOrder(t, pool, "u1", "ws_CO_10", map[string]int{p.ID: 2})

	recon := newReconciler(pool)
	res, err := recon.ApplyPaymentResult(ctx, "ws_CO_10", 0)
	require.NoError(t, err)
	assert.True(t, res.Applied)
	assert.Equal(t, StatusPaid, res.Status)
	assert.Empty(t, res.Restored)

	order, err := (&OrderRepo{DB: pool}).GetOrderAdmin(ctx, res.OrderID)
	require.NoError(t, err)
	assert.Equal(t, StatusPaid, order.Status)
	assert.NotNil(t, order.PaidAt)
	assert.Equal(t, 3, productStock(t, pool, p.ID), "paid orders keep their reservation")

	// a late failure result for the settled order is swallowed
	res2, err := recon.ApplyPaymentResult(ctx, "ws_CO_10", 1)
	require.NoError(t, err)
	assert.False(t, res2.Applied)
	assert.Equal(t, StatusPaid, res2.Status)
	assert.Equal(t, 3, productStock(t, pool, p.ID))
}

func TestApplyPaymentResultFailedRestoresStock(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()

	p := seedProduct(t, pool, "Lamp", "25.00", 5)
	checkoutOrder(t, pool, "u1", "ws_CO_11", map[string]int{p.ID: 2})
	require.Equal(t, 3, productStock(t, pool, p.ID))

	recon := newReconciler(pool)
	res, err := recon.ApplyPaymentResult(ctx, "ws_CO_11", 1032)
	require.NoError(t, err)
	assert.True(t, res.Applied)
	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, []RestoredLine{{ProductID: p.ID, Quantity: 2}}, res.Restored)
	assert.Equal(t, 5, productStock(t, pool, p.ID))

	// duplicate delivery must not restore twice
	res2, err := recon.ApplyPaymentResult(ctx, "ws_CO_11", 1032)
	require.NoError(t, err)
	assert.False(t, res2.Applied)
	assert.Equal(t, 5, productStock(t, pool, p.ID))
}

func TestApplyPaymentResultUnknownReference(t *testing.T) {
	pool := testPool(t)
	_, err := newReconciler(pool).ApplyPaymentResult(context.Background(), "ws_CO_nope", 0)
	assert.ErrorIs(t, err, ErrOrderNotFound)
}

func TestCancelOrder(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()

	p := seedProduct(t, pool, "Shelf", "60.00", 4)
	res := checkoutOrder(t, pool, "u1", "ws_CO_12", map[string]int{p.ID: 1})

	recon := newReconciler(pool)
	out, err := recon.CancelOrder(ctx, res.OrderID)
	require.NoError(t, err)
	assert.True(t, out.Applied)
	assert.Equal(t, StatusCancelled, out.Status)
	assert.Equal(t, 4, productStock(t, pool, p.ID))

	// cancelling again is a no-op, not an error
	out2, err := recon.CancelOrder(ctx, res.OrderID)
	require.NoError(t, err)
	assert.False(t, out2.Applied)
	assert.Equal(t, 4, productStock(t, pool, p.ID))
}

func TestRefundOrder(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()

	p := seedProduct(t, pool, "Rug", "80.00", 4)
	res := checkoutOrder(t, pool, "u1", "ws_CO_13", map[string]int{p.ID: 2})

	recon := newReconciler(pool)
	_, err := recon.ApplyPaymentResult(ctx, "ws_CO_13", 0)
	require.NoError(t, err)
	require.Equal(t, 2, productStock(t, pool, p.ID))

	out, err := recon.RefundOrder(ctx, res.OrderID)
	require.NoError(t, err)
	assert.True(t, out.Applied)
	assert.Equal(t, StatusRefunded, out.Status)
	assert.Equal(t, 4, productStock(t, pool, p.ID))

	// a refunded order cannot be cancelled
	_, err = recon.CancelOrder(ctx, res.OrderID)
	assert.ErrorIs(t, err, ErrAlreadyFinalized)
}

func TestRefundPendingOrderRejected(t *testing.T) {
	pool := testPool(t)

	p := seedProduct(t, pool, "Vase", "30.00", 3)
	res := checkoutOrder(t, pool, "u1", "ws_CO_14", map[string]int{p.ID: 1})

	_, err := newReconciler(pool).RefundOrder(context.Background(), res.OrderID)
	assert.ErrorIs(t, err, ErrAlreadyFinalized)
}

func TestCartAddMergesLines(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()
	carts := &CartRepo{DB: pool}

	p := seedProduct(t, pool, "Pen", "2.00", 50)
	first, err := carts.AddItem(ctx, "u1", p.ID, 3)
	require.NoError(t, err)
	second, err := carts.AddItem(ctx, "u1", p.ID, 4)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 7, second.Quantity)
	assert.True(t, second.Subtotal.Equal(dec("14.00")))

	view, err := carts.GetCart(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, view.Items, 1)
	assert.True(t, view.TotalAmount.Equal(dec("14.00")))
}

func TestCartAddBeyondStock(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()
	carts := &CartRepo{DB: pool}

	p := seedProduct(t, pool, "Mug", "8.00", 5)
	_, err := carts.AddItem(ctx, "u1", p.ID, 4)
	require.NoError(t, err)

	_, err = carts.AddItem(ctx, "u1", p.ID, 3)
	var stockErr *InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, 5, stockErr.Lines[0].Available)
	assert.Equal(t, 7, stockErr.Lines[0].Requested)

	// the failed merge rolled back
	view, err := carts.GetCart(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 4, view.Items[0].Quantity)
}

func TestCartQuantityBounds(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()
	carts := &CartRepo{DB: pool}
	p := seedProduct(t, pool, "Clip", "0.50", 500)

	_, err := carts.AddItem(ctx, "u1", p.ID, 0)
	assert.ErrorIs(t, err, ErrInvalidQuantity)
	_, err = carts.AddItem(ctx, "u1", p.ID, 101)
	assert.ErrorIs(t, err, ErrInvalidQuantity)

	// two valid adds whose merge exceeds the cap
	_, err = carts.AddItem(ctx, "u1", p.ID, 60)
	require.NoError(t, err)
	_, err = carts.AddItem(ctx, "u1", p.ID, 60)
	assert.ErrorIs(t, err, ErrInvalidQuantity)
}

func TestCartOwnership(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()
	carts := &CartRepo{DB: pool}

	p := seedProduct(t, pool, "Book", "12.00", 10)
	line, err := carts.AddItem(ctx, "owner", p.ID, 1)
	require.NoError(t, err)

	_, err = carts.UpdateItem(ctx, "intruder", line.ID, 2)
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.ErrorIs(t, carts.RemoveItem(ctx, "intruder", line.ID), ErrUnauthorized)

	_, err = carts.UpdateItem(ctx, "owner", uuid.NewString(), 2)
	assert.ErrorIs(t, err, ErrItemNotFound)
}

func TestAdjustStockNeverNegative(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()
	catalog := &CatalogRepo{DB: pool}

	p := seedProduct(t, pool, "Stand", "40.00", 2)
	_, err := catalog.AdjustStock(ctx, p.ID, -3)
	assert.ErrorIs(t, err, ErrInvalidStock)

	out, err := catalog.AdjustStock(ctx, p.ID, -2)
	require.NoError(t, err)
	assert.Equal(t, 0, out.Stock)
}

func TestCatalogConstraints(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()
	catalog := &CatalogRepo{DB: pool}

	_, err := catalog.CreateCategory(ctx, "Electronics", "gadgets")
	require.NoError(t, err)
	_, err = catalog.CreateCategory(ctx, "Electronics", "again")
	assert.ErrorIs(t, err, ErrCategoryExists)

	_, err = catalog.CreateProduct(ctx, ProductInput{Name: "Free", Price: decimal.Zero, Stock: 1})
	assert.ErrorIs(t, err, ErrInvalidPrice)

	p := seedProduct(t, pool, "Ordered", "10.00", 5)
	checkoutOrder(t, pool, "u1", "ws_CO_20", map[string]int{p.ID: 1})
	assert.ErrorIs(t, catalog.DeleteProduct(ctx, p.ID), ErrProductInUse)
	assert.ErrorIs(t, catalog.DeleteProduct(ctx, uuid.NewString()), ErrProductNotFound)
}
