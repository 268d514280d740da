package reservation

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

func testPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		t.Skip("POSTGRES_DSN not set")
	}
	pool, err := pgxpool.New(context.Background(), dsn)
	if err != nil {
		t.Skipf("postgres not available: %v", err)
	}
	if err := pool.Ping(context.Background()); err != nil {
		t.Skipf("postgres not available: %v", err)
	}
	t.Cleanup(pool.Close)
	return pool
}

func seedProduct(t *testing.T, pool *pgxpool.Pool, available, reserved int, active bool) string {
	t.Helper()
	id := uuid.NewString()
	_, err := pool.Exec(context.Background(), `
		INSERT INTO products (id, sku, name, active, quantity_available, quantity_reserved, unit_price_cents, vat_rate_bp)
		VALUES ($1, $2, $3, $4, $5, $6, 2500, 1900)`,
		id, "TEST-"+id[:8], "test product", active, available, reserved)
	if err != nil {
		t.Fatalf("seed product: %v", err)
	}
	t.Cleanup(func() {
		_, _ = pool.Exec(context.Background(), `DELETE FROM cart_lines WHERE product_id=$1`, id)
		_, _ = pool.Exec(context.Background(), `DELETE FROM products WHERE id=$1`, id)
	})
	return id
}

func addLine(t *testing.T, pool *pgxpool.Pool, userID, productID string, qty int) {
	t.Helper()
	_, err := pool.Exec(context.Background(), `
		INSERT INTO cart_lines (user_id, product_id, quantity) VALUES ($1, $2, $3)`,
		userID, productID, qty)
	if err != nil {
		t.Fatalf("add cart line: %v", err)
	}
}

func productCounters(t *testing.T, pool *pgxpool.Pool, id string) (int, int) {
	t.Helper()
	var a, r int
	err := pool.QueryRow(context.Background(),
		`SELECT quantity_available, quantity_reserved FROM products WHERE id=$1`, id).Scan(&a, &r)
	if err != nil {
		t.Fatalf("read counters: %v", err)
	}
	return a, r
}

func cartCount(t *testing.T, pool *pgxpool.Pool, userID string) int {
	t.Helper()
	var n int
	if err := pool.QueryRow(context.Background(),
		`SELECT COUNT(*) FROM cart_lines WHERE user_id=$1`, userID).Scan(&n); err != nil {
		t.Fatalf("count cart lines: %v", err)
	}
	return n
}

func testCoordinator(pool *pgxpool.Pool) *Coordinator {
	return &Coordinator{DB: pool, Log: zap.NewNop()}
}

func TestReserveCartItemsSuccess(t *testing.T) {
	pool := testPool(t)
	c := testCoordinator(pool)
	ctx := context.Background()
	user := "user-" + uuid.NewString()
	a := seedProduct(t, pool, 10, 0, true)
	b := seedProduct(t, pool, 5, 0, true)
	addLine(t, pool, user, a, 4)
	addLine(t, pool, user, b, 2)

	if err := c.ReserveCartItems(ctx, user); err != nil {
		t.Fatalf("reserve cart: %v", err)
	}
	if av, rv := productCounters(t, pool, a); av != 6 || rv != 4 {
		t.Errorf("product a counters %d/%d, want 6/4", av, rv)
	}
	if av, rv := productCounters(t, pool, b); av != 3 || rv != 2 {
		t.Errorf("product b counters %d/%d, want 3/2", av, rv)
	}
	// cart retained until final sale
	if n := cartCount(t, pool, user); n != 2 {
		t.Errorf("cart lines = %d, want 2 after reservation", n)
	}
}

// A single unsatisfiable line must leave every product untouched.
func TestReserveCartItemsAtomicAcrossLines(t *testing.T) {
	pool := testPool(t)
	c := testCoordinator(pool)
	user := "user-" + uuid.NewString()
	a := seedProduct(t, pool, 10, 0, true)
	b := seedProduct(t, pool, 2, 0, true)
	addLine(t, pool, user, a, 5)
	addLine(t, pool, user, b, 9999)

	err := c.ReserveCartItems(context.Background(), user)
	var unres *UnreservableError
	if !errors.As(err, &unres) {
		t.Fatalf("want UnreservableError, got %v", err)
	}
	if len(unres.Violations) != 1 {
		t.Fatalf("violations = %d, want 1", len(unres.Violations))
	}
	if unres.Violations[0].Requested != 9999 || unres.Violations[0].Available != 2 {
		t.Errorf("violation detail = %+v", unres.Violations[0])
	}
	if av, rv := productCounters(t, pool, a); av != 10 || rv != 0 {
		t.Errorf("product a partially reserved: %d/%d, want 10/0", av, rv)
	}
	if av, rv := productCounters(t, pool, b); av != 2 || rv != 0 {
		t.Errorf("product b mutated: %d/%d, want 2/0", av, rv)
	}
}

func TestReserveEmptyCart(t *testing.T) {
	pool := testPool(t)
	c := testCoordinator(pool)

	err := c.ReserveCartItems(context.Background(), "user-"+uuid.NewString())
	if !errors.Is(err, ErrEmptyCart) {
		t.Fatalf("want ErrEmptyCart, got %v", err)
	}
}

// One bad line must not block releasing the others.
func TestReleaseCartReservationsBestEffort(t *testing.T) {
	pool := testPool(t)
	c := testCoordinator(pool)
	ctx := context.Background()
	user := "user-" + uuid.NewString()
	reserved := seedProduct(t, pool, 6, 4, true)
	never := seedProduct(t, pool, 6, 0, true) // nothing reserved, release will fail
	addLine(t, pool, user, never, 2)
	addLine(t, pool, user, reserved, 4)

	if err := c.ReleaseCartReservations(ctx, user); err != nil {
		t.Fatalf("release: %v", err)
	}
	if av, rv := productCounters(t, pool, reserved); av != 10 || rv != 0 {
		t.Errorf("reserved product not released: %d/%d, want 10/0", av, rv)
	}
	if av, rv := productCounters(t, pool, never); av != 6 || rv != 0 {
		t.Errorf("unreserved product mutated: %d/%d, want 6/0", av, rv)
	}
}

func TestFinalizeCartSaleConsumesAndClears(t *testing.T) {
	pool := testPool(t)
	c := testCoordinator(pool)
	ctx := context.Background()
	user := "user-" + uuid.NewString()
	p := seedProduct(t, pool, 10, 0, true)
	addLine(t, pool, user, p, 3)

	if err := c.ReserveCartItems(ctx, user); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if err := c.FinalizeCartSale(ctx, user); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if av, rv := productCounters(t, pool, p); av != 7 || rv != 0 {
		t.Errorf("counters %d/%d, want 7/0 (stock left permanently)", av, rv)
	}
	if n := cartCount(t, pool, user); n != 0 {
		t.Errorf("cart lines = %d, want 0 after finalize", n)
	}
}

func TestFinalizeWithoutReservationFails(t *testing.T) {
	pool := testPool(t)
	c := testCoordinator(pool)
	user := "user-" + uuid.NewString()
	p := seedProduct(t, pool, 10, 0, true)
	addLine(t, pool, user, p, 3)

	if err := c.FinalizeCartSale(context.Background(), user); err == nil {
		t.Fatal("finalize without reservation should fail")
	}
	if n := cartCount(t, pool, user); n != 1 {
		t.Errorf("cart cleared despite failed finalize")
	}
}

func TestValidateCartStock(t *testing.T) {
	pool := testPool(t)
	c := testCoordinator(pool)
	user := "user-" + uuid.NewString()
	ok := seedProduct(t, pool, 10, 0, true)
	short := seedProduct(t, pool, 1, 0, true)
	inactive := seedProduct(t, pool, 10, 0, false)
	addLine(t, pool, user, ok, 2)
	addLine(t, pool, user, short, 5)
	addLine(t, pool, user, inactive, 1)

	violations, err := c.ValidateCartStock(context.Background(), user)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if len(violations) != 2 {
		t.Fatalf("violations = %d, want 2", len(violations))
	}
	var sawInactive, sawShort bool
	for _, v := range violations {
		if v.Inactive {
			sawInactive = true
		} else if v.Requested == 5 && v.Available == 1 {
			sawShort = true
		}
	}
	if !sawInactive || !sawShort {
		t.Errorf("unexpected violation set: %+v", violations)
	}
}
