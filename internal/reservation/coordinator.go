// Package reservation converts cart lines into committed stock reservations
// and back. Multi-product operations are two-phase: validate every line under
// row locks, then apply every line, or apply nothing.
package reservation

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/orderdesk/b2b-portal/internal/ledger"
	"github.com/orderdesk/b2b-portal/internal/orders"
)

var ErrEmptyCart = errors.New("cart is empty")

// UnreservableError reports every cart line that blocked the reservation.
type UnreservableError struct {
	Violations []orders.ReservationFailedDetail
}

func (e *UnreservableError) Error() string {
	return fmt.Sprintf("cart not reservable: %d line(s) failed validation", len(e.Violations))
}

// LockedLine is a cart line with its product row locked and snapshotted.
type LockedLine struct {
	ProductID      string
	SKU            string
	Name           string
	Quantity       int
	Note           string
	Active         bool
	Available      int
	UnitPriceCents int64
	VATRateBP      int
}

type Coordinator struct {
	DB  *pgxpool.Pool
	Log *zap.Logger
}

// ReserveCartItems commits a reservation for every line of the user's cart,
// or for none of them. Cart lines are retained; they are cleared only on the
// final sale.
func (c *Coordinator) ReserveCartItems(ctx context.Context, userID string) error {
	tx, err := c.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin reserve: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	lines, err := LockCartLines(ctx, tx, userID)
	if err != nil {
		return err
	}
	if v := CheckLines(lines); len(v) > 0 {
		return &UnreservableError{Violations: v}
	}
	for _, ln := range lines {
		if err := ledger.ReserveTx(ctx, tx, ln.ProductID, ln.Quantity); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

// ReleaseCartReservations returns reserved stock for every cart line,
// best-effort: a failure on one product is logged and the rest proceed, so a
// single bad line cannot leave unrelated stock stuck reserved.
func (c *Coordinator) ReleaseCartReservations(ctx context.Context, userID string) error {
	lines, err := c.cartLines(ctx, userID)
	if err != nil {
		return err
	}
	for _, ln := range lines {
		if err := ledger.ReleaseTx(ctx, c.DB, ln.ProductID, ln.Quantity); err != nil {
			c.Log.Warn("release failed, continuing",
				zap.String("user_id", userID),
				zap.String("product_id", ln.ProductID),
				zap.Int("quantity", ln.Quantity),
				zap.Error(err))
		}
	}
	return nil
}

// FinalizeCartSale permanently consumes the reserved stock for every cart
// line and clears the cart. This path assumes ReserveCartItems already
// succeeded; any per-line failure aborts the whole sale.
func (c *Coordinator) FinalizeCartSale(ctx context.Context, userID string) error {
	tx, err := c.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin finalize: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	lines, err := LockCartLines(ctx, tx, userID)
	if err != nil {
		return err
	}
	for _, ln := range lines {
		if err := ledger.SellTx(ctx, tx, ln.ProductID, ln.Quantity); err != nil {
			return fmt.Errorf("finalize sale for user %s: %w", userID, err)
		}
	}
	if _, err := tx.Exec(ctx, `DELETE FROM cart_lines WHERE user_id=$1`, userID); err != nil {
		return fmt.Errorf("clear cart: %w", err)
	}
	return tx.Commit(ctx)
}

// ValidateCartStock is the read-only pre-checkout pass. It reports every
// violating line instead of stopping at the first.
func (c *Coordinator) ValidateCartStock(ctx context.Context, userID string) ([]orders.ReservationFailedDetail, error) {
	lines, err := c.cartLines(ctx, userID)
	if err != nil {
		return nil, err
	}
	return CheckLines(lines), nil
}

// LockCartLines loads the user's cart joined with products, in ascending
// product-id order, locking each product row. The fixed lock order prevents
// deadlock between users reserving overlapping product sets.
func LockCartLines(ctx context.Context, tx pgx.Tx, userID string) ([]LockedLine, error) {
	return queryLines(ctx, tx, userID, true)
}

func (c *Coordinator) cartLines(ctx context.Context, userID string) ([]LockedLine, error) {
	return queryLines(ctx, c.DB, userID, false)
}

type rowQuerier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func queryLines(ctx context.Context, q rowQuerier, userID string, lock bool) ([]LockedLine, error) {
	sql := `
		SELECT c.product_id, p.sku, p.name, c.quantity, c.note,
		       p.active, p.quantity_available, p.unit_price_cents, p.vat_rate_bp
		FROM cart_lines c
		JOIN products p ON p.id = c.product_id
		WHERE c.user_id = $1
		ORDER BY c.product_id`
	if lock {
		sql += ` FOR UPDATE OF p`
	}
	rows, err := q.Query(ctx, sql, userID)
	if err != nil {
		return nil, fmt.Errorf("load cart lines: %w", err)
	}
	defer rows.Close()

	var out []LockedLine
	for rows.Next() {
		var ln LockedLine
		if err := rows.Scan(&ln.ProductID, &ln.SKU, &ln.Name, &ln.Quantity, &ln.Note,
			&ln.Active, &ln.Available, &ln.UnitPriceCents, &ln.VATRateBP); err != nil {
			return nil, err
		}
		out = append(out, ln)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, ErrEmptyCart
	}
	return out, nil
}

// CheckLines is the validation pass: every line must reference an active
// product with enough available stock.
func CheckLines(lines []LockedLine) []orders.ReservationFailedDetail {
	var out []orders.ReservationFailedDetail
	for _, ln := range lines {
		if !ln.Active {
			out = append(out, orders.ReservationFailedDetail{
				ProductID: ln.ProductID, SKU: ln.SKU,
				Requested: ln.Quantity, Available: ln.Available, Inactive: true,
			})
			continue
		}
		if ln.Available < ln.Quantity {
			out = append(out, orders.ReservationFailedDetail{
				ProductID: ln.ProductID, SKU: ln.SKU,
				Requested: ln.Quantity, Available: ln.Available,
			})
		}
	}
	return out
}
