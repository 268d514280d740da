// Package ledger owns the per-product (available, reserved) counters.
//
// Every mutation is a single conditional UPDATE so the precondition check and
// the write are one atomic statement; there is no read-then-write window. A
// failed precondition leaves the row untouched.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

var (
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrInvalidRelease    = errors.New("release exceeds reserved quantity")
	ErrInvalidSale       = errors.New("sale exceeds reserved quantity")
	ErrInvalidQuantity   = errors.New("quantity must be positive")
	ErrProductNotFound   = errors.New("product not found")
	ErrProductInactive   = errors.New("product inactive")

	// ErrInconsistent marks a record whose counters violate the ledger
	// invariant. Never clamped; the record needs manual reconciliation.
	ErrInconsistent = errors.New("ledger counters inconsistent")
)

// Querier is satisfied by *pgxpool.Pool and pgx.Tx, so the per-product ops can
// run standalone or inside a caller-owned multi-product transaction.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Ledger struct {
	DB  *pgxpool.Pool
	Log *zap.Logger
}

const maxRetries = 3

// Reserve moves qty from available to reserved. Fails atomically with
// ErrInsufficientStock when available < qty.
func (l *Ledger) Reserve(ctx context.Context, productID string, qty int) error {
	return l.withRetry(ctx, "reserve", productID, func() error {
		return ReserveTx(ctx, l.DB, productID, qty)
	})
}

// Release returns qty from reserved to available.
func (l *Ledger) Release(ctx context.Context, productID string, qty int) error {
	return l.withRetry(ctx, "release", productID, func() error {
		return ReleaseTx(ctx, l.DB, productID, qty)
	})
}

// Sell consumes qty from reserved permanently; available is untouched.
func (l *Ledger) Sell(ctx context.Context, productID string, qty int) error {
	return l.withRetry(ctx, "sell", productID, func() error {
		return SellTx(ctx, l.DB, productID, qty)
	})
}

// Get reads the counters and verifies the non-negativity invariant. A negative
// counter is reported as ErrInconsistent, never silently corrected.
func (l *Ledger) Get(ctx context.Context, productID string) (available, reserved int, err error) {
	err = l.DB.QueryRow(ctx,
		`SELECT quantity_available, quantity_reserved FROM products WHERE id=$1`,
		productID).Scan(&available, &reserved)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, 0, ErrProductNotFound
	}
	if err != nil {
		return 0, 0, fmt.Errorf("ledger get %s: %w", productID, err)
	}
	if available < 0 || reserved < 0 {
		return available, reserved, fmt.Errorf("%w: product=%s available=%d reserved=%d",
			ErrInconsistent, productID, available, reserved)
	}
	return available, reserved, nil
}

// ReserveTx is the tx-scoped reserve used by multi-product reservations.
func ReserveTx(ctx context.Context, q Querier, productID string, qty int) error {
	if qty <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidQuantity, qty)
	}
	ct, err := q.Exec(ctx, `
		UPDATE products
		SET quantity_available = quantity_available - $2,
		    quantity_reserved  = quantity_reserved  + $2,
		    updated_at = now()
		WHERE id=$1 AND active AND quantity_available >= $2`, productID, qty)
	if err != nil {
		return fmt.Errorf("reserve %s: %w", productID, err)
	}
	if ct.RowsAffected() == 0 {
		return classify(ctx, q, productID, qty, ErrInsufficientStock)
	}
	return nil
}

func ReleaseTx(ctx context.Context, q Querier, productID string, qty int) error {
	if qty <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidQuantity, qty)
	}
	ct, err := q.Exec(ctx, `
		UPDATE products
		SET quantity_reserved  = quantity_reserved  - $2,
		    quantity_available = quantity_available + $2,
		    updated_at = now()
		WHERE id=$1 AND quantity_reserved >= $2`, productID, qty)
	if err != nil {
		return fmt.Errorf("release %s: %w", productID, err)
	}
	if ct.RowsAffected() == 0 {
		return classify(ctx, q, productID, qty, ErrInvalidRelease)
	}
	return nil
}

func SellTx(ctx context.Context, q Querier, productID string, qty int) error {
	if qty <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidQuantity, qty)
	}
	ct, err := q.Exec(ctx, `
		UPDATE products
		SET quantity_reserved = quantity_reserved - $2,
		    updated_at = now()
		WHERE id=$1 AND quantity_reserved >= $2`, productID, qty)
	if err != nil {
		return fmt.Errorf("sell %s: %w", productID, err)
	}
	if ct.RowsAffected() == 0 {
		return classify(ctx, q, productID, qty, ErrInvalidSale)
	}
	return nil
}

// classify turns a zero-row conditional update into the right business error.
func classify(ctx context.Context, q Querier, productID string, qty int, precondition error) error {
	var active bool
	var available, reserved int
	err := q.QueryRow(ctx,
		`SELECT active, quantity_available, quantity_reserved FROM products WHERE id=$1`,
		productID).Scan(&active, &available, &reserved)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrProductNotFound, productID)
	}
	if err != nil {
		return fmt.Errorf("classify %s: %w", productID, err)
	}
	if errors.Is(precondition, ErrInsufficientStock) && !active {
		return fmt.Errorf("%w: %s", ErrProductInactive, productID)
	}
	return fmt.Errorf("%w: product=%s requested=%d available=%d reserved=%d",
		precondition, productID, qty, available, reserved)
}

// withRetry retries transient serialization/deadlock conflicts; business
// errors surface immediately.
func (l *Ledger) withRetry(ctx context.Context, op, productID string, fn func() error) error {
	var err error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		err = fn()
		if err == nil || !Retryable(err) {
			return err
		}
		l.Log.Warn("ledger op conflict, retrying",
			zap.String("op", op), zap.String("product_id", productID),
			zap.Int("attempt", attempt), zap.Error(err))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * 25 * time.Millisecond):
		}
	}
	return fmt.Errorf("ledger %s %s: retries exhausted: %w", op, productID, err)
}

// Retryable reports whether err is a transient conflict worth retrying
// (serialization failure or deadlock).
func Retryable(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "40001" || pgErr.Code == "40P01"
}
