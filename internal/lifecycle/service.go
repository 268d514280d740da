// Package lifecycle drives an order from cart submission through
// confirm/cancel/ship. Transition legality lives in orders.CanTransition;
// this package adds the stock side effects and the observable trail
// (audit entries, status events, cached status).
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/orderdesk/b2b-portal/internal/audit"
	"github.com/orderdesk/b2b-portal/internal/ledger"
	"github.com/orderdesk/b2b-portal/internal/notify"
	"github.com/orderdesk/b2b-portal/internal/orders"
	"github.com/orderdesk/b2b-portal/internal/redisx"
	"github.com/orderdesk/b2b-portal/internal/reservation"
)

var ErrReasonRequired = errors.New("cancellation reason required")

// IllegalTransitionError carries a human-readable explanation of why the
// requested transition is not allowed from the order's current status.
type IllegalTransitionError struct {
	OrderID string
	From    orders.Status
	To      orders.Status
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("order %s: cannot move from %s to %s", e.OrderID, e.From, e.To)
}

type Service struct {
	DB     *pgxpool.Pool
	Audit  audit.Recorder
	Notify *notify.Broadcaster
	Redis  *redis.Client
	Log    *zap.Logger
}

// Submit turns the user's cart into a PENDING order in one transaction:
// validate every line under row locks, reserve every line, snapshot items and
// prices, insert the order, clear the cart. Stock stays reserved until the
// order ships (sell) or is cancelled (release).
func (s *Service) Submit(ctx context.Context, userID, notes string) (*orders.Order, error) {
	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("begin submit: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	lines, err := reservation.LockCartLines(ctx, tx, userID)
	if err != nil {
		return nil, err
	}
	if v := reservation.CheckLines(lines); len(v) > 0 {
		s.Audit.Record(ctx, audit.Entry{
			Actor: userID, Action: "order.submit.rejected", EntityType: "cart",
			EntityID: userID, Description: fmt.Sprintf("%d line(s) failed stock validation", len(v)),
		})
		if s.Notify != nil {
			s.Notify.ReservationFailed(userID, v)
		}
		return nil, &reservation.UnreservableError{Violations: v}
	}
	for _, ln := range lines {
		if err := ledger.ReserveTx(ctx, tx, ln.ProductID, ln.Quantity); err != nil {
			return nil, err
		}
	}

	now := time.Now().UTC()
	o := &orders.Order{
		ID:          uuid.NewString(),
		UserID:      userID,
		Status:      orders.StatusPending,
		Notes:       notes,
		SubmittedAt: now,
	}
	for _, ln := range lines {
		o.Items = append(o.Items, orders.OrderItem{
			OrderID:        o.ID,
			ProductID:      ln.ProductID,
			SKU:            ln.SKU,
			Name:           ln.Name,
			Quantity:       ln.Quantity,
			UnitPriceCents: ln.UnitPriceCents,
			VATRateBP:      ln.VATRateBP,
		})
	}
	o.TotalNetCents, o.TotalVATCents, o.TotalGrossCents = orders.ComputeTotals(o.Items)

	if _, err := tx.Exec(ctx, `
		INSERT INTO orders (id, user_id, status, notes, total_net_cents, total_vat_cents, total_gross_cents, submitted_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		o.ID, o.UserID, string(o.Status), o.Notes,
		o.TotalNetCents, o.TotalVATCents, o.TotalGrossCents, o.SubmittedAt); err != nil {
		return nil, fmt.Errorf("insert order: %w", err)
	}
	for _, it := range o.Items {
		if _, err := tx.Exec(ctx, `
			INSERT INTO order_items (order_id, product_id, sku, name, quantity, unit_price_cents, vat_rate_bp)
			VALUES ($1,$2,$3,$4,$5,$6,$7)`,
			it.OrderID, it.ProductID, it.SKU, it.Name, it.Quantity, it.UnitPriceCents, it.VATRateBP); err != nil {
			return nil, fmt.Errorf("insert order item: %w", err)
		}
	}
	if _, err := tx.Exec(ctx, `DELETE FROM cart_lines WHERE user_id=$1`, userID); err != nil {
		return nil, fmt.Errorf("clear cart: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit submit: %w", err)
	}

	s.cacheStatus(ctx, o.ID, o.Status)
	if s.Notify != nil {
		s.Notify.NewOrder(o)
	}
	s.Audit.Record(ctx, audit.Entry{
		Actor: userID, Action: "order.submit", EntityType: "order", EntityID: o.ID,
		Description: fmt.Sprintf("submitted with %d item(s), gross %d cents", len(o.Items), o.TotalGrossCents),
	})
	return o, nil
}

// Confirm is legal from PENDING and URGENT; it only stamps the order. The
// permanent stock consumption happens at ship time.
func (s *Service) Confirm(ctx context.Context, orderID, actor string) error {
	return s.transition(ctx, orderID, orders.StatusConfirmed, actor, "",
		func(ctx context.Context, tx pgx.Tx, o *orders.Order) error {
			now := time.Now().UTC()
			o.ConfirmedAt = &now
			_, err := tx.Exec(ctx,
				`UPDATE orders SET status=$2, confirmed_at=$3 WHERE id=$1`,
				o.ID, string(orders.StatusConfirmed), now)
			return err
		})
}

// Cancel requires a non-blank reason and is legal from any non-terminal
// status. Reserved stock for every item is released best-effort: a ledger
// precondition failure on one item is logged and the rest still release.
func (s *Service) Cancel(ctx context.Context, orderID, actor, reason string) error {
	if strings.TrimSpace(reason) == "" {
		return ErrReasonRequired
	}
	return s.transition(ctx, orderID, orders.StatusCancelled, actor, reason,
		func(ctx context.Context, tx pgx.Tx, o *orders.Order) error {
			for _, it := range o.Items {
				err := ledger.ReleaseTx(ctx, tx, it.ProductID, it.Quantity)
				if errors.Is(err, ledger.ErrInvalidRelease) || errors.Is(err, ledger.ErrProductNotFound) {
					s.Log.Warn("cancel: release skipped",
						zap.String("order_id", o.ID),
						zap.String("product_id", it.ProductID),
						zap.Error(err))
					continue
				}
				if err != nil {
					return err
				}
			}
			o.CancelReason = reason
			_, err := tx.Exec(ctx,
				`UPDATE orders SET status=$2, cancel_reason=$3 WHERE id=$1`,
				o.ID, string(orders.StatusCancelled), reason)
			return err
		})
}

// Ship is legal from CONFIRMED only. Every item's reserved quantity is sold
// (all-or-nothing) and an optional tracking reference is appended to notes.
func (s *Service) Ship(ctx context.Context, orderID, actor, trackingRef string) error {
	return s.transition(ctx, orderID, orders.StatusShipped, actor, "",
		func(ctx context.Context, tx pgx.Tx, o *orders.Order) error {
			for _, it := range o.Items {
				if err := ledger.SellTx(ctx, tx, it.ProductID, it.Quantity); err != nil {
					return fmt.Errorf("ship order %s: %w", o.ID, err)
				}
			}
			now := time.Now().UTC()
			o.ShippedAt = &now
			if trackingRef != "" {
				if o.Notes != "" {
					o.Notes += "\n"
				}
				o.Notes += "tracking: " + trackingRef
			}
			_, err := tx.Exec(ctx,
				`UPDATE orders SET status=$2, shipped_at=$3, notes=$4 WHERE id=$1`,
				o.ID, string(orders.StatusShipped), now, o.Notes)
			return err
		})
}

type mutator func(ctx context.Context, tx pgx.Tx, o *orders.Order) error

// transition locks the order row, checks legality against the transition
// table, applies the mutation and emits the audit/event trail after commit.
func (s *Service) transition(ctx context.Context, orderID string, to orders.Status, actor, reason string, mutate mutator) error {
	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin transition: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	o, err := lockOrder(ctx, tx, orderID)
	if err != nil {
		return err
	}
	prev := o.Status
	if !orders.CanTransition(prev, to) {
		return &IllegalTransitionError{OrderID: orderID, From: prev, To: to}
	}
	if err := mutate(ctx, tx, o); err != nil {
		return err
	}
	o.Status = to
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transition: %w", err)
	}

	s.cacheStatus(ctx, o.ID, to)
	if s.Notify != nil {
		s.Notify.StatusChanged(o, prev, to, actor, reason)
	}
	desc := fmt.Sprintf("%s -> %s", prev, to)
	if reason != "" {
		desc += ": " + reason
	}
	s.Audit.Record(ctx, audit.Entry{
		Actor: actor, Action: "order." + strings.ToLower(string(to)),
		EntityType: "order", EntityID: o.ID, Description: desc,
	})
	return nil
}

func lockOrder(ctx context.Context, tx pgx.Tx, orderID string) (*orders.Order, error) {
	var o orders.Order
	err := tx.QueryRow(ctx, `
		SELECT id, user_id, status, notes, cancel_reason,
		       total_net_cents, total_vat_cents, total_gross_cents,
		       submitted_at, confirmed_at, shipped_at
		FROM orders WHERE id=$1 FOR UPDATE`, orderID).
		Scan(&o.ID, &o.UserID, &o.Status, &o.Notes, &o.CancelReason,
			&o.TotalNetCents, &o.TotalVATCents, &o.TotalGrossCents,
			&o.SubmittedAt, &o.ConfirmedAt, &o.ShippedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, orders.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lock order %s: %w", orderID, err)
	}

	// Items ordered by product id so ledger rows lock in a fixed order.
	rows, err := tx.Query(ctx, `
		SELECT id, order_id, product_id, sku, name, quantity, unit_price_cents, vat_rate_bp
		FROM order_items WHERE order_id=$1 ORDER BY product_id`, orderID)
	if err != nil {
		return nil, fmt.Errorf("load order items: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var it orders.OrderItem
		if err := rows.Scan(&it.ID, &it.OrderID, &it.ProductID, &it.SKU, &it.Name,
			&it.Quantity, &it.UnitPriceCents, &it.VATRateBP); err != nil {
			return nil, err
		}
		o.Items = append(o.Items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &o, nil
}

func (s *Service) cacheStatus(ctx context.Context, orderID string, status orders.Status) {
	if s.Redis == nil {
		return
	}
	key := fmt.Sprintf(redisx.KeyOrderStatus, orderID)
	val := fmt.Sprintf(`{"status":%q}`, status)
	if err := s.Redis.Set(ctx, key, val, redisx.TTLStatusCache).Err(); err != nil {
		s.Log.Debug("status cache set failed", zap.String("order_id", orderID), zap.Error(err))
	}
}
