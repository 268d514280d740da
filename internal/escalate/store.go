package escalate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/orderdesk/b2b-portal/internal/orders"
)

type PGStore struct{ DB *pgxpool.Pool }

func (s *PGStore) DueOrders(ctx context.Context, before time.Time, after DueOrder, limit int) ([]DueOrder, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT id, submitted_at FROM orders
		WHERE status=$1 AND submitted_at < $2
		  AND (submitted_at, id) > ($3, $4)
		ORDER BY submitted_at, id
		LIMIT $5`, string(orders.StatusPending), before, after.SubmittedAt, after.ID, limit)
	if err != nil {
		return nil, fmt.Errorf("select due orders: %w", err)
	}
	defer rows.Close()

	var out []DueOrder
	for rows.Next() {
		var d DueOrder
		if err := rows.Scan(&d.ID, &d.SubmittedAt); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// Promote is a conditional update: the status predicate makes it idempotent
// and safe against a concurrent admin action on the same order.
func (s *PGStore) Promote(ctx context.Context, orderID string) (*orders.Order, error) {
	ct, err := s.DB.Exec(ctx,
		`UPDATE orders SET status=$2 WHERE id=$1 AND status=$3`,
		orderID, string(orders.StatusUrgent), string(orders.StatusPending))
	if err != nil {
		return nil, fmt.Errorf("promote %s: %w", orderID, err)
	}
	if ct.RowsAffected() == 0 {
		return nil, nil
	}

	var o orders.Order
	err = s.DB.QueryRow(ctx, `
		SELECT id, user_id, status, notes, cancel_reason,
		       total_net_cents, total_vat_cents, total_gross_cents,
		       submitted_at, confirmed_at, shipped_at
		FROM orders WHERE id=$1`, orderID).
		Scan(&o.ID, &o.UserID, &o.Status, &o.Notes, &o.CancelReason,
			&o.TotalNetCents, &o.TotalVATCents, &o.TotalGrossCents,
			&o.SubmittedAt, &o.ConfirmedAt, &o.ShippedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, orders.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load promoted order %s: %w", orderID, err)
	}
	return &o, nil
}
