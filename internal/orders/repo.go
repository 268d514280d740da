package orders

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrNotFound = errors.New("not found")

// Repo is the read side: order and product queries for the API surface.
// All writes go through the ledger, coordinator and lifecycle packages.
type Repo struct{ DB *pgxpool.Pool }

func (r *Repo) GetOrder(ctx context.Context, orderID string) (*Order, error) {
	var o Order
	err := r.DB.QueryRow(ctx, `
		SELECT id, user_id, status, notes, cancel_reason,
		       total_net_cents, total_vat_cents, total_gross_cents,
		       submitted_at, confirmed_at, shipped_at
		FROM orders WHERE id=$1`, orderID).
		Scan(&o.ID, &o.UserID, &o.Status, &o.Notes, &o.CancelReason,
			&o.TotalNetCents, &o.TotalVATCents, &o.TotalGrossCents,
			&o.SubmittedAt, &o.ConfirmedAt, &o.ShippedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get order: %w", err)
	}

	rows, err := r.DB.Query(ctx, `
		SELECT id, order_id, product_id, sku, name, quantity, unit_price_cents, vat_rate_bp
		FROM order_items WHERE order_id=$1 ORDER BY id`, orderID)
	if err != nil {
		return nil, fmt.Errorf("get order items: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var it OrderItem
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

func (r *Repo) GetOrderStatus(ctx context.Context, orderID string) (Status, error) {
	var s string
	err := r.DB.QueryRow(ctx, `SELECT status FROM orders WHERE id=$1`, orderID).Scan(&s)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return Status(s), nil
}

// ListOrders returns orders newest first, optionally filtered by status.
func (r *Repo) ListOrders(ctx context.Context, status Status, limit int) ([]Order, error) {
	if limit <= 0 {
		limit = 50
	}
	q := `SELECT id, user_id, status, notes, cancel_reason,
	             total_net_cents, total_vat_cents, total_gross_cents,
	             submitted_at, confirmed_at, shipped_at
	      FROM orders`
	args := []any{}
	if status != "" {
		q += ` WHERE status=$1 ORDER BY submitted_at DESC LIMIT $2`
		args = append(args, string(status), limit)
	} else {
		q += ` ORDER BY submitted_at DESC LIMIT $1`
		args = append(args, limit)
	}
	rows, err := r.DB.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	var out []Order
	for rows.Next() {
		var o Order
		if err := rows.Scan(&o.ID, &o.UserID, &o.Status, &o.Notes, &o.CancelReason,
			&o.TotalNetCents, &o.TotalVATCents, &o.TotalGrossCents,
			&o.SubmittedAt, &o.ConfirmedAt, &o.ShippedAt); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (r *Repo) ListProducts(ctx context.Context) ([]Product, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT id, sku, name, active, quantity_available, quantity_reserved,
		       unit_price_cents, vat_rate_bp, created_at, updated_at
		FROM products ORDER BY sku`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Product
	for rows.Next() {
		var p Product
		if err := rows.Scan(&p.ID, &p.SKU, &p.Name, &p.Active, &p.QuantityAvailable,
			&p.QuantityReserved, &p.UnitPriceCents, &p.VATRateBP, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *Repo) GetProductBySKU(ctx context.Context, sku string) (*Product, error) {
	var p Product
	err := r.DB.QueryRow(ctx, `
		SELECT id, sku, name, active, quantity_available, quantity_reserved,
		       unit_price_cents, vat_rate_bp, created_at, updated_at
		FROM products WHERE sku=$1`, NormalizeSKU(sku)).
		Scan(&p.ID, &p.SKU, &p.Name, &p.Active, &p.QuantityAvailable,
			&p.QuantityReserved, &p.UnitPriceCents, &p.VATRateBP, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}
