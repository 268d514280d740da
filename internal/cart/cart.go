// Package cart manages per-user cart lines. Availability checks here are
// advisory only: they read current stock for UX feedback but commit nothing.
// The hard check happens at reservation time.
package cart

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/orderdesk/b2b-portal/internal/ledger"
	"github.com/orderdesk/b2b-portal/internal/orders"
	"github.com/orderdesk/b2b-portal/internal/redisx"
)

var (
	ErrUnknownSKU      = errors.New("unknown sku")
	ErrInvalidQuantity = errors.New("quantity must be positive")
	ErrLineNotFound    = errors.New("cart line not found")
)

// LineView is a cart line joined with its product for display.
type LineView struct {
	ProductID      string `json:"product_id"`
	SKU            string `json:"sku"`
	Name           string `json:"name"`
	Quantity       int    `json:"quantity"`
	Note           string `json:"note,omitempty"`
	UnitPriceCents int64  `json:"unit_price_cents"`
	Available      int    `json:"available"`
	Active         bool   `json:"active"`
}

type Repo struct {
	DB    *pgxpool.Pool
	Redis *redis.Client
	Log   *zap.Logger
}

// Add merges qty into the user's line for the SKU. The availability check
// compares the merged quantity against live stock; it can pass here and still
// fail at reservation time.
func (r *Repo) Add(ctx context.Context, userID, sku string, qty int, note string) error {
	if qty <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidQuantity, qty)
	}
	p, err := r.productBySKU(ctx, sku)
	if err != nil {
		return err
	}
	if !p.Active {
		return fmt.Errorf("%w: %s", ledger.ErrProductInactive, p.SKU)
	}

	var current int
	err = r.DB.QueryRow(ctx,
		`SELECT quantity FROM cart_lines WHERE user_id=$1 AND product_id=$2`,
		userID, p.ID).Scan(&current)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("cart add: %w", err)
	}

	if err := r.advisoryCheck(ctx, p, current+qty); err != nil {
		return err
	}

	_, err = r.DB.Exec(ctx, `
		INSERT INTO cart_lines (user_id, product_id, quantity, note)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, product_id) DO UPDATE
		SET quantity = cart_lines.quantity + EXCLUDED.quantity,
		    note = CASE WHEN EXCLUDED.note <> '' THEN EXCLUDED.note ELSE cart_lines.note END,
		    updated_at = now()`,
		userID, p.ID, qty, note)
	if err != nil {
		return fmt.Errorf("cart add: %w", err)
	}
	return nil
}

// UpdateQuantity sets the line's quantity; zero removes the line.
func (r *Repo) UpdateQuantity(ctx context.Context, userID, sku string, qty int) error {
	if qty < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidQuantity, qty)
	}
	p, err := r.productBySKU(ctx, sku)
	if err != nil {
		return err
	}
	if qty == 0 {
		return r.removeByProduct(ctx, userID, p.ID)
	}
	if err := r.advisoryCheck(ctx, p, qty); err != nil {
		return err
	}
	ct, err := r.DB.Exec(ctx,
		`UPDATE cart_lines SET quantity=$3, updated_at=now() WHERE user_id=$1 AND product_id=$2`,
		userID, p.ID, qty)
	if err != nil {
		return fmt.Errorf("cart update: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrLineNotFound, p.SKU)
	}
	return nil
}

func (r *Repo) Remove(ctx context.Context, userID, sku string) error {
	p, err := r.productBySKU(ctx, sku)
	if err != nil {
		return err
	}
	return r.removeByProduct(ctx, userID, p.ID)
}

func (r *Repo) removeByProduct(ctx context.Context, userID, productID string) error {
	ct, err := r.DB.Exec(ctx,
		`DELETE FROM cart_lines WHERE user_id=$1 AND product_id=$2`, userID, productID)
	if err != nil {
		return fmt.Errorf("cart remove: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrLineNotFound
	}
	return nil
}

func (r *Repo) Clear(ctx context.Context, userID string) error {
	if _, err := r.DB.Exec(ctx, `DELETE FROM cart_lines WHERE user_id=$1`, userID); err != nil {
		return fmt.Errorf("cart clear: %w", err)
	}
	return nil
}

func (r *Repo) Lines(ctx context.Context, userID string) ([]LineView, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT c.product_id, p.sku, p.name, c.quantity, c.note,
		       p.unit_price_cents, p.quantity_available, p.active
		FROM cart_lines c
		JOIN products p ON p.id = c.product_id
		WHERE c.user_id=$1
		ORDER BY p.sku`, userID)
	if err != nil {
		return nil, fmt.Errorf("cart lines: %w", err)
	}
	defer rows.Close()

	var out []LineView
	for rows.Next() {
		var v LineView
		if err := rows.Scan(&v.ProductID, &v.SKU, &v.Name, &v.Quantity, &v.Note,
			&v.UnitPriceCents, &v.Available, &v.Active); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// advisoryCheck consults the short-TTL redis cache first and falls back to the
// product row. Races with other carts are accepted.
func (r *Repo) advisoryCheck(ctx context.Context, p *orders.Product, wanted int) error {
	available := p.QuantityAvailable
	if r.Redis != nil {
		key := fmt.Sprintf(redisx.KeyStockAvailable, p.ID)
		if s, err := r.Redis.Get(ctx, key).Result(); err == nil {
			if n, err := strconv.Atoi(s); err == nil {
				available = n
			}
		} else {
			_ = r.Redis.Set(ctx, key, strconv.Itoa(available), redisx.TTLStockAdvisory).Err()
		}
	}
	if available < wanted {
		return fmt.Errorf("%w: sku=%s requested=%d available=%d",
			ledger.ErrInsufficientStock, p.SKU, wanted, available)
	}
	return nil
}

func (r *Repo) productBySKU(ctx context.Context, sku string) (*orders.Product, error) {
	norm := orders.NormalizeSKU(sku)
	var p orders.Product
	err := r.DB.QueryRow(ctx, `
		SELECT id, sku, name, active, quantity_available, quantity_reserved, unit_price_cents, vat_rate_bp
		FROM products WHERE sku=$1`, norm).
		Scan(&p.ID, &p.SKU, &p.Name, &p.Active, &p.QuantityAvailable,
			&p.QuantityReserved, &p.UnitPriceCents, &p.VATRateBP)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSKU, norm)
	}
	if err != nil {
		return nil, fmt.Errorf("product lookup: %w", err)
	}
	return &p, nil
}
