// Package escalate promotes orders that sat too long in PENDING to URGENT.
// Each promotion is its own unit of work: one order's failure never aborts
// the rest of the sweep, and the selection predicate makes re-runs no-ops.
package escalate

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/orderdesk/b2b-portal/internal/audit"
	"github.com/orderdesk/b2b-portal/internal/notify"
	"github.com/orderdesk/b2b-portal/internal/orders"
)

// DueOrder is one page entry; (SubmittedAt, ID) doubles as the keyset cursor.
type DueOrder struct {
	ID          string
	SubmittedAt time.Time
}

type Store interface {
	// DueOrders returns PENDING orders submitted before the cutoff, ordered by
	// (submitted_at, id), strictly after the cursor. The zero cursor starts
	// from the beginning.
	DueOrders(ctx context.Context, before time.Time, after DueOrder, limit int) ([]DueOrder, error)
	// Promote flips one order PENDING -> URGENT. Returns the promoted order,
	// or nil when the order is no longer PENDING (already promoted or acted on).
	Promote(ctx context.Context, orderID string) (*orders.Order, error)
}

type Stats struct {
	Scanned  int
	Promoted int
	Skipped  int
	Failed   int
}

type Sweeper struct {
	Store     Store
	Threshold time.Duration
	BatchSize int
	Parallel  int
	Audit     audit.Recorder
	Notify    *notify.Broadcaster
	Log       *zap.Logger
}

// Sweep processes all due orders in batches with bounded parallelism.
// Per-order errors are captured and counted, not propagated; only a failure
// to select the batch itself aborts the sweep.
func (s *Sweeper) Sweep(ctx context.Context) (Stats, error) {
	var (
		stats Stats
		mu    sync.Mutex
	)
	cutoff := time.Now().UTC().Add(-s.Threshold)
	batch := s.BatchSize
	if batch <= 0 {
		batch = 200
	}
	parallel := s.Parallel
	if parallel <= 0 {
		parallel = 1
	}

	// The cursor pages past orders that stay PENDING because their promotion
	// failed; without it a failing head batch would be re-selected forever and
	// starve every younger due order. The seen map is only a safety net
	// against a store that mis-orders its pages.
	var cursor DueOrder
	seen := make(map[string]bool)
	for {
		page, err := s.Store.DueOrders(ctx, cutoff, cursor, batch)
		if err != nil {
			return stats, err
		}
		if len(page) == 0 {
			return stats, nil
		}
		cursor = page[len(page)-1]

		fresh := page[:0]
		for _, d := range page {
			if !seen[d.ID] {
				seen[d.ID] = true
				fresh = append(fresh, d)
			}
		}
		stats.Scanned += len(fresh)

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(parallel)
		for _, d := range fresh {
			id := d.ID
			g.Go(func() error {
				o, err := s.Store.Promote(gctx, id)
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err != nil:
					stats.Failed++
					s.Log.Warn("escalation failed", zap.String("order_id", id), zap.Error(err))
				case o == nil:
					stats.Skipped++
				default:
					stats.Promoted++
					s.emit(gctx, o)
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return stats, err
		}
		if len(page) < batch {
			return stats, nil
		}
	}
}

func (s *Sweeper) emit(ctx context.Context, o *orders.Order) {
	if s.Notify != nil {
		s.Notify.StatusChanged(o, orders.StatusPending, orders.StatusUrgent, "system", "unconfirmed past threshold")
	}
	s.Audit.Record(ctx, audit.Entry{
		Actor: "system", Action: "order.escalate", EntityType: "order", EntityID: o.ID,
		Description: "PENDING -> URGENT: unconfirmed past threshold",
	})
}
