package escalate

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/orderdesk/b2b-portal/internal/audit"
	"github.com/orderdesk/b2b-portal/internal/orders"
)

// fakeStore keeps orders in memory and mimics the conditional promote.
type fakeStore struct {
	mu      sync.Mutex
	byID    map[string]*orders.Order
	failIDs map[string]bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{byID: map[string]*orders.Order{}, failIDs: map[string]bool{}}
}

func (f *fakeStore) add(id string, status orders.Status, submittedAt time.Time) {
	f.byID[id] = &orders.Order{ID: id, Status: status, SubmittedAt: submittedAt}
}

func (f *fakeStore) DueOrders(_ context.Context, before time.Time, after DueOrder, limit int) ([]DueOrder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var due []DueOrder
	for id, o := range f.byID {
		if o.Status == orders.StatusPending && o.SubmittedAt.Before(before) {
			due = append(due, DueOrder{ID: id, SubmittedAt: o.SubmittedAt})
		}
	}
	sort.Slice(due, func(i, j int) bool {
		if !due[i].SubmittedAt.Equal(due[j].SubmittedAt) {
			return due[i].SubmittedAt.Before(due[j].SubmittedAt)
		}
		return due[i].ID < due[j].ID
	})
	var out []DueOrder
	for _, d := range due {
		if d.SubmittedAt.Before(after.SubmittedAt) {
			continue
		}
		if d.SubmittedAt.Equal(after.SubmittedAt) && d.ID <= after.ID {
			continue
		}
		out = append(out, d)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *fakeStore) Promote(_ context.Context, orderID string) (*orders.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failIDs[orderID] {
		return nil, errors.New("simulated persistence failure")
	}
	o, ok := f.byID[orderID]
	if !ok {
		return nil, orders.ErrNotFound
	}
	if o.Status != orders.StatusPending {
		return nil, nil
	}
	o.Status = orders.StatusUrgent
	cp := *o
	return &cp, nil
}

func newSweeper(store Store) *Sweeper {
	return &Sweeper{
		Store:     store,
		Threshold: 12 * time.Hour,
		BatchSize: 10,
		Parallel:  4,
		Audit:     audit.Nop{},
		Log:       zap.NewNop(),
	}
}

func TestSweepPromotesStalePendingOrders(t *testing.T) {
	store := newFakeStore()
	old := time.Now().UTC().Add(-13 * time.Hour)
	store.add("stale-1", orders.StatusPending, old)
	store.add("stale-2", orders.StatusPending, old)
	store.add("fresh", orders.StatusPending, time.Now().UTC().Add(-1*time.Hour))
	store.add("confirmed", orders.StatusConfirmed, old)

	stats, err := newSweeper(store).Sweep(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if stats.Promoted != 2 {
		t.Errorf("promoted = %d, want 2", stats.Promoted)
	}
	if store.byID["stale-1"].Status != orders.StatusUrgent {
		t.Errorf("stale-1 status = %s, want URGENT", store.byID["stale-1"].Status)
	}
	if store.byID["fresh"].Status != orders.StatusPending {
		t.Errorf("fresh order should be untouched, got %s", store.byID["fresh"].Status)
	}
	if store.byID["confirmed"].Status != orders.StatusConfirmed {
		t.Errorf("confirmed order should be untouched, got %s", store.byID["confirmed"].Status)
	}
}

func TestSweepIsIdempotent(t *testing.T) {
	store := newFakeStore()
	store.add("stale", orders.StatusPending, time.Now().UTC().Add(-13*time.Hour))
	sw := newSweeper(store)

	first, err := sw.Sweep(context.Background())
	if err != nil {
		t.Fatalf("first sweep: %v", err)
	}
	if first.Promoted != 1 {
		t.Fatalf("first sweep promoted = %d, want 1", first.Promoted)
	}

	second, err := sw.Sweep(context.Background())
	if err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	if second.Promoted != 0 || second.Scanned != 0 {
		t.Errorf("second sweep promoted=%d scanned=%d, want 0/0", second.Promoted, second.Scanned)
	}
}

func TestSweepIsolatesFailures(t *testing.T) {
	store := newFakeStore()
	old := time.Now().UTC().Add(-24 * time.Hour)
	store.add("ok-1", orders.StatusPending, old)
	store.add("bad", orders.StatusPending, old)
	store.add("ok-2", orders.StatusPending, old)
	store.failIDs["bad"] = true

	stats, err := newSweeper(store).Sweep(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if stats.Promoted != 2 {
		t.Errorf("promoted = %d, want 2 despite one failure", stats.Promoted)
	}
	if stats.Failed != 1 {
		t.Errorf("failed = %d, want 1", stats.Failed)
	}
	if store.byID["ok-1"].Status != orders.StatusUrgent || store.byID["ok-2"].Status != orders.StatusUrgent {
		t.Error("healthy orders should still be promoted when a sibling fails")
	}
}

// racedStore selects an order that an admin confirms before Promote runs.
type racedStore struct{ calls int }

func (r *racedStore) DueOrders(context.Context, time.Time, DueOrder, int) ([]DueOrder, error) {
	if r.calls == 0 {
		r.calls++
		return []DueOrder{{ID: "raced", SubmittedAt: time.Now().UTC().Add(-13 * time.Hour)}}, nil
	}
	return nil, nil
}

func (r *racedStore) Promote(context.Context, string) (*orders.Order, error) {
	return nil, nil
}

func TestSweepSkipsConcurrentlyHandledOrder(t *testing.T) {
	stats, err := newSweeper(&racedStore{}).Sweep(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if stats.Promoted != 0 {
		t.Errorf("promoted = %d, want 0", stats.Promoted)
	}
	if stats.Skipped != 1 {
		t.Errorf("skipped = %d, want 1", stats.Skipped)
	}
}

// Failed promotions leave orders PENDING, so they show up again on the next
// page. The cursor must step past them or younger due orders are never reached.
func TestSweepReachesOrdersBehindFailingBatch(t *testing.T) {
	store := newFakeStore()
	oldest := time.Now().UTC().Add(-30 * time.Hour)
	store.add("fail-1", orders.StatusPending, oldest)
	store.add("fail-2", orders.StatusPending, oldest.Add(time.Minute))
	store.add("healthy", orders.StatusPending, oldest.Add(2*time.Minute))
	store.failIDs["fail-1"] = true
	store.failIDs["fail-2"] = true

	sw := newSweeper(store)
	sw.BatchSize = 2

	stats, err := sw.Sweep(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if stats.Scanned != 3 {
		t.Errorf("scanned = %d, want 3", stats.Scanned)
	}
	if stats.Failed != 2 {
		t.Errorf("failed = %d, want 2", stats.Failed)
	}
	if stats.Promoted != 1 {
		t.Errorf("promoted = %d, want 1", stats.Promoted)
	}
	if store.byID["healthy"].Status != orders.StatusUrgent {
		t.Errorf("order behind the failing batch = %s, want URGENT", store.byID["healthy"].Status)
	}
}

func TestSweepBatches(t *testing.T) {
	store := newFakeStore()
	old := time.Now().UTC().Add(-20 * time.Hour)
	for i := 0; i < 25; i++ {
		store.add(fmt.Sprintf("order-%02d", i), orders.StatusPending, old)
	}
	sw := newSweeper(store)
	sw.BatchSize = 7

	stats, err := sw.Sweep(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if stats.Promoted != 25 {
		t.Errorf("promoted = %d, want 25 across batches", stats.Promoted)
	}
}
