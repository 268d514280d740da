// Package audit defines the fire-and-forget audit trail contract. A failing
// recorder must never roll back the operation that produced the entry.
package audit

import (
	"context"
	"time"

	"go.uber.org/zap"

	kafkax "github.com/orderdesk/b2b-portal/internal/kafka"
	"github.com/orderdesk/b2b-portal/internal/orders"
)

type Entry struct {
	Actor       string    `json:"actor"`
	Action      string    `json:"action"`
	EntityType  string    `json:"entity_type"`
	EntityID    string    `json:"entity_id"`
	Description string    `json:"description"`
	At          time.Time `json:"at"`
}

type Recorder interface {
	Record(ctx context.Context, e Entry)
}

// KafkaRecorder ships entries to the audit topic; the producer is async so
// Record never blocks the caller on broker I/O.
type KafkaRecorder struct {
	Producer *kafkax.Producer
	Log      *zap.Logger
}

func (r *KafkaRecorder) Record(ctx context.Context, e Entry) {
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	r.Producer.Publish(orders.PartitionKey(e.EntityID), kafkax.MustMarshal(e))
	r.Log.Info("audit",
		zap.String("actor", e.Actor),
		zap.String("action", e.Action),
		zap.String("entity_type", e.EntityType),
		zap.String("entity_id", e.EntityID),
		zap.String("description", e.Description))
}

// LogRecorder is the fallback when no broker is configured.
type LogRecorder struct{ Log *zap.Logger }

func (r *LogRecorder) Record(_ context.Context, e Entry) {
	r.Log.Info("audit",
		zap.String("actor", e.Actor),
		zap.String("action", e.Action),
		zap.String("entity_type", e.EntityType),
		zap.String("entity_id", e.EntityID),
		zap.String("description", e.Description))
}

// Nop discards entries; used in tests.
type Nop struct{}

func (Nop) Record(context.Context, Entry) {}
