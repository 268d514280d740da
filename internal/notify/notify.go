// Package notify fans order events out to Kafka (external consumers) and to
// the in-process EventBus (live dashboard subscribers in the same binary).
package notify

import (
	"time"

	evbus "github.com/asaskevich/EventBus"
	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	kafkax "github.com/orderdesk/b2b-portal/internal/kafka"
	"github.com/orderdesk/b2b-portal/internal/orders"
)

type Broadcaster struct {
	OrderProducer  *kafkax.Producer // order.created
	StatusProducer *kafkax.Producer // order.status.changed
	RejectProducer *kafkax.Producer // order.reservation.failed
	Bus            evbus.Bus
	Service        string
	Log            *zap.Logger
}

func (b *Broadcaster) NewOrder(o *orders.Order) {
	snap := orders.Snapshot(o)
	payload := orders.NewOrderPayload{OrderID: o.ID, Order: snap}
	b.publish(b.OrderProducer, o.ID, orders.EventNewOrder, kafkax.MustMarshal(payload))
	if b.Bus != nil {
		b.Bus.Publish(orders.BusNewOrder, payload)
	}
}

func (b *Broadcaster) StatusChanged(o *orders.Order, prev, next orders.Status, actor, reason string) {
	payload := orders.OrderStatusChangePayload{
		OrderID:        o.ID,
		PreviousStatus: prev,
		NewStatus:      next,
		Actor:          actor,
		Reason:         reason,
		Order:          orders.Snapshot(o),
	}
	b.publish(b.StatusProducer, o.ID, orders.EventOrderStatusChange, kafkax.MustMarshal(payload))
	if b.Bus != nil {
		b.Bus.Publish(orders.BusOrderStatus, payload)
	}
}

func (b *Broadcaster) ReservationFailed(userID string, details []orders.ReservationFailedDetail) {
	payload := orders.ReservationFailedPayload{
		UserID:  userID,
		Reason:  "OUT_OF_STOCK",
		Details: details,
	}
	b.publish(b.RejectProducer, userID, orders.EventReservationFailed, kafkax.MustMarshal(payload))
}

func (b *Broadcaster) publish(p *kafkax.Producer, orderID, eventType string, payload []byte) {
	if p == nil {
		return
	}
	ev := orders.Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      b.Service,
		CorrelationID: orderID,
		Payload:       payload,
	}
	p.Publish(orders.PartitionKey(orderID), kafkax.MustMarshal(ev),
		kafkago.Header{Key: "x-event-type", Value: []byte(eventType)},
		kafkago.Header{Key: "x-event-version", Value: []byte("1")},
	)
}
