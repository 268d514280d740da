package orders

import (
	"encoding/json"
	"time"
)

const (
	EventNewOrder          = "NewOrder"
	EventOrderStatusChange = "OrderStatusChange"
	EventReservationFailed = "ReservationFailed"
)

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	CorrelationID string          `json:"correlation_id,omitempty"` // order_id
	Payload       json.RawMessage `json:"payload"`
}

// ---- payloads ----

type OrderSnapshot struct {
	OrderID         string    `json:"order_id"`
	UserID          string    `json:"user_id"`
	Status          Status    `json:"status"`
	TotalNetCents   int64     `json:"total_net_cents"`
	TotalVATCents   int64     `json:"total_vat_cents"`
	TotalGrossCents int64     `json:"total_gross_cents"`
	SubmittedAt     time.Time `json:"submitted_at"`
	ItemCount       int       `json:"item_count"`
}

func Snapshot(o *Order) OrderSnapshot {
	return OrderSnapshot{
		OrderID:         o.ID,
		UserID:          o.UserID,
		Status:          o.Status,
		TotalNetCents:   o.TotalNetCents,
		TotalVATCents:   o.TotalVATCents,
		TotalGrossCents: o.TotalGrossCents,
		SubmittedAt:     o.SubmittedAt,
		ItemCount:       len(o.Items),
	}
}

type NewOrderPayload struct {
	OrderID string        `json:"order_id"`
	Order   OrderSnapshot `json:"order"`
}

type OrderStatusChangePayload struct {
	OrderID        string        `json:"order_id"`
	PreviousStatus Status        `json:"previous_status"`
	NewStatus      Status        `json:"new_status"`
	Actor          string        `json:"actor,omitempty"`
	Reason         string        `json:"reason,omitempty"`
	Order          OrderSnapshot `json:"order"`
}

type ReservationFailedDetail struct {
	ProductID string `json:"product_id"`
	SKU       string `json:"sku"`
	Requested int    `json:"requested"`
	Available int    `json:"available"`
	Inactive  bool   `json:"inactive,omitempty"`
}

type ReservationFailedPayload struct {
	UserID  string                    `json:"user_id"`
	Reason  string                    `json:"reason"` // e.g. OUT_OF_STOCK
	Details []ReservationFailedDetail `json:"details,omitempty"`
}
