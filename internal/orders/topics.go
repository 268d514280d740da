package orders

const (
	TopicOrderCreated      = "order.created"
	TopicOrderStatus       = "order.status.changed"
	TopicReservationFailed = "order.reservation.failed"
	TopicAudit             = "audit.log"
)

// In-process EventBus topics for dashboard fanout.
const (
	BusNewOrder    = "order:new"
	BusOrderStatus = "order:status"
)

// Partition key = order_id so all events for one order stay ordered.
func PartitionKey(orderID string) []byte { return []byte(orderID) }
