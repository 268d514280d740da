package redisx

import "time"

const (
	// Advisory availability cache: stock:avail:{product_id} -> quantity_available.
	// Short TTL; UX hint only, reservation always revalidates against the DB.
	KeyStockAvailable = "stock:avail:%s"

	// Cached order status: order_status:{order_id} -> {"status":"..."}
	KeyOrderStatus = "order_status:%s"

	// Submission idempotency: idem:order:submit:{user_id}:{token} -> order_id
	KeyIdemSubmit = "idem:order:submit:%s:%s"
)

var (
	TTLStockAdvisory = 30 * time.Second
	TTLStatusCache   = 5 * time.Minute
	TTLIdempotency   = 24 * time.Hour
)
