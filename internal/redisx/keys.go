package redisx

import "time"

const (
	// Cache order status: order_status:{order_id} -> {"status": "..."}
	KeyOrderStatus = "order_status:%s"

	// Dedup event processing: dedup:{service}:{event_id}
	KeyDedup = "dedup:%s:%s"

	// Sorted set of checkout request ids pending verification, scored by due time.
	KeyVerifyQueue = "verify:due"

	// Verification attempt counter per checkout request id.
	KeyVerifyAttempts = "verify:attempts:%s"
)

var (
	TTLStatusCache    = 5 * time.Minute
	TTLDedup          = 48 * time.Hour
	TTLVerifyAttempts = 24 * time.Hour
)
