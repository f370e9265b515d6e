package redisx

import "time"

const (
	// Webhook delivery dedup: dedup:webhook:{invoice_id}:{gateway_ts}
	KeyDedupWebhook = "dedup:webhook:%s:%d"

	// Cache status order: order_status:{order_id} -> {"status": "...", "total": ...}
	KeyOrderStatus = "order_status:%s"

	// Gateway reachability cache (health probe result), short TTL.
	KeyGatewayHealth = "gateway:health"
)

var (
	TTLDedup         = 48 * time.Hour
	TTLStatusCache   = 5 * time.Minute
	TTLGatewayHealth = 30 * time.Second
)
