package redisx

import "time"

const (
	// Cache view order: order_view:{order_id} -> JSON orders.OrderView
	KeyOrderView = "order_view:%s"

	// Generasi view order, naik tiap transisi: order_gen:{order_id} -> int
	KeyOrderGen = "order_gen:%s"

	// Dedup event processing: dedup:{service}:{event_id}
	KeyDedup = "dedup:%s:%s"
)

var (
	TTLOrderView = 5 * time.Minute
	TTLOrderGen  = 24 * time.Hour
	TTLDedup     = 48 * time.Hour
)
