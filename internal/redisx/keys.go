package redisx

import "time"

const (
	// Mirror blob: JSON array of order snapshots, the server side twin of the
	// storefront's pedidosGuardados entry.
	KeyMirror = "mirror:pedidosGuardados"

	// Idempotent checkout: idem:order:create:{Idempotency-Key} -> response body
	KeyIdemOrderCreate = "idem:order:create:%s"

	// Status cache: order_status:{numero_orden} -> status
	KeyOrderStatus = "order_status:%s"

	// Event dedup: dedup:{service}:{event_id}
	KeyDedup = "dedup:%s:%s"
)

var (
	TTLIdempotency = 24 * time.Hour
	TTLStatusCache = 5 * time.Minute
	TTLDedup       = 48 * time.Hour
)
