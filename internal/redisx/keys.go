package redisx

import "time"

const (
	// Placement idempotency: idem:order:place:{key} -> "pending" | cached response JSON
	KeyIdemOrderPlace = "idem:order:place:%s"

	// Cached track lookups: order_track:{order_number} -> order JSON.
	// The braces keep both keys of one order in the same cluster slot.
	KeyOrderTrack = "order_track:{%s}"
	// order_track_ver:{order_number} -> version of the last invalidation
	KeyOrderTrackVersion = "order_track_ver:{%s}"

	// Dedup event processing: dedup:{service}:{event_id}
	KeyDedup = "dedup:%s:%s"
)

var (
	TTLIdempotency = 24 * time.Hour
	TTLIdemPending = 30 * time.Second
	TTLTrackCache  = 5 * time.Minute
	TTLDedup       = 48 * time.Hour
)
