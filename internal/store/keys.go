package store

import "github.com/google/uuid"

// All keys share the "intelligence:" prefix so one Redis instance can be
// shared with other platform modules.
const (
	keyPrefix     = "intelligence:"
	pendingSetKey = keyPrefix + "jobs:pending"
)

// JobKey returns the Redis hash key for a job record.
func JobKey(id uuid.UUID) string {
	return keyPrefix + "job:" + id.String()
}

// RateLimitKey returns the Redis counter key for a tenant's request rate.
func RateLimitKey(tenantID string) string {
	return keyPrefix + "ratelimit:" + tenantID
}
