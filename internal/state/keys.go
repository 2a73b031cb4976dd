package state

import "fmt"

// Key layout. The deployment ID is a hash tag so every key of one
// deployment lands in the same cluster slot.
const (
	keyActive   = "active_requests"
	keyLatency  = "latency"
	keyUsageRPM = "usage_rpm"
	keyUsageTPM = "usage_tpm"
	keyCooldown = "cooldown"
	keyHealth   = "health"

	keyRoundRobin = "round_robin"
)

// Health hash fields.
const (
	fieldHealthy       = "healthy"
	fieldFailures      = "consecutive_failures"
	fieldLastError     = "last_error"
	fieldLastErrorAt   = "last_error_at"
	fieldLastSuccessAt = "last_success_at"
	// fieldCooldownBound marks an unhealthy flag that lapses with the cooldown.
	fieldCooldownBound = "cooldown_bound"
)

func (b *Backend) key(kind, id string) string {
	return fmt.Sprintf("%s:%s:{%s}", b.prefix, kind, id)
}

func (b *Backend) usageKey(kind, id string, minute int64) string {
	return fmt.Sprintf("%s:%s:{%s}:%d", b.prefix, kind, id, minute)
}

func (b *Backend) keys(kind string, ids []string) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = b.key(kind, id)
	}
	return out
}
