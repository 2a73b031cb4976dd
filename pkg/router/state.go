package router

import (
	"context"
	"time"
)

// Health is the health record of a deployment. A deployment with no record is healthy.
type Health struct {
	Healthy             bool
	ConsecutiveFailures int
	LastError           string
	LastErrorAt         time.Time
	LastSuccessAt       time.Time
}

// Cooldown describes an active cooldown.
type Cooldown struct {
	Reason    string    `json:"reason"`
	EnteredAt time.Time `json:"entered_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Usage holds the current minute's request and token counters.
type Usage struct {
	RPM int64
	TPM int64
}

// LatencySample is one recorded attempt latency.
type LatencySample struct {
	Timestamp time.Time
	LatencyMs float64
}

// StateReader is the read side of the deployment state backend. Batch reads
// return an entry for every requested ID; missing state yields zero values
// (and a healthy Health).
type StateReader interface {
	GetActiveBatch(ctx context.Context, ids []string) map[string]int64
	GetLatencyWindowBatch(ctx context.Context, ids []string, window time.Duration) map[string][]LatencySample
	GetUsageBatch(ctx context.Context, ids []string) map[string]Usage
	GetCooldownBatch(ctx context.Context, ids []string) map[string]*Cooldown
	GetHealthBatch(ctx context.Context, ids []string) map[string]Health
}
