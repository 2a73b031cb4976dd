// Package router resolves model groups to deployments. It filters the
// registry by health, cooldown, tags, priority and admission limits, then
// hands the survivors to a pluggable selection strategy.
package router

import (
	"fmt"
	"time"
)

// Strategy defines the routing strategy type.
type Strategy string

const (
	// StrategySimpleShuffle draws at random, proportional to weight.
	StrategySimpleShuffle Strategy = "simple-shuffle"

	// StrategyWeighted draws by weight, falling back to rpm then tpm limits
	// when every weight is zero.
	StrategyWeighted Strategy = "weighted"

	// StrategyLeastBusy selects the deployment with fewest active requests.
	StrategyLeastBusy Strategy = "least-busy"

	// StrategyLowestLatency selects the lowest time-decayed average latency.
	StrategyLowestLatency Strategy = "lowest-latency"

	// StrategyLowestCost selects the lowest combined per-token cost.
	StrategyLowestCost Strategy = "lowest-cost"

	// StrategyLowestTPMRPM selects the lowest rpm/tpm utilisation.
	StrategyLowestTPMRPM Strategy = "lowest-tpm-rpm"

	// StrategyTagBased keeps deployments carrying every requested tag.
	StrategyTagBased Strategy = "tag-based"

	// StrategyPriorityBased tries priority tiers in ascending order.
	StrategyPriorityBased Strategy = "priority-based"

	// StrategyRateLimitAware skips deployments close to their rpm/tpm limit.
	StrategyRateLimitAware Strategy = "rate-limit-aware"

	// StrategyRoundRobin rotates through a group's deployments in order.
	StrategyRoundRobin Strategy = "round-robin"
)

// RequestContext contains request-specific information for routing decisions.
type RequestContext struct {
	// Model is the requested model name
	Model string

	// IsStreaming indicates if this is a streaming request
	IsStreaming bool

	// Tags are required deployment tags
	Tags []string

	// EstimatedInputTokens for TPM/RPM calculations
	EstimatedInputTokens int

	// Metadata contains additional request metadata
	Metadata map[string]string
}

func (rc *RequestContext) tags() []string {
	if rc == nil {
		return nil
	}
	return rc.Tags
}

// Config is the router configuration. A Config value is swapped wholesale
// together with the registry it applies to.
type Config struct {
	// Strategy is the routing strategy to use
	Strategy Strategy

	// NumRetries is the number of extra attempts per deployment
	NumRetries int

	// RetryAfter is the pause between attempts against the same deployment
	RetryAfter time.Duration

	// Timeout bounds a single attempt
	Timeout time.Duration

	// CooldownTime is how long a deployment is excluded after too many failures
	CooldownTime time.Duration

	// AllowedFails is the number of consecutive failures tolerated before cooldown
	AllowedFails int

	// EnablePreCallChecks drops deployments already at their rpm/tpm limit
	EnablePreCallChecks bool

	// ModelGroupAlias maps request model names onto model groups
	ModelGroupAlias map[string]string

	// LatencyWindow is the trailing window used by latency-based routing
	LatencyWindow time.Duration

	// RateLimitThreshold is the utilisation above which rate-limit-aware routing skips a deployment
	RateLimitThreshold float64

	// InnerStrategy is used by tag-based and priority-based routing
	InnerStrategy Strategy
}

// DefaultConfig returns the default router configuration.
func DefaultConfig() Config {
	return Config{
		Strategy:           StrategySimpleShuffle,
		NumRetries:         2,
		Timeout:            60 * time.Second,
		CooldownTime:       60 * time.Second,
		AllowedFails:       3,
		LatencyWindow:      5 * time.Minute,
		RateLimitThreshold: 0.9,
		InnerStrategy:      StrategySimpleShuffle,
	}
}

// Validate checks numeric bounds.
func (c Config) Validate() error {
	if c.NumRetries < 0 {
		return fmt.Errorf("num_retries must be >= 0, got %d", c.NumRetries)
	}
	if c.AllowedFails < 0 {
		return fmt.Errorf("allowed_fails must be >= 0, got %d", c.AllowedFails)
	}
	if c.Timeout < 0 || c.RetryAfter < 0 || c.CooldownTime < 0 {
		return fmt.Errorf("timeout, retry_after and cooldown_time must not be negative")
	}
	if c.RateLimitThreshold < 0 {
		return fmt.Errorf("rate_limit_threshold must not be negative")
	}
	return nil
}
