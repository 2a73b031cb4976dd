// Package llmroute routes LLM requests across interchangeable deployments of
// a model group. It selects a deployment with a pluggable strategy, keeps
// per-deployment health, cooldown, latency and usage in a shared store, and
// runs calls with bounded retries and fallbacks to other model groups.
//
// Basic usage:
//
//	reg, err := deployment.NewRegistry(entries)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	gw, err := llmroute.New(reg, llmroute.WithRouterConfig(routerCfg))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer gw.Close()
//
//	d, err := gw.Pick(ctx, "gpt-4", nil)
//	if err != nil {
//	    return err
//	}
//	resp, err := llmroute.Do(ctx, gw, d, gw.ResolveModelGroup("gpt-4"), callUpstream)
package llmroute

import (
	"github.com/blueberrycongee/llmroute/internal/failover"
	"github.com/blueberrycongee/llmroute/pkg/deployment"
	"github.com/blueberrycongee/llmroute/pkg/errors"
	"github.com/blueberrycongee/llmroute/pkg/router"
)

// Version is the current version of llmroute.
const Version = "0.1.0"

// Re-export the types callers handle most often.
type (
	// Deployment is one concrete upstream endpoint serving a model group.
	Deployment = deployment.Deployment

	// Registry is an immutable set of deployments grouped by model group.
	Registry = deployment.Registry

	// RequestContext carries per-request routing hints.
	RequestContext = router.RequestContext

	// RouterConfig configures selection, cooldowns and strategy parameters.
	RouterConfig = router.Config

	// FailoverConfig configures retries, timeouts and fallback groups.
	FailoverConfig = failover.Config

	// ExecuteFunc performs one upstream call.
	ExecuteFunc = failover.ExecuteFunc

	// Strategy names a routing strategy.
	Strategy = router.Strategy

	// ModelNotFoundError is returned when a model group has no eligible deployment.
	ModelNotFoundError = errors.ModelNotFoundError

	// ChainExhaustedError is returned when every candidate of a fallback chain failed.
	ChainExhaustedError = errors.ChainExhaustedError
)

// Re-export strategy names.
const (
	StrategySimpleShuffle  = router.StrategySimpleShuffle
	StrategyWeighted       = router.StrategyWeighted
	StrategyLeastBusy      = router.StrategyLeastBusy
	StrategyLowestLatency  = router.StrategyLowestLatency
	StrategyLowestCost     = router.StrategyLowestCost
	StrategyLowestTPMRPM   = router.StrategyLowestTPMRPM
	StrategyTagBased       = router.StrategyTagBased
	StrategyPriorityBased  = router.StrategyPriorityBased
	StrategyRateLimitAware = router.StrategyRateLimitAware
	StrategyRoundRobin     = router.StrategyRoundRobin
)
