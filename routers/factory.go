package routers

import (
	"fmt"

	"github.com/blueberrycongee/llmroute/pkg/router"
)

// New creates the selection strategy named by config.Strategy.
// Returns an error if the strategy is not recognized.
func New(config router.Config, state router.StateReader, opts ...Option) (router.Selector, error) {
	switch config.Strategy {
	case router.StrategySimpleShuffle, "":
		return NewShuffleRouter(opts...), nil
	case router.StrategyWeighted:
		return NewWeightedRouter(opts...), nil
	case router.StrategyLeastBusy:
		return NewLeastBusyRouter(state, opts...), nil
	case router.StrategyLowestLatency:
		return NewLatencyRouter(state, config.LatencyWindow, opts...), nil
	case router.StrategyLowestCost:
		return NewCostRouter(opts...), nil
	case router.StrategyLowestTPMRPM:
		return NewTPMRPMRouter(state, opts...), nil
	case router.StrategyRateLimitAware:
		return NewRateLimitAwareRouter(state, config.RateLimitThreshold, opts...), nil
	case router.StrategyRoundRobin:
		shared, _ := state.(router.RoundRobinCounter)
		return NewRoundRobinRouter(shared), nil
	case router.StrategyTagBased, router.StrategyPriorityBased:
		inner, err := newInner(config, state, opts)
		if err != nil {
			return nil, err
		}
		if config.Strategy == router.StrategyTagBased {
			return NewTagBasedRouter(inner, opts...), nil
		}
		return NewPriorityRouter(inner, opts...), nil
	default:
		return nil, fmt.Errorf("unknown routing strategy: %s", config.Strategy)
	}
}

func newInner(config router.Config, state router.StateReader, opts []Option) (router.Selector, error) {
	inner := config
	inner.Strategy = config.InnerStrategy
	if inner.Strategy == router.StrategyTagBased || inner.Strategy == router.StrategyPriorityBased {
		return nil, fmt.Errorf("inner strategy %s cannot wrap %s", inner.Strategy, config.Strategy)
	}
	return New(inner, state, opts...)
}

// AvailableStrategies returns a list of all available routing strategies.
func AvailableStrategies() []router.Strategy {
	return []router.Strategy{
		router.StrategySimpleShuffle,
		router.StrategyWeighted,
		router.StrategyLeastBusy,
		router.StrategyLowestLatency,
		router.StrategyLowestCost,
		router.StrategyLowestTPMRPM,
		router.StrategyTagBased,
		router.StrategyPriorityBased,
		router.StrategyRateLimitAware,
		router.StrategyRoundRobin,
	}
}

// IsValidStrategy checks if a strategy string is valid.
func IsValidStrategy(s string) bool {
	strategy := router.Strategy(s)
	for _, valid := range AvailableStrategies() {
		if strategy == valid {
			return true
		}
	}
	return false
}
