package routers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blueberrycongee/llmroute/pkg/router"
)

func TestNew_AllStrategies(t *testing.T) {
	state := &fakeState{}
	want := map[router.Strategy]any{
		router.StrategySimpleShuffle:  &ShuffleRouter{},
		router.StrategyWeighted:       &WeightedRouter{},
		router.StrategyLeastBusy:      &LeastBusyRouter{},
		router.StrategyLowestLatency:  &LatencyRouter{},
		router.StrategyLowestCost:     &CostRouter{},
		router.StrategyLowestTPMRPM:   &TPMRPMRouter{},
		router.StrategyTagBased:       &TagBasedRouter{},
		router.StrategyPriorityBased:  &PriorityRouter{},
		router.StrategyRateLimitAware: &RateLimitAwareRouter{},
		router.StrategyRoundRobin:     &RoundRobinRouter{},
	}
	require.Len(t, want, len(AvailableStrategies()))

	for _, s := range AvailableStrategies() {
		cfg := router.DefaultConfig()
		cfg.Strategy = s
		sel, err := New(cfg, state)
		require.NoError(t, err, s)
		assert.IsType(t, want[s], sel, s)
		assert.True(t, IsValidStrategy(string(s)))
	}
}

func TestNew_InnerStrategy(t *testing.T) {
	cfg := router.DefaultConfig()
	cfg.Strategy = router.StrategyTagBased
	cfg.InnerStrategy = router.StrategyLeastBusy

	sel, err := New(cfg, &fakeState{})
	require.NoError(t, err)
	tb, ok := sel.(*TagBasedRouter)
	require.True(t, ok)
	assert.IsType(t, &LeastBusyRouter{}, tb.inner)

	cfg.InnerStrategy = router.StrategyPriorityBased
	_, err = New(cfg, &fakeState{})
	assert.Error(t, err)
}

func TestNew_UnknownStrategy(t *testing.T) {
	cfg := router.DefaultConfig()
	cfg.Strategy = "fastest-horse"
	_, err := New(cfg, &fakeState{})
	assert.Error(t, err)
	assert.False(t, IsValidStrategy("fastest-horse"))
}
