package routers

import (
	"context"
	"time"

	"github.com/blueberrycongee/llmroute/pkg/deployment"
	"github.com/blueberrycongee/llmroute/pkg/router"
)

type fakeState struct {
	active    map[string]int64
	latencies map[string][]router.LatencySample
	usage     map[string]router.Usage
}

func (f *fakeState) GetActiveBatch(_ context.Context, ids []string) map[string]int64 {
	out := make(map[string]int64, len(ids))
	for _, id := range ids {
		out[id] = f.active[id]
	}
	return out
}

func (f *fakeState) GetLatencyWindowBatch(_ context.Context, ids []string, _ time.Duration) map[string][]router.LatencySample {
	out := make(map[string][]router.LatencySample, len(ids))
	for _, id := range ids {
		out[id] = f.latencies[id]
	}
	return out
}

func (f *fakeState) GetUsageBatch(_ context.Context, ids []string) map[string]router.Usage {
	out := make(map[string]router.Usage, len(ids))
	for _, id := range ids {
		out[id] = f.usage[id]
	}
	return out
}

func (f *fakeState) GetCooldownBatch(_ context.Context, ids []string) map[string]*router.Cooldown {
	return make(map[string]*router.Cooldown, len(ids))
}

func (f *fakeState) GetHealthBatch(_ context.Context, ids []string) map[string]router.Health {
	out := make(map[string]router.Health, len(ids))
	for _, id := range ids {
		out[id] = router.Health{Healthy: true}
	}
	return out
}

func dep(id string, mutate ...func(*deployment.Deployment)) *deployment.Deployment {
	d := &deployment.Deployment{ID: id, ModelName: "gpt-4", Weight: 1}
	for _, m := range mutate {
		m(d)
	}
	return d
}

func withWeight(w int) func(*deployment.Deployment) {
	return func(d *deployment.Deployment) { d.Weight = w }
}

func countPicks(n int, pick func() *deployment.Deployment) map[string]int {
	counts := make(map[string]int)
	for i := 0; i < n; i++ {
		if d := pick(); d != nil {
			counts[d.ID]++
		} else {
			counts[""]++
		}
	}
	return counts
}
