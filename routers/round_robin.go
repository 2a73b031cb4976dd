package routers

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/blueberrycongee/llmroute/pkg/deployment"
	"github.com/blueberrycongee/llmroute/pkg/router"
)

// RoundRobinRouter rotates through candidates in order, one counter per model
// group. With a shared counter the rotation spans every gateway process; a
// counter error falls back to the local rotation.
type RoundRobinRouter struct {
	shared   router.RoundRobinCounter
	counters sync.Map // map[string]*atomic.Uint64
}

// NewRoundRobinRouter creates a round-robin strategy. shared may be nil.
func NewRoundRobinRouter(shared router.RoundRobinCounter) *RoundRobinRouter {
	return &RoundRobinRouter{shared: shared}
}

// Select implements router.Selector.
func (r *RoundRobinRouter) Select(ctx context.Context, candidates []*deployment.Deployment, _ *router.RequestContext) *deployment.Deployment {
	if len(candidates) == 0 {
		return nil
	}
	group := candidates[0].ModelName
	if r.shared != nil {
		if idx, err := r.shared.NextIndex(ctx, group, len(candidates)); err == nil && idx >= 0 && idx < len(candidates) {
			return candidates[idx]
		}
	}
	next := r.counter(group).Add(1) - 1
	return candidates[next%uint64(len(candidates))]
}

func (r *RoundRobinRouter) counter(group string) *atomic.Uint64 {
	if v, ok := r.counters.Load(group); ok {
		return v.(*atomic.Uint64)
	}
	v, _ := r.counters.LoadOrStore(group, new(atomic.Uint64))
	return v.(*atomic.Uint64)
}
