package routers

import (
	"context"

	"github.com/blueberrycongee/llmroute/pkg/deployment"
	"github.com/blueberrycongee/llmroute/pkg/router"
)

// LeastBusyRouter selects the deployment with the fewest in-flight requests.
type LeastBusyRouter struct {
	*picker
	state router.StateReader
}

// NewLeastBusyRouter creates a least-busy strategy.
func NewLeastBusyRouter(state router.StateReader, opts ...Option) *LeastBusyRouter {
	o := buildOptions(opts)
	return &LeastBusyRouter{picker: newPicker(o.seed), state: state}
}

// Select implements router.Selector.
func (r *LeastBusyRouter) Select(ctx context.Context, candidates []*deployment.Deployment, _ *router.RequestContext) *deployment.Deployment {
	if len(candidates) == 0 {
		return nil
	}
	active := r.state.GetActiveBatch(ctx, candidateIDs(candidates))
	idle := lowest(candidates, func(d *deployment.Deployment) float64 {
		return float64(active[d.ID])
	})
	return r.pickByWeight(idle)
}
