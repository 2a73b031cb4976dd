package routers

import (
	"context"

	"github.com/blueberrycongee/llmroute/pkg/deployment"
	"github.com/blueberrycongee/llmroute/pkg/router"
)

// CostRouter selects the cheapest deployment by input plus output token price.
type CostRouter struct {
	*picker
}

// NewCostRouter creates a lowest-cost strategy.
func NewCostRouter(opts ...Option) *CostRouter {
	o := buildOptions(opts)
	return &CostRouter{picker: newPicker(o.seed)}
}

// Select implements router.Selector. Equal prices are broken by weight.
func (r *CostRouter) Select(_ context.Context, candidates []*deployment.Deployment, _ *router.RequestContext) *deployment.Deployment {
	return r.pickByWeight(lowest(candidates, (*deployment.Deployment).Cost))
}
