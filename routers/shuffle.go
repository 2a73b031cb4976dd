package routers

import (
	"context"

	"github.com/blueberrycongee/llmroute/pkg/deployment"
	"github.com/blueberrycongee/llmroute/pkg/router"
)

// ShuffleRouter draws at random, proportionally to deployment weight.
type ShuffleRouter struct {
	*picker
}

// NewShuffleRouter creates a simple-shuffle strategy.
func NewShuffleRouter(opts ...Option) *ShuffleRouter {
	o := buildOptions(opts)
	return &ShuffleRouter{picker: newPicker(o.seed)}
}

// Select implements router.Selector.
func (r *ShuffleRouter) Select(_ context.Context, candidates []*deployment.Deployment, _ *router.RequestContext) *deployment.Deployment {
	return r.pickByWeight(candidates)
}

// WeightedRouter draws by weight, then by rpm limit, then by tpm limit,
// using the first signal that is configured on any candidate.
type WeightedRouter struct {
	*picker
}

// NewWeightedRouter creates a weighted strategy.
func NewWeightedRouter(opts ...Option) *WeightedRouter {
	o := buildOptions(opts)
	return &WeightedRouter{picker: newPicker(o.seed)}
}

// Select implements router.Selector.
func (r *WeightedRouter) Select(_ context.Context, candidates []*deployment.Deployment, _ *router.RequestContext) *deployment.Deployment {
	if len(candidates) == 0 {
		return nil
	}
	if d := r.weightedPick(candidates, byWeight); d != nil {
		return d
	}
	if d := r.weightedPick(candidates, func(d *deployment.Deployment) float64 { return float64(d.RPMLimit) }); d != nil {
		return d
	}
	if d := r.weightedPick(candidates, func(d *deployment.Deployment) float64 { return float64(d.TPMLimit) }); d != nil {
		return d
	}
	return candidates[r.randIntn(len(candidates))]
}
