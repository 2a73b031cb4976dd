package routers

import (
	"context"

	"github.com/blueberrycongee/llmroute/pkg/deployment"
	"github.com/blueberrycongee/llmroute/pkg/router"
)

// TPMRPMRouter selects the deployment with the lowest utilisation of its
// rpm and tpm limits in the current minute.
type TPMRPMRouter struct {
	*picker
	state router.StateReader
}

// NewTPMRPMRouter creates a usage-based strategy.
func NewTPMRPMRouter(state router.StateReader, opts ...Option) *TPMRPMRouter {
	o := buildOptions(opts)
	return &TPMRPMRouter{picker: newPicker(o.seed), state: state}
}

// Select implements router.Selector.
func (r *TPMRPMRouter) Select(ctx context.Context, candidates []*deployment.Deployment, _ *router.RequestContext) *deployment.Deployment {
	if len(candidates) == 0 {
		return nil
	}
	usage := r.state.GetUsageBatch(ctx, candidateIDs(candidates))
	least := lowest(candidates, func(d *deployment.Deployment) float64 {
		return utilisation(d, usage[d.ID])
	})
	return r.pickByWeight(least)
}

// RateLimitAwareRouter skips deployments whose rpm or tpm utilisation is
// above the threshold and draws by weight among the rest.
type RateLimitAwareRouter struct {
	*picker
	state     router.StateReader
	threshold float64
}

// NewRateLimitAwareRouter creates a rate-limit-aware strategy. A threshold
// of zero or less means 0.9.
func NewRateLimitAwareRouter(state router.StateReader, threshold float64, opts ...Option) *RateLimitAwareRouter {
	if threshold <= 0 {
		threshold = 0.9
	}
	o := buildOptions(opts)
	return &RateLimitAwareRouter{picker: newPicker(o.seed), state: state, threshold: threshold}
}

// Select implements router.Selector.
func (r *RateLimitAwareRouter) Select(ctx context.Context, candidates []*deployment.Deployment, _ *router.RequestContext) *deployment.Deployment {
	if len(candidates) == 0 {
		return nil
	}
	usage := r.state.GetUsageBatch(ctx, candidateIDs(candidates))

	headroom := make([]*deployment.Deployment, 0, len(candidates))
	for _, d := range candidates {
		u := usage[d.ID]
		if d.RPMLimit > 0 && float64(u.RPM)/float64(d.RPMLimit) > r.threshold {
			continue
		}
		if d.TPMLimit > 0 && float64(u.TPM)/float64(d.TPMLimit) > r.threshold {
			continue
		}
		headroom = append(headroom, d)
	}
	return r.pickByWeight(headroom)
}
