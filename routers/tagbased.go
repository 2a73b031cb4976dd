package routers

import (
	"context"
	"sort"

	"github.com/blueberrycongee/llmroute/pkg/deployment"
	"github.com/blueberrycongee/llmroute/pkg/router"
)

// TagBasedRouter keeps deployments carrying every tag the request requires
// and delegates the choice to an inner strategy.
type TagBasedRouter struct {
	inner router.Selector
}

// NewTagBasedRouter creates a tag-based strategy. A nil inner strategy means simple-shuffle.
func NewTagBasedRouter(inner router.Selector, opts ...Option) *TagBasedRouter {
	if inner == nil {
		inner = NewShuffleRouter(opts...)
	}
	return &TagBasedRouter{inner: inner}
}

// Select implements router.Selector.
func (r *TagBasedRouter) Select(ctx context.Context, candidates []*deployment.Deployment, reqCtx *router.RequestContext) *deployment.Deployment {
	var required []string
	if reqCtx != nil {
		required = reqCtx.Tags
	}

	matched := make([]*deployment.Deployment, 0, len(candidates))
	for _, d := range candidates {
		if d.HasTags(required) {
			matched = append(matched, d)
		}
	}
	if len(matched) == 0 {
		return nil
	}
	return r.inner.Select(ctx, matched, reqCtx)
}

// PriorityRouter tries priority tiers in ascending order and returns the
// first deployment the inner strategy picks.
type PriorityRouter struct {
	inner router.Selector
}

// NewPriorityRouter creates a priority-based strategy. A nil inner strategy means simple-shuffle.
func NewPriorityRouter(inner router.Selector, opts ...Option) *PriorityRouter {
	if inner == nil {
		inner = NewShuffleRouter(opts...)
	}
	return &PriorityRouter{inner: inner}
}

// Select implements router.Selector.
func (r *PriorityRouter) Select(ctx context.Context, candidates []*deployment.Deployment, reqCtx *router.RequestContext) *deployment.Deployment {
	tiers := make(map[int][]*deployment.Deployment)
	for _, d := range candidates {
		tiers[d.Priority] = append(tiers[d.Priority], d)
	}
	order := make([]int, 0, len(tiers))
	for p := range tiers {
		order = append(order, p)
	}
	sort.Ints(order)

	for _, p := range order {
		if d := r.inner.Select(ctx, tiers[p], reqCtx); d != nil {
			return d
		}
	}
	return nil
}
