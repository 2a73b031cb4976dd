package router

import (
	"context"
	"log/slog"

	"github.com/blueberrycongee/llmroute/pkg/deployment"
	llmerrors "github.com/blueberrycongee/llmroute/pkg/errors"
)

// Selector makes the final choice among already filtered candidates.
// Implementations live in the routers package.
type Selector interface {
	Select(ctx context.Context, candidates []*deployment.Deployment, reqCtx *RequestContext) *deployment.Deployment
}

// Router is bound to one registry generation and never mutated afterwards.
type Router struct {
	registry *deployment.Registry
	config   Config
	selector Selector
	state    StateReader
	logger   *slog.Logger
}

// New creates a router over a registry snapshot.
func New(registry *deployment.Registry, config Config, selector Selector, state StateReader, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		registry: registry,
		config:   config,
		selector: selector,
		state:    state,
		logger:   logger,
	}
}

// Config returns the router configuration.
func (r *Router) Config() Config { return r.config }

// Registry returns the registry snapshot the router reads.
func (r *Router) Registry() *deployment.Registry { return r.registry }

// ResolveModelGroup applies the alias map; unmapped names resolve to themselves.
func (r *Router) ResolveModelGroup(model string) string {
	if group, ok := r.config.ModelGroupAlias[model]; ok && group != "" {
		return group
	}
	return model
}

// SelectDeployment returns an eligible deployment for group, or nil.
func (r *Router) SelectDeployment(ctx context.Context, group string, reqCtx *RequestContext) *deployment.Deployment {
	candidates := r.registry.Group(group)
	if len(candidates) == 0 {
		return nil
	}

	candidates = r.filterEligible(ctx, candidates)
	if tags := reqCtx.tags(); len(tags) > 0 {
		candidates = filterByTags(candidates, tags)
	}
	candidates = lowestPriorityTier(candidates)

	if r.config.EnablePreCallChecks {
		candidates = r.filterUnderLimit(ctx, candidates)
	}
	if len(candidates) == 0 {
		r.logger.Debug("no eligible deployment", "model_group", group)
		return nil
	}

	return r.selector.Select(ctx, candidates, reqCtx)
}

// RequireDeployment turns an empty selection into a model-not-found error.
func (r *Router) RequireDeployment(group string, d *deployment.Deployment) (*deployment.Deployment, error) {
	return Require(group, d)
}

// Require is RequireDeployment without a router.
func Require(group string, d *deployment.Deployment) (*deployment.Deployment, error) {
	if d == nil {
		return nil, &llmerrors.ModelNotFoundError{Group: group}
	}
	return d, nil
}

// Eligible reports whether a deployment may be selected.
func Eligible(h Health, cd *Cooldown) bool {
	return cd == nil && h.Healthy
}

// HealthOf reads a health record from a batch result; absent means healthy.
func HealthOf(batch map[string]Health, id string) Health {
	if h, ok := batch[id]; ok {
		return h
	}
	return Health{Healthy: true}
}

func (r *Router) filterEligible(ctx context.Context, candidates []*deployment.Deployment) []*deployment.Deployment {
	ids := deploymentIDs(candidates)
	cooldowns := r.state.GetCooldownBatch(ctx, ids)
	health := r.state.GetHealthBatch(ctx, ids)

	out := make([]*deployment.Deployment, 0, len(candidates))
	for _, d := range candidates {
		if Eligible(HealthOf(health, d.ID), cooldowns[d.ID]) {
			out = append(out, d)
		}
	}
	return out
}

func (r *Router) filterUnderLimit(ctx context.Context, candidates []*deployment.Deployment) []*deployment.Deployment {
	usage := r.state.GetUsageBatch(ctx, deploymentIDs(candidates))

	out := make([]*deployment.Deployment, 0, len(candidates))
	for _, d := range candidates {
		u := usage[d.ID]
		if d.RPMLimit > 0 && u.RPM >= d.RPMLimit {
			continue
		}
		if d.TPMLimit > 0 && u.TPM >= d.TPMLimit {
			continue
		}
		out = append(out, d)
	}
	return out
}

func filterByTags(candidates []*deployment.Deployment, tags []string) []*deployment.Deployment {
	out := make([]*deployment.Deployment, 0, len(candidates))
	for _, d := range candidates {
		if d.HasTags(tags) {
			out = append(out, d)
		}
	}
	return out
}

func lowestPriorityTier(candidates []*deployment.Deployment) []*deployment.Deployment {
	if len(candidates) < 2 {
		return candidates
	}
	lowest := candidates[0].Priority
	mixed := false
	for _, d := range candidates[1:] {
		if d.Priority != lowest {
			mixed = true
		}
		if d.Priority < lowest {
			lowest = d.Priority
		}
	}
	if !mixed {
		return candidates
	}
	out := make([]*deployment.Deployment, 0, len(candidates))
	for _, d := range candidates {
		if d.Priority == lowest {
			out = append(out, d)
		}
	}
	return out
}

func deploymentIDs(candidates []*deployment.Deployment) []string {
	ids := make([]string, len(candidates))
	for i, d := range candidates {
		ids[i] = d.ID
	}
	return ids
}
