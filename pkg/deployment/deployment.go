// Package deployment defines the immutable deployment records the router
// chooses between and the registry that groups them by model group.
package deployment

import (
	"slices"
	"strings"
)

// Deployment is one configured (provider, model) endpoint able to serve a model group.
// Values are immutable for the lifetime of a registry generation.
type Deployment struct {
	ID        string         `json:"deployment_id"`
	ModelName string         `json:"model_name"`
	Params    map[string]any `json:"-"` // opaque provider parameters, may hold secrets

	// Provider and BaseURL are derived from Params ("model" prefix and "api_base").
	Provider string `json:"provider,omitempty"`
	BaseURL  string `json:"base_url,omitempty"`

	Weight   int      `json:"weight"`
	Priority int      `json:"priority"`
	Tags     []string `json:"tags,omitempty"`

	InputCostPerToken  float64 `json:"input_cost_per_token"`
	OutputCostPerToken float64 `json:"output_cost_per_token"`

	// RPMLimit and TPMLimit are zero when no limit is configured.
	RPMLimit int64 `json:"rpm_limit,omitempty"`
	TPMLimit int64 `json:"tpm_limit,omitempty"`
}

// HasTags reports whether the deployment's tag set is a superset of required.
func (d *Deployment) HasTags(required []string) bool {
	for _, tag := range required {
		if !slices.Contains(d.Tags, tag) {
			return false
		}
	}
	return true
}

// Cost returns the combined per-token price used by cost-based routing.
func (d *Deployment) Cost() float64 {
	return d.InputCostPerToken + d.OutputCostPerToken
}

// Param returns a string provider parameter, or "" when absent.
func (d *Deployment) Param(key string) string {
	if v, ok := d.Params[key].(string); ok {
		return v
	}
	return ""
}

func providerFromModel(model string) string {
	if prefix, _, ok := strings.Cut(model, "/"); ok {
		return prefix
	}
	return ""
}
