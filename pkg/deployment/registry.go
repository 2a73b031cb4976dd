package deployment

import (
	"fmt"
	"strings"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// idNamespace seeds deterministic deployment IDs so every gateway process
// sharing a state store derives the same ID from the same configuration.
var idNamespace = uuid.MustParse("6f1c3b0e-2f7a-4a53-9a47-0c6a9d6a3e21")

// Entry is one model_list item as supplied by configuration.
type Entry struct {
	ModelName          string
	DeploymentID       string
	Params             map[string]any
	Weight             *int
	Priority           int
	Tags               []string
	InputCostPerToken  float64
	OutputCostPerToken float64
	RPMLimit           int64
	TPMLimit           int64
}

// Registry maps model groups to ordered deployment lists.
// It is never mutated after construction; reloads build a new one.
type Registry struct {
	groups map[string][]*Deployment
	byID   map[string]*Deployment
	order  []string
}

type registryOptions struct {
	allowPrivateBaseURL bool
}

// RegistryOption configures NewRegistry.
type RegistryOption func(*registryOptions)

// AllowPrivateBaseURL permits loopback and private api_base hosts.
func AllowPrivateBaseURL() RegistryOption {
	return func(o *registryOptions) { o.allowPrivateBaseURL = true }
}

// NewRegistry builds a registry from configuration entries, preserving entry
// order within each model group.
func NewRegistry(entries []Entry, opts ...RegistryOption) (*Registry, error) {
	var o registryOptions
	for _, opt := range opts {
		opt(&o)
	}

	r := &Registry{
		groups: make(map[string][]*Deployment),
		byID:   make(map[string]*Deployment, len(entries)),
	}

	for i, e := range entries {
		if strings.TrimSpace(e.ModelName) == "" {
			return nil, fmt.Errorf("model_list[%d]: model_name is required", i)
		}
		d, err := newDeployment(e, o)
		if err != nil {
			return nil, fmt.Errorf("model_list[%d] (%s): %w", i, e.ModelName, err)
		}
		if _, dup := r.byID[d.ID]; dup {
			return nil, fmt.Errorf("model_list[%d] (%s): duplicate deployment_id %q", i, e.ModelName, d.ID)
		}
		if _, seen := r.groups[d.ModelName]; !seen {
			r.order = append(r.order, d.ModelName)
		}
		r.groups[d.ModelName] = append(r.groups[d.ModelName], d)
		r.byID[d.ID] = d
	}
	return r, nil
}

func newDeployment(e Entry, o registryOptions) (*Deployment, error) {
	weight := 1
	if e.Weight != nil {
		weight = *e.Weight
	}
	if weight < 0 {
		return nil, fmt.Errorf("weight must be >= 0, got %d", weight)
	}
	if e.InputCostPerToken < 0 || e.OutputCostPerToken < 0 {
		return nil, fmt.Errorf("token costs must be non-negative")
	}
	if e.RPMLimit < 0 || e.TPMLimit < 0 {
		return nil, fmt.Errorf("rpm/tpm limits must be positive when set")
	}

	params := make(map[string]any, len(e.Params))
	for k, v := range e.Params {
		params[k] = v
	}

	d := &Deployment{
		ID:                 e.DeploymentID,
		ModelName:          e.ModelName,
		Params:             params,
		Weight:             weight,
		Priority:           e.Priority,
		Tags:               append([]string(nil), e.Tags...),
		InputCostPerToken:  e.InputCostPerToken,
		OutputCostPerToken: e.OutputCostPerToken,
		RPMLimit:           e.RPMLimit,
		TPMLimit:           e.TPMLimit,
	}
	d.Provider = providerFromModel(d.Param("model"))
	d.BaseURL = d.Param("api_base")

	if d.BaseURL != "" {
		if err := ValidateBaseURL(d.BaseURL, o.allowPrivateBaseURL); err != nil {
			return nil, err
		}
	}

	if d.ID == "" {
		id, err := deriveID(e.ModelName, params)
		if err != nil {
			return nil, err
		}
		d.ID = id
	}
	return d, nil
}

// deriveID hashes the model group and non-secret params.
func deriveID(modelName string, params map[string]any) (string, error) {
	public := make(map[string]any, len(params))
	for k, v := range params {
		if k == "api_key" {
			continue
		}
		public[k] = v
	}
	raw, err := json.Marshal(struct {
		ModelName string         `json:"model_name"`
		Params    map[string]any `json:"params"`
	}{modelName, public})
	if err != nil {
		return "", fmt.Errorf("derive deployment id: %w", err)
	}
	return uuid.NewSHA1(idNamespace, raw).String(), nil
}

// Group returns the deployments configured for a model group.
// The returned slice is shared and must not be modified.
func (r *Registry) Group(name string) []*Deployment {
	if r == nil {
		return nil
	}
	return r.groups[name]
}

// Get looks a deployment up by ID.
func (r *Registry) Get(id string) (*Deployment, bool) {
	if r == nil {
		return nil, false
	}
	d, ok := r.byID[id]
	return d, ok
}

// Groups returns model group names in configuration order.
func (r *Registry) Groups() []string {
	if r == nil {
		return nil
	}
	return append([]string(nil), r.order...)
}

// All returns every deployment, grouped in configuration order.
func (r *Registry) All() []*Deployment {
	if r == nil {
		return nil
	}
	out := make([]*Deployment, 0, len(r.byID))
	for _, g := range r.order {
		out = append(out, r.groups[g]...)
	}
	return out
}

// Len returns the number of deployments.
func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.byID)
}
