package routers

import (
	"context"
	"math"
	"time"

	"github.com/blueberrycongee/llmroute/pkg/deployment"
	"github.com/blueberrycongee/llmroute/pkg/router"
)

// DefaultLatencyHalfLife is the age at which a latency sample counts half as much as a fresh one.
const DefaultLatencyHalfLife = 60 * time.Second

// LatencyRouter selects the deployment with the lowest time-decayed average
// latency. Deployments without samples rank behind every deployment with data.
type LatencyRouter struct {
	*picker
	state    router.StateReader
	window   time.Duration
	halfLife time.Duration
	now      func() time.Time
}

// NewLatencyRouter creates a lowest-latency strategy reading samples from
// the given trailing window.
func NewLatencyRouter(state router.StateReader, window time.Duration, opts ...Option) *LatencyRouter {
	if window <= 0 {
		window = 5 * time.Minute
	}
	o := buildOptions(opts)
	return &LatencyRouter{
		picker:   newPicker(o.seed),
		state:    state,
		window:   window,
		halfLife: DefaultLatencyHalfLife,
		now:      o.clock,
	}
}

// Select implements router.Selector.
func (r *LatencyRouter) Select(ctx context.Context, candidates []*deployment.Deployment, _ *router.RequestContext) *deployment.Deployment {
	if len(candidates) == 0 {
		return nil
	}
	windows := r.state.GetLatencyWindowBatch(ctx, candidateIDs(candidates), r.window)
	now := r.now()

	scores := make(map[string]float64, len(candidates))
	withData := false
	for _, d := range candidates {
		scores[d.ID] = DecayedAverage(windows[d.ID], now, r.halfLife)
		if !math.IsInf(scores[d.ID], 1) {
			withData = true
		}
	}
	if !withData {
		return r.pickByWeight(candidates)
	}

	fastest := lowest(candidates, func(d *deployment.Deployment) float64 { return scores[d.ID] })
	return r.pickByWeight(fastest)
}

// DecayedAverage weights each sample by 0.5^(age/halfLife). An empty window
// averages to +Inf.
func DecayedAverage(samples []router.LatencySample, now time.Time, halfLife time.Duration) float64 {
	if len(samples) == 0 {
		return math.Inf(1)
	}
	var sum, weights float64
	for _, s := range samples {
		age := now.Sub(s.Timestamp)
		if age < 0 {
			age = 0
		}
		w := math.Exp2(-age.Seconds() / halfLife.Seconds())
		sum += w * s.LatencyMs
		weights += w
	}
	if weights == 0 {
		return math.Inf(1)
	}
	return sum / weights
}
