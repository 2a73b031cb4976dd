// Package routers provides the deployment selection strategies used by the
// router. Every strategy receives a candidate list that has already been
// filtered for health, cooldown and admission limits.
package routers

import (
	"math/rand"
	"sync"
	"time"

	"github.com/blueberrycongee/llmroute/pkg/deployment"
	"github.com/blueberrycongee/llmroute/pkg/router"
)

type options struct {
	seed  int64
	clock func() time.Time
}

// Option configures strategy construction.
type Option func(*options)

// WithSeed fixes the random source, for reproducible draws in tests.
func WithSeed(seed int64) Option {
	return func(o *options) { o.seed = seed }
}

// WithClock overrides the clock used to age latency samples.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.clock = now }
}

func buildOptions(opts []Option) options {
	o := options{seed: time.Now().UnixNano(), clock: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// picker is a mutex-guarded random source shared by the weighted draws.
type picker struct {
	rngMu sync.Mutex
	rng   *rand.Rand
}

func newPicker(seed int64) *picker {
	return &picker{rng: rand.New(rand.NewSource(seed))}
}

func (p *picker) randIntn(n int) int {
	p.rngMu.Lock()
	defer p.rngMu.Unlock()
	return p.rng.Intn(n)
}

func (p *picker) randFloat64() float64 {
	p.rngMu.Lock()
	defer p.rngMu.Unlock()
	return p.rng.Float64()
}

// weightedPick draws proportionally to weightOf. It returns nil when no
// candidate has a positive weight.
func (p *picker) weightedPick(candidates []*deployment.Deployment, weightOf func(*deployment.Deployment) float64) *deployment.Deployment {
	var total float64
	for _, d := range candidates {
		if w := weightOf(d); w > 0 {
			total += w
		}
	}
	if total == 0 {
		return nil
	}

	target := p.randFloat64() * total
	var cumulative float64
	for _, d := range candidates {
		w := weightOf(d)
		if w <= 0 {
			continue
		}
		cumulative += w
		if target < cumulative {
			return d
		}
	}

	for i := len(candidates) - 1; i >= 0; i-- {
		if weightOf(candidates[i]) > 0 {
			return candidates[i]
		}
	}
	return nil
}

// pickByWeight draws by deployment weight, uniformly when every weight is zero.
func (p *picker) pickByWeight(candidates []*deployment.Deployment) *deployment.Deployment {
	if len(candidates) == 0 {
		return nil
	}
	if d := p.weightedPick(candidates, byWeight); d != nil {
		return d
	}
	return candidates[p.randIntn(len(candidates))]
}

func byWeight(d *deployment.Deployment) float64 { return float64(d.Weight) }

// lowest keeps the candidates whose score equals the minimum.
func lowest(candidates []*deployment.Deployment, score func(*deployment.Deployment) float64) []*deployment.Deployment {
	var out []*deployment.Deployment
	var best float64
	for _, d := range candidates {
		s := score(d)
		switch {
		case len(out) == 0 || s < best:
			best = s
			out = append(out[:0], d)
		case s == best:
			out = append(out, d)
		}
	}
	return out
}

func candidateIDs(candidates []*deployment.Deployment) []string {
	ids := make([]string, len(candidates))
	for i, d := range candidates {
		ids[i] = d.ID
	}
	return ids
}

// utilisation returns max(rpm/rpm_limit, tpm/tpm_limit); zero without limits.
func utilisation(d *deployment.Deployment, u router.Usage) float64 {
	var util float64
	if d.RPMLimit > 0 {
		util = float64(u.RPM) / float64(d.RPMLimit)
	}
	if d.TPMLimit > 0 {
		if t := float64(u.TPM) / float64(d.TPMLimit); t > util {
			util = t
		}
	}
	return util
}
