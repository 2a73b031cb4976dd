package routers

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/blueberrycongee/llmroute/pkg/deployment"
)

func TestCostRouter_PicksCheapest(t *testing.T) {
	price := func(in, out float64) func(*deployment.Deployment) {
		return func(d *deployment.Deployment) {
			d.InputCostPerToken = in
			d.OutputCostPerToken = out
		}
	}
	candidates := []*deployment.Deployment{
		dep("gpt-4", price(0.00003, 0.00006)),
		dep("gpt-4o-mini", price(0.00000015, 0.0000006)),
		dep("gpt-4o", price(0.0000025, 0.00001)),
	}

	r := NewCostRouter(WithSeed(1))
	got := r.Select(context.Background(), candidates, nil)
	assert.Equal(t, "gpt-4o-mini", got.ID)
}

func TestCostRouter_TieBreakStaysWithinCheapest(t *testing.T) {
	candidates := []*deployment.Deployment{dep("a"), dep("b"), dep("c", func(d *deployment.Deployment) { d.InputCostPerToken = 1 })}
	r := NewCostRouter(WithSeed(4))

	counts := countPicks(1000, func() *deployment.Deployment {
		return r.Select(context.Background(), candidates, nil)
	})
	assert.Zero(t, counts["c"])
	assert.Positive(t, counts["a"])
	assert.Positive(t, counts["b"])
}
