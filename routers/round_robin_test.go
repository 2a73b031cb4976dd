package routers

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/blueberrycongee/llmroute/pkg/deployment"
)

func TestRoundRobinRouter_RotatesInOrder(t *testing.T) {
	r := NewRoundRobinRouter(nil)
	candidates := []*deployment.Deployment{dep("dep-a"), dep("dep-b"), dep("dep-c")}

	picks := make([]string, 0, 6)
	for i := 0; i < 6; i++ {
		picks = append(picks, r.Select(context.Background(), candidates, nil).ID)
	}
	assert.Equal(t, []string{"dep-a", "dep-b", "dep-c", "dep-a", "dep-b", "dep-c"}, picks)
}

func TestRoundRobinRouter_ConcurrentFairness(t *testing.T) {
	r := NewRoundRobinRouter(nil)
	candidates := []*deployment.Deployment{dep("dep-a"), dep("dep-b"), dep("dep-c")}

	const goroutines = 30
	const picksPerGoroutine = 30

	var mu sync.Mutex
	counts := make(map[string]int)
	var wg sync.WaitGroup
	wg.Add(goroutines)
	for g := 0; g < goroutines; g++ {
		go func() {
			defer wg.Done()
			for i := 0; i < picksPerGoroutine; i++ {
				d := r.Select(context.Background(), candidates, nil)
				mu.Lock()
				counts[d.ID]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	for _, id := range []string{"dep-a", "dep-b", "dep-c"} {
		assert.Equal(t, goroutines*picksPerGoroutine/3, counts[id], id)
	}
}

type sharedCounter struct {
	mu   sync.Mutex
	n    map[string]int
	fail bool
}

func (c *sharedCounter) NextIndex(_ context.Context, key string, modulo int) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return 0, errors.New("store unavailable")
	}
	if c.n == nil {
		c.n = make(map[string]int)
	}
	idx := c.n[key] % modulo
	c.n[key]++
	return idx, nil
}

func TestRoundRobinRouter_SharedCounterSpansInstances(t *testing.T) {
	shared := &sharedCounter{}
	first, second := NewRoundRobinRouter(shared), NewRoundRobinRouter(shared)
	candidates := []*deployment.Deployment{dep("dep-a"), dep("dep-b"), dep("dep-c")}
	ctx := context.Background()

	picks := []string{
		first.Select(ctx, candidates, nil).ID,
		second.Select(ctx, candidates, nil).ID,
		first.Select(ctx, candidates, nil).ID,
		second.Select(ctx, candidates, nil).ID,
	}
	assert.Equal(t, []string{"dep-a", "dep-b", "dep-c", "dep-a"}, picks)
}

func TestRoundRobinRouter_FallsBackToLocalCounter(t *testing.T) {
	r := NewRoundRobinRouter(&sharedCounter{fail: true})
	candidates := []*deployment.Deployment{dep("dep-a"), dep("dep-b")}

	assert.Equal(t, "dep-a", r.Select(context.Background(), candidates, nil).ID)
	assert.Equal(t, "dep-b", r.Select(context.Background(), candidates, nil).ID)
}
