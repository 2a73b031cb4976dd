package healthcheck

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blueberrycongee/llmroute/pkg/deployment"
	"github.com/blueberrycongee/llmroute/pkg/router"
)

func TestProber_RunOnce_FailureMarksUnhealthy(t *testing.T) {
	e := newEnv(t)
	prober := NewProber(Config{Enabled: true, Timeout: time.Second}, StaticSource{Registry: e.registry},
		func(ctx context.Context, d *deployment.Deployment) bool { return d.ID != "dep-a" },
		e.backend, quietLogger())

	prober.runOnce(context.Background())

	health := e.backend.GetHealthBatch(context.Background(), []string{"dep-a", "dep-b"})
	assert.False(t, health["dep-a"].Healthy)
	assert.Equal(t, 1, health["dep-a"].ConsecutiveFailures)
	assert.Equal(t, "health probe failed", health["dep-a"].LastError)
	assert.True(t, health["dep-b"].Healthy)
	assert.False(t, health["dep-b"].LastSuccessAt.IsZero())
}

func TestProber_RunOnce_SuccessClearsCooldown(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	require.NotNil(t, e.cooldowns.ManualCooldown(ctx, "dep-a", 5*time.Minute, "tripped"))
	e.backend.SetHealth(ctx, "dep-b", false)

	prober := NewProber(Config{Enabled: true}, StaticSource{Registry: e.registry},
		func(context.Context, *deployment.Deployment) bool { return true },
		e.backend, quietLogger())
	prober.runOnce(ctx)

	assert.False(t, e.backend.IsCooledDown(ctx, "dep-a"))
	health := e.backend.GetHealthBatch(ctx, []string{"dep-a", "dep-b"})
	assert.True(t, router.Eligible(health["dep-a"], nil))
	assert.True(t, health["dep-b"].Healthy, "probe success restores a sticky unhealthy mark")
}

func TestProber_RunOnce_TimeoutIsFailure(t *testing.T) {
	e := newEnv(t)
	release := make(chan struct{})
	defer close(release)

	prober := NewProber(Config{Enabled: true, Timeout: 10 * time.Millisecond}, StaticSource{Registry: e.registry},
		func(ctx context.Context, d *deployment.Deployment) bool {
			if d.ID == "dep-c" {
				<-release
			}
			return true
		},
		e.backend, quietLogger())
	prober.runOnce(context.Background())

	h := router.HealthOf(e.backend.GetHealthBatch(context.Background(), []string{"dep-c"}), "dep-c")
	assert.False(t, h.Healthy)
	assert.Equal(t, "health probe timed out", h.LastError)
}

func TestProber_StartStop(t *testing.T) {
	e := newEnv(t)
	var probes atomic.Int32
	prober := NewProber(Config{Enabled: true, Interval: 10 * time.Millisecond, Timeout: time.Second},
		StaticSource{Registry: e.registry},
		func(ctx context.Context, d *deployment.Deployment) bool {
			probes.Add(1)
			return true
		},
		e.backend, quietLogger())

	prober.Start(context.Background())
	prober.Start(context.Background())

	require.Eventually(t, func() bool { return probes.Load() >= 6 }, time.Second, 5*time.Millisecond)
	prober.Stop()

	after := probes.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, after, probes.Load(), "no probes after Stop")
}

func TestProber_DisabledIsNoop(t *testing.T) {
	e := newEnv(t)
	var probes atomic.Int32
	prober := NewProber(Config{Interval: time.Millisecond}, StaticSource{Registry: e.registry},
		func(context.Context, *deployment.Deployment) bool {
			probes.Add(1)
			return true
		},
		e.backend, quietLogger())

	prober.Start(context.Background())
	time.Sleep(10 * time.Millisecond)
	prober.Stop()
	assert.Zero(t, probes.Load())
}

func TestProber_StopCancelsInFlightProbes(t *testing.T) {
	e := newEnv(t)
	started := make(chan struct{}, 3)
	prober := NewProber(Config{Enabled: true, Interval: time.Hour, Timeout: time.Hour},
		StaticSource{Registry: e.registry},
		func(ctx context.Context, d *deployment.Deployment) bool {
			started <- struct{}{}
			<-ctx.Done()
			return false
		},
		e.backend, quietLogger())

	prober.Start(context.Background())
	<-started

	done := make(chan struct{})
	go func() {
		prober.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop did not return")
	}

	health := e.backend.GetHealthBatch(context.Background(), []string{"dep-a"})
	assert.Zero(t, health["dep-a"].ConsecutiveFailures, "cancelled probes are not failures")
}
