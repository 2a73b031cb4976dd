package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blueberrycongee/llmroute/internal/cooldown"
	"github.com/blueberrycongee/llmroute/internal/resilience"
	llmerrors "github.com/blueberrycongee/llmroute/pkg/errors"
)

func TestMetrics_DeploymentGauges(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.SetDeploymentHealthy("dep-a", "openai/gpt-4", true)
	m.SetDeploymentCooldown("dep-a", "openai/gpt-4", true)
	m.SetDeploymentActive("dep-a", "openai/gpt-4", 4)
	m.SetDeploymentLatency("dep-a", "openai/gpt-4", 250)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.DeploymentHealthy.WithLabelValues("dep-a", "gpt-4")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DeploymentInCooldown.WithLabelValues("dep-a", "gpt-4")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.ActiveRequests.WithLabelValues("dep-a", "gpt-4")))
	assert.Equal(t, 250.0, testutil.ToFloat64(m.DeploymentLatency.WithLabelValues("dep-a", "gpt-4")))

	m.SetDeploymentHealthy("dep-a", "openai/gpt-4", false)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.DeploymentHealthy.WithLabelValues("dep-a", "gpt-4")))
}

func TestMetrics_CooldownAlert(t *testing.T) {
	m := New(prometheus.NewRegistry())
	alert := m.CooldownAlert()

	alert(context.Background(), cooldown.Event{DeploymentID: "dep-a", CooldownUntil: time.Now()})
	alert(context.Background(), cooldown.Event{DeploymentID: "dep-a", CooldownUntil: time.Now()})

	assert.Equal(t, 2.0, testutil.ToFloat64(m.DeploymentCooledDown.WithLabelValues("dep-a")))
}

func TestMetrics_FallbackReporter(t *testing.T) {
	m := New(prometheus.NewRegistry())
	report := m.FallbackReporter()
	ctx := context.Background()

	report(ctx, "gpt-4", "claude", nil, true)
	report(ctx, "gpt-4", "claude", llmerrors.NewRateLimitError("anthropic", "claude", "slow"), false)
	report(ctx, "gpt-4", "claude", llmerrors.ErrAttemptTimeout, false)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.FallbackSuccessful.WithLabelValues("gpt-4", "claude")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FallbackFailed.WithLabelValues("gpt-4", "claude", llmerrors.TypeRateLimit)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FallbackFailed.WithLabelValues("gpt-4", "claude", "attempt_timeout")))
}

func TestMetrics_ObserveBreaker(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveBreaker("state-store", resilience.StateClosed, resilience.StateOpen)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CircuitBreakerState.WithLabelValues("state-store")))

	m.ObserveBreaker("state-store", resilience.StateOpen, resilience.StateHalfOpen)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.CircuitBreakerState.WithLabelValues("state-store")))
}

func TestNew_RegistersOnce(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)
	require.Panics(t, func() { New(reg) }, "duplicate registration must be detected")
	assert.NotPanics(t, func() { New(nil) })
}
