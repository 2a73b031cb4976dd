package healthcheck

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type gaugeSink struct {
	mu       sync.Mutex
	healthy  map[string]bool
	cooldown map[string]bool
	active   map[string]int64
	latency  map[string]float64
}

func newGaugeSink() *gaugeSink {
	return &gaugeSink{
		healthy:  map[string]bool{},
		cooldown: map[string]bool{},
		active:   map[string]int64{},
		latency:  map[string]float64{},
	}
}

func (s *gaugeSink) SetDeploymentHealthy(id, _ string, healthy bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.healthy[id] = healthy
}

func (s *gaugeSink) SetDeploymentCooldown(id, _ string, in bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cooldown[id] = in
}

func (s *gaugeSink) SetDeploymentActive(id, _ string, n int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active[id] = n
}

func (s *gaugeSink) SetDeploymentLatency(id, _ string, ms float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latency[id] = ms
}

func TestReporter_DegradedWhenOneCooledDown(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.cooldowns.ManualCooldown(ctx, "dep-b", time.Minute, "tripped")
	e.backend.IncrementActive(ctx, "dep-a")
	e.backend.RecordLatency(ctx, "dep-a", 100)
	e.backend.RecordLatency(ctx, "dep-a", 300)

	sink := newGaugeSink()
	reporter := NewReporter(StaticSource{Registry: e.registry}, e.backend, WithMetricsSink(sink))
	status := reporter.Status(ctx, "")

	assert.Equal(t, StatusDegraded, status.Status)
	assert.Equal(t, 2, status.HealthyCount)
	assert.Equal(t, 3, status.TotalCount)
	require.Len(t, status.Deployments, 3)

	a := status.Deployments[0]
	assert.Equal(t, "dep-a", a.DeploymentID)
	assert.EqualValues(t, 1, a.ActiveRequests)
	require.NotNil(t, a.AvgLatencyMs)
	assert.InDelta(t, 200, *a.AvgLatencyMs, 0.001)

	b := status.Deployments[1]
	assert.True(t, b.InCooldown)
	assert.False(t, b.Eligible())

	assert.True(t, sink.cooldown["dep-b"])
	assert.False(t, sink.cooldown["dep-a"])
	assert.EqualValues(t, 1, sink.active["dep-a"])
	assert.InDelta(t, 200, sink.latency["dep-a"], 0.001)
	assert.NotContains(t, sink.latency, "dep-c")
}

func TestReporter_OverallStatus(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	reporter := NewReporter(StaticSource{Registry: e.registry}, e.backend)

	assert.Equal(t, StatusHealthy, reporter.Status(ctx, "").Status)

	e.backend.SetHealth(ctx, "dep-a", false)
	e.backend.SetHealth(ctx, "dep-b", false)
	gpt := reporter.Status(ctx, "gpt-4")
	assert.Equal(t, StatusUnhealthy, gpt.Status)
	assert.Equal(t, 2, gpt.TotalCount)
	assert.Equal(t, StatusHealthy, reporter.Status(ctx, "claude").Status)

	empty := reporter.Status(ctx, "unknown")
	assert.Equal(t, StatusUnhealthy, empty.Status)
	assert.NotNil(t, empty.Deployments)
}

func TestReporter_HandlerShape(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.backend.RecordFailure(ctx, "dep-c", assert.AnError)
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	reporter := NewReporter(StaticSource{Registry: e.registry}, e.backend,
		WithReporterClock(func() time.Time { return fixed }),
		WithReporterLogger(quietLogger()))

	rec := httptest.NewRecorder()
	reporter.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/deployments?model=claude", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "2026-03-01T12:00:00Z", body["timestamp"])
	assert.EqualValues(t, 1, body["healthy_count"])
	assert.EqualValues(t, 1, body["total_count"])

	rows := body["deployments"].([]any)
	require.Len(t, rows, 1)
	row := rows[0].(map[string]any)
	for _, key := range []string{
		"deployment_id", "model", "healthy", "in_cooldown", "active_requests",
		"consecutive_failures", "last_error", "last_error_at", "last_success_at", "avg_latency_ms",
	} {
		assert.Contains(t, row, key)
	}
	assert.Equal(t, "dep-c", row["deployment_id"])
	assert.EqualValues(t, 1, row["consecutive_failures"])
	assert.Equal(t, assert.AnError.Error(), row["last_error"])
	assert.Nil(t, row["last_success_at"])
	assert.Nil(t, row["avg_latency_ms"])
}

func TestReporter_HandlerUnhealthyIs503(t *testing.T) {
	e := newEnv(t)
	e.backend.SetHealth(context.Background(), "dep-c", false)
	reporter := NewReporter(StaticSource{Registry: e.registry}, e.backend)

	rec := httptest.NewRecorder()
	reporter.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/deployments?model=claude", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = httptest.NewRecorder()
	reporter.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/health/deployments", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
