// Package metrics exposes deployment routing state as Prometheus metrics.
package metrics

import (
	"context"
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/blueberrycongee/llmroute/internal/cooldown"
	"github.com/blueberrycongee/llmroute/internal/failover"
	"github.com/blueberrycongee/llmroute/internal/resilience"
	llmerrors "github.com/blueberrycongee/llmroute/pkg/errors"
)

const namespace = "llmroute"

// LatencyBuckets defines histogram buckets for HTTP latency (in seconds).
var LatencyBuckets = []float64{
	0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// Metrics holds every collector of the routing engine. Collectors are
// registered on the registerer given to New.
type Metrics struct {
	// DeploymentHealthy is 1 while a deployment's health flag is set.
	DeploymentHealthy *prometheus.GaugeVec
	// DeploymentInCooldown is 1 while a deployment is cooling down.
	DeploymentInCooldown *prometheus.GaugeVec
	// ActiveRequests tracks in-flight attempts per deployment.
	ActiveRequests *prometheus.GaugeVec
	// DeploymentLatency is the rolling average attempt latency.
	DeploymentLatency *prometheus.GaugeVec
	// DeploymentCooledDown counts cooldown entries.
	DeploymentCooledDown *prometheus.CounterVec

	FallbackSuccessful *prometheus.CounterVec
	FallbackFailed     *prometheus.CounterVec

	// CircuitBreakerState tracks the state store breaker (0=closed, 1=open, 2=half-open).
	CircuitBreakerState *prometheus.GaugeVec

	RequestLatency *prometheus.HistogramVec
}

// New creates and registers the collectors. A nil registerer creates
// unregistered collectors.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	deploymentLabels := []string{"deployment_id", "model_group"}

	return &Metrics{
		DeploymentHealthy: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "deployment_healthy",
			Help:      "Deployment health flag (1=healthy, 0=unhealthy)",
		}, deploymentLabels),
		DeploymentInCooldown: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "deployment_in_cooldown",
			Help:      "Deployment cooldown flag (1=cooling down)",
		}, deploymentLabels),
		ActiveRequests: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_requests",
			Help:      "Number of in-flight attempts per deployment",
		}, deploymentLabels),
		DeploymentLatency: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "deployment_latency_avg_ms",
			Help:      "Average attempt latency over the rolling window in milliseconds",
		}, deploymentLabels),
		DeploymentCooledDown: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deployment_cooled_down_total",
			Help:      "Number of times a deployment entered cooldown",
		}, []string{"deployment_id"}),
		FallbackSuccessful: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fallback_successful_total",
			Help:      "Number of successful fallback attempts",
		}, []string{"original_model", "fallback_model"}),
		FallbackFailed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fallback_failed_total",
			Help:      "Number of failed fallback attempts",
		}, []string{"original_model", "fallback_model", "exception_class"}),
		CircuitBreakerState: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_state",
			Help:      "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		}, []string{"breaker"}),
		RequestLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Latency of requests served by the gateway's own HTTP endpoints",
			Buckets:   LatencyBuckets,
		}, []string{"path", "code"}),
	}
}

// SetDeploymentHealthy implements healthcheck.MetricsSink.
func (m *Metrics) SetDeploymentHealthy(id, model string, healthy bool) {
	m.DeploymentHealthy.WithLabelValues(id, sanitizeModelLabel(model)).Set(boolGauge(healthy))
}

// SetDeploymentCooldown implements healthcheck.MetricsSink.
func (m *Metrics) SetDeploymentCooldown(id, model string, inCooldown bool) {
	m.DeploymentInCooldown.WithLabelValues(id, sanitizeModelLabel(model)).Set(boolGauge(inCooldown))
}

// SetDeploymentActive implements healthcheck.MetricsSink.
func (m *Metrics) SetDeploymentActive(id, model string, active int64) {
	m.ActiveRequests.WithLabelValues(id, sanitizeModelLabel(model)).Set(float64(active))
}

// SetDeploymentLatency implements healthcheck.MetricsSink.
func (m *Metrics) SetDeploymentLatency(id, model string, latencyMs float64) {
	m.DeploymentLatency.WithLabelValues(id, sanitizeModelLabel(model)).Set(latencyMs)
}

// CooldownAlert returns an alert sink that counts cooldown entries.
func (m *Metrics) CooldownAlert() cooldown.AlertFunc {
	return func(_ context.Context, event cooldown.Event) {
		m.DeploymentCooledDown.WithLabelValues(event.DeploymentID).Inc()
	}
}

// FallbackReporter returns a reporter that counts fallback outcomes.
func (m *Metrics) FallbackReporter() failover.FallbackReporter {
	return func(_ context.Context, group, fallbackGroup string, err error, success bool) {
		original, fallback := sanitizeModelLabel(group), sanitizeModelLabel(fallbackGroup)
		if success {
			m.FallbackSuccessful.WithLabelValues(original, fallback).Inc()
			return
		}
		m.FallbackFailed.WithLabelValues(original, fallback, exceptionClass(err)).Inc()
	}
}

// ObserveBreaker records circuit breaker transitions.
func (m *Metrics) ObserveBreaker(name string, _, to resilience.CircuitState) {
	m.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
}

func exceptionClass(err error) string {
	if err == nil {
		return "none"
	}
	var llmErr *llmerrors.LLMError
	if errors.As(err, &llmErr) && llmErr.Type != "" {
		return llmErr.Type
	}
	return llmerrors.Classify(err).String()
}

func boolGauge(v bool) float64 {
	if v {
		return 1
	}
	return 0
}
