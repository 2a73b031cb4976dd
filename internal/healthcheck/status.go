package healthcheck

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"github.com/blueberrycongee/llmroute/pkg/deployment"
	"github.com/blueberrycongee/llmroute/pkg/router"
)

// Overall status values.
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// Status is the aggregated health report. Its JSON shape is consumed by
// operator tooling and must stay stable.
type Status struct {
	Status       string             `json:"status"`
	Timestamp    time.Time          `json:"timestamp"`
	HealthyCount int                `json:"healthy_count"`
	TotalCount   int                `json:"total_count"`
	Deployments  []DeploymentStatus `json:"deployments"`
}

// DeploymentStatus is one row of the report. Optional facts encode as null.
type DeploymentStatus struct {
	DeploymentID        string     `json:"deployment_id"`
	Model               string     `json:"model"`
	Healthy             bool       `json:"healthy"`
	InCooldown          bool       `json:"in_cooldown"`
	ActiveRequests      int64      `json:"active_requests"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	LastError           *string    `json:"last_error"`
	LastErrorAt         *time.Time `json:"last_error_at"`
	LastSuccessAt       *time.Time `json:"last_success_at"`
	AvgLatencyMs        *float64   `json:"avg_latency_ms"`
}

// Eligible reports whether the deployment may currently be selected.
func (d DeploymentStatus) Eligible() bool {
	return d.Healthy && !d.InCooldown
}

// MetricsSink receives per-deployment gauges on every status query.
type MetricsSink interface {
	SetDeploymentHealthy(id, model string, healthy bool)
	SetDeploymentCooldown(id, model string, inCooldown bool)
	SetDeploymentActive(id, model string, active int64)
	SetDeploymentLatency(id, model string, latencyMs float64)
}

// Reporter builds status reports from runtime state.
type Reporter struct {
	source DeploymentSource
	state  router.StateReader
	sink   MetricsSink
	window time.Duration
	now    func() time.Time
	logger *slog.Logger
}

// ReporterOption configures a Reporter.
type ReporterOption func(*Reporter)

// WithMetricsSink pushes gauges to sink on every query.
func WithMetricsSink(sink MetricsSink) ReporterOption {
	return func(r *Reporter) { r.sink = sink }
}

// WithLatencyWindow sets the window the average latency is computed over.
// Zero uses the state backend's own window.
func WithLatencyWindow(d time.Duration) ReporterOption {
	return func(r *Reporter) { r.window = d }
}

// WithReporterClock overrides the report timestamp clock.
func WithReporterClock(now func() time.Time) ReporterOption {
	return func(r *Reporter) {
		if now != nil {
			r.now = now
		}
	}
}

// WithReporterLogger sets the logger used by the HTTP handler.
func WithReporterLogger(logger *slog.Logger) ReporterOption {
	return func(r *Reporter) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewReporter creates a status reporter.
func NewReporter(source DeploymentSource, state router.StateReader, opts ...ReporterOption) *Reporter {
	r := &Reporter{
		source: source,
		state:  state,
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Status aggregates the state of every deployment, or only those of
// modelFilter when it is not empty.
func (r *Reporter) Status(ctx context.Context, modelFilter string) *Status {
	deployments := r.source.Deployments()
	if modelFilter != "" {
		filtered := deployments[:0:0]
		for _, d := range deployments {
			if d.ModelName == modelFilter {
				filtered = append(filtered, d)
			}
		}
		deployments = filtered
	}

	ids := make([]string, len(deployments))
	for i, d := range deployments {
		ids[i] = d.ID
	}

	health := r.state.GetHealthBatch(ctx, ids)
	cooldowns := r.state.GetCooldownBatch(ctx, ids)
	active := r.state.GetActiveBatch(ctx, ids)
	latency := r.state.GetLatencyWindowBatch(ctx, ids, r.window)

	report := &Status{
		Timestamp:   r.now().UTC(),
		TotalCount:  len(deployments),
		Deployments: make([]DeploymentStatus, 0, len(deployments)),
	}
	for _, d := range deployments {
		row := buildRow(d, router.HealthOf(health, d.ID), cooldowns[d.ID], active[d.ID], latency[d.ID])
		if row.Eligible() {
			report.HealthyCount++
		}
		report.Deployments = append(report.Deployments, row)
		r.push(d, row)
	}

	switch {
	case report.TotalCount > 0 && report.HealthyCount == report.TotalCount:
		report.Status = StatusHealthy
	case report.HealthyCount == 0:
		report.Status = StatusUnhealthy
	default:
		report.Status = StatusDegraded
	}
	return report
}

func buildRow(d *deployment.Deployment, h router.Health, cd *router.Cooldown, active int64, samples []router.LatencySample) DeploymentStatus {
	row := DeploymentStatus{
		DeploymentID:        d.ID,
		Model:               d.ModelName,
		Healthy:             h.Healthy,
		InCooldown:          cd != nil,
		ActiveRequests:      active,
		ConsecutiveFailures: h.ConsecutiveFailures,
	}
	if h.LastError != "" {
		msg := h.LastError
		row.LastError = &msg
	}
	if !h.LastErrorAt.IsZero() {
		at := h.LastErrorAt.UTC()
		row.LastErrorAt = &at
	}
	if !h.LastSuccessAt.IsZero() {
		at := h.LastSuccessAt.UTC()
		row.LastSuccessAt = &at
	}
	if len(samples) > 0 {
		var sum float64
		for _, s := range samples {
			sum += s.LatencyMs
		}
		avg := sum / float64(len(samples))
		row.AvgLatencyMs = &avg
	}
	return row
}

func (r *Reporter) push(d *deployment.Deployment, row DeploymentStatus) {
	if r.sink == nil {
		return
	}
	r.sink.SetDeploymentHealthy(d.ID, d.ModelName, row.Healthy)
	r.sink.SetDeploymentCooldown(d.ID, d.ModelName, row.InCooldown)
	r.sink.SetDeploymentActive(d.ID, d.ModelName, row.ActiveRequests)
	if row.AvgLatencyMs != nil {
		r.sink.SetDeploymentLatency(d.ID, d.ModelName, *row.AvgLatencyMs)
	}
}

// Handler serves the report as JSON. The optional "model" query parameter
// filters by model group. Unhealthy reports are served with 503.
func (r *Reporter) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodGet && req.Method != http.MethodHead {
			w.Header().Set("Allow", "GET, HEAD")
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		report := r.Status(req.Context(), req.URL.Query().Get("model"))
		status := http.StatusOK
		if report.Status == StatusUnhealthy {
			status = http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if err := json.NewEncoder(w).Encode(report); err != nil {
			r.logger.Error("failed to encode health response", "error", err)
		}
	})
}
