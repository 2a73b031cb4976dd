package healthcheck

import (
	"context"
	"log/slog"

	llmerrors "github.com/blueberrycongee/llmroute/pkg/errors"
)

// DefaultPassiveThreshold is the failure streak at which the passive
// tracker marks a deployment unhealthy.
const DefaultPassiveThreshold = 3

// PassiveBackend is the state the passive tracker writes.
type PassiveBackend interface {
	RecordSuccess(ctx context.Context, id string)
	RecordFailure(ctx context.Context, id string, cause error) int
	SetHealth(ctx context.Context, id string, healthy bool)
}

// PassiveTracker demotes deployments from live request outcomes. It never
// starts a cooldown.
type PassiveTracker struct {
	backend   PassiveBackend
	threshold int
	logger    *slog.Logger
}

// NewPassiveTracker creates a tracker. A threshold <= 0 uses DefaultPassiveThreshold.
func NewPassiveTracker(backend PassiveBackend, threshold int, logger *slog.Logger) *PassiveTracker {
	if threshold <= 0 {
		threshold = DefaultPassiveThreshold
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PassiveTracker{backend: backend, threshold: threshold, logger: logger}
}

// Threshold returns the configured failure threshold.
func (t *PassiveTracker) Threshold() int { return t.threshold }

// Record reports the outcome of one attempt. A nil err is a success.
func (t *PassiveTracker) Record(ctx context.Context, id string, err error) {
	if err == nil {
		t.backend.RecordSuccess(ctx, id)
		return
	}
	if !llmerrors.CountsAgainstDeployment(err) {
		return
	}

	failures := t.backend.RecordFailure(ctx, id, err)
	if failures < t.threshold {
		return
	}
	t.backend.SetHealth(ctx, id, false)
	if failures == t.threshold {
		t.logger.Warn("deployment marked unhealthy",
			"deployment_id", id,
			"consecutive_failures", failures,
			"error", err,
		)
	}
}
