// Package cooldown moves deployments in and out of time-boxed exclusion
// based on their consecutive failure count.
package cooldown

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/blueberrycongee/llmroute/pkg/router"
)

// Backend is the part of the state backend the manager drives.
type Backend interface {
	RecordSuccess(ctx context.Context, id string)
	RecordFailure(ctx context.Context, id string, cause error) int
	SetCooldown(ctx context.Context, id string, d time.Duration, reason string) *router.Cooldown
	GetCooldown(ctx context.Context, id string) *router.Cooldown
	MarkUnhealthyForCooldown(ctx context.Context, id string)
}

// Event is sent to the alert sink whenever a deployment enters cooldown.
type Event struct {
	DeploymentID  string    `json:"deployment_id"`
	Reason        string    `json:"reason"`
	FailureCount  int       `json:"failure_count"`
	CooldownUntil time.Time `json:"cooldown_until"`
}

// AlertFunc receives cooldown events. It is called synchronously and
// should not block.
type AlertFunc func(ctx context.Context, event Event)

// Config controls when and for how long deployments cool down.
type Config struct {
	// AllowedFails is the number of consecutive failures tolerated; the next one trips the cooldown.
	AllowedFails int
	// CooldownTime is how long a tripped deployment stays excluded.
	CooldownTime time.Duration
}

// Manager applies the cooldown policy. It holds no state of its own.
type Manager struct {
	backend Backend
	config  Config
	alert   AlertFunc
	logger  *slog.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithAlert registers an alert sink.
func WithAlert(fn AlertFunc) Option {
	return func(m *Manager) { m.alert = fn }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// NewManager creates a cooldown manager.
func NewManager(backend Backend, config Config, opts ...Option) *Manager {
	m := &Manager{
		backend: backend,
		config:  config,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// RecordSuccess clears the failure streak and marks the deployment healthy.
func (m *Manager) RecordSuccess(ctx context.Context, id string) {
	m.backend.RecordSuccess(ctx, id)
}

// RecordFailure counts a failure and reports whether it put the deployment
// into cooldown. The failure that first exceeds AllowedFails trips it; while
// the streak continues past an expired cooldown, any further failure trips
// it again.
func (m *Manager) RecordFailure(ctx context.Context, id string, cause error) bool {
	count := m.backend.RecordFailure(ctx, id, cause)
	if count <= m.config.AllowedFails {
		return false
	}
	if count > m.config.AllowedFails+1 && m.backend.GetCooldown(ctx, id) != nil {
		return false
	}

	reason := fmt.Sprintf("%d consecutive failures", count)
	if cause != nil {
		reason = fmt.Sprintf("%s: %v", reason, cause)
	}
	return m.enter(ctx, id, m.config.CooldownTime, reason, count) != nil
}

// CheckCooldown returns the active cooldown of a deployment, or nil.
func (m *Manager) CheckCooldown(ctx context.Context, id string) *router.Cooldown {
	return m.backend.GetCooldown(ctx, id)
}

// ManualCooldown puts a deployment into cooldown for d, overriding the
// configured duration for this one call. A non-positive d uses CooldownTime.
func (m *Manager) ManualCooldown(ctx context.Context, id string, d time.Duration, reason string) *router.Cooldown {
	if d <= 0 {
		d = m.config.CooldownTime
	}
	if reason == "" {
		reason = "manual"
	}
	return m.enter(ctx, id, d, reason, 0)
}

func (m *Manager) enter(ctx context.Context, id string, d time.Duration, reason string, failures int) *router.Cooldown {
	cd := m.backend.SetCooldown(ctx, id, d, reason)
	if cd == nil {
		m.logger.Warn("cooldown not applied, duration is zero", "deployment_id", id)
		return nil
	}
	m.backend.MarkUnhealthyForCooldown(ctx, id)

	m.logger.Warn("deployment entered cooldown",
		"deployment_id", id,
		"reason", reason,
		"failure_count", failures,
		"cooldown_until", cd.ExpiresAt,
	)

	if m.alert != nil {
		m.alert(ctx, Event{
			DeploymentID:  id,
			Reason:        reason,
			FailureCount:  failures,
			CooldownUntil: cd.ExpiresAt,
		})
	}
	return cd
}
