// Package failover executes a request against an ordered chain of
// deployments with bounded retries and a per-attempt timeout.
package failover

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/blueberrycongee/llmroute/pkg/deployment"
	llmerrors "github.com/blueberrycongee/llmroute/pkg/errors"
	"github.com/blueberrycongee/llmroute/pkg/router"
)

const tracerName = "github.com/blueberrycongee/llmroute/internal/failover"

// Config controls retries and fallbacks.
type Config struct {
	NumRetries int
	RetryAfter time.Duration
	Timeout    time.Duration
	// Fallbacks maps a model group to the groups tried after it, in order.
	Fallbacks map[string][]string
}

// DefaultConfig returns the default failover settings.
func DefaultConfig() Config {
	return Config{
		NumRetries: 2,
		Timeout:    60 * time.Second,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.NumRetries < 0 {
		return fmt.Errorf("num_retries must be >= 0, got %d", c.NumRetries)
	}
	if c.RetryAfter < 0 {
		return fmt.Errorf("retry_after must be >= 0, got %s", c.RetryAfter)
	}
	if c.Timeout < 0 {
		return fmt.Errorf("timeout must be >= 0, got %s", c.Timeout)
	}
	return nil
}

// ExecuteFunc performs one upstream call against d. It must honour ctx.
type ExecuteFunc func(ctx context.Context, d *deployment.Deployment) (any, error)

// TokenUsage is implemented by results that report their token consumption.
type TokenUsage interface {
	TotalTokens() int
}

// FallbackReporter receives the outcome of every candidate taken from a
// fallback group rather than the requested one.
type FallbackReporter func(ctx context.Context, group, fallbackGroup string, err error, success bool)

// Backend is the runtime state the manager reads and updates.
type Backend interface {
	// AcquireActive counts an attempt in flight and returns its release.
	AcquireActive(ctx context.Context, id string) (int64, func(context.Context) int64)
	RecordLatency(ctx context.Context, id string, latencyMs float64)
	IncrementUsage(ctx context.Context, id string, tokens int64)
	GetCooldownBatch(ctx context.Context, ids []string) map[string]*router.Cooldown
	GetHealthBatch(ctx context.Context, ids []string) map[string]router.Health
}

// Cooldowns receives attempt outcomes.
type Cooldowns interface {
	RecordSuccess(ctx context.Context, id string)
	RecordFailure(ctx context.Context, id string, cause error) bool
}

// Candidate is one link of a fallback chain.
type Candidate struct {
	Deployment *deployment.Deployment
	// Group is the model group the candidate was taken from.
	Group string
}

// Manager runs fallback chains. It is bound to one registry generation.
type Manager struct {
	registry  *deployment.Registry
	config    Config
	backend   Backend
	cooldowns Cooldowns
	reporter  FallbackReporter
	tracer    trace.Tracer
	logger    *slog.Logger
	now       func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithTracer sets the tracer used for chain and attempt spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(m *Manager) {
		if tracer != nil {
			m.tracer = tracer
		}
	}
}

// WithFallbackReporter records fallback outcomes.
func WithFallbackReporter(reporter FallbackReporter) Option {
	return func(m *Manager) { m.reporter = reporter }
}

// WithClock overrides the clock used for latency measurement.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// NewManager creates a failover manager.
func NewManager(registry *deployment.Registry, config Config, backend Backend, cooldowns Cooldowns, opts ...Option) *Manager {
	m := &Manager{
		registry:  registry,
		config:    config,
		backend:   backend,
		cooldowns: cooldowns,
		tracer:    otel.Tracer(tracerName),
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Config returns the failover configuration.
func (m *Manager) Config() Config { return m.config }

// Chain builds the ordered, de-duplicated candidate list: the primary, the
// rest of its group, then each fallback group in order. A primary that is
// not in the registry is left out.
func (m *Manager) Chain(primary *deployment.Deployment, group string) []Candidate {
	seen := make(map[string]struct{})
	var chain []Candidate
	add := func(d *deployment.Deployment, from string) {
		if _, dup := seen[d.ID]; dup {
			return
		}
		seen[d.ID] = struct{}{}
		chain = append(chain, Candidate{Deployment: d, Group: from})
	}

	if primary != nil {
		if d, ok := m.registry.Get(primary.ID); ok {
			add(d, group)
		}
	}
	for _, d := range m.registry.Group(group) {
		add(d, group)
	}
	for _, fallback := range m.config.Fallbacks[group] {
		for _, d := range m.registry.Group(fallback) {
			add(d, fallback)
		}
	}
	return chain
}

// ExecuteWithFailover runs fn against the chain for group until one attempt
// succeeds. Cancelling ctx aborts the chain with the context error.
func (m *Manager) ExecuteWithFailover(ctx context.Context, primary *deployment.Deployment, group string, fn ExecuteFunc) (any, error) {
	ctx, span := m.tracer.Start(ctx, "failover.execute",
		trace.WithAttributes(attribute.String("llmroute.model_group", group)),
	)
	defer span.End()

	chain := m.Chain(primary, group)
	if len(chain) == 0 {
		err := &llmerrors.ModelNotFoundError{Group: group}
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	var (
		lastErr  error
		tried    []string
		attempts int
	)
	for _, c := range chain {
		if !m.selectable(ctx, c.Deployment.ID) {
			m.logger.Debug("skipping excluded deployment", "deployment_id", c.Deployment.ID, "model_group", c.Group)
			continue
		}
		tried = append(tried, c.Deployment.ID)

		result, n, err := m.runCandidate(ctx, c, fn)
		attempts += n
		if err == nil {
			m.report(ctx, group, c.Group, nil, true)
			span.SetAttributes(
				attribute.String("llmroute.deployment_id", c.Deployment.ID),
				attribute.Int("llmroute.attempts", attempts),
			)
			span.SetStatus(codes.Ok, "")
			return result, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			span.RecordError(ctxErr)
			span.SetStatus(codes.Error, ctxErr.Error())
			return nil, ctxErr
		}
		lastErr = err
		m.report(ctx, group, c.Group, err, false)
	}

	exhausted := &llmerrors.ChainExhaustedError{
		Group:    group,
		Tried:    tried,
		Attempts: attempts,
		LastErr:  lastErr,
	}
	m.logger.Error("fallback chain exhausted",
		"model_group", group,
		"tried", tried,
		"attempts", attempts,
		"error", lastErr,
	)
	span.RecordError(exhausted)
	span.SetStatus(codes.Error, exhausted.Error())
	return nil, exhausted
}

// runCandidate makes up to NumRetries+1 sequential attempts against one
// candidate and returns the number of attempts made.
func (m *Manager) runCandidate(ctx context.Context, c Candidate, fn ExecuteFunc) (any, int, error) {
	id := c.Deployment.ID
	var lastErr error

	for attempt := 0; attempt <= m.config.NumRetries; attempt++ {
		if attempt > 0 && m.config.RetryAfter > 0 {
			if err := sleep(ctx, m.config.RetryAfter); err != nil {
				return nil, attempt, err
			}
		}
		if err := ctx.Err(); err != nil {
			return nil, attempt, err
		}

		result, err := m.attempt(ctx, c, attempt, fn)
		if err == nil {
			return result, attempt + 1, nil
		}
		if ctx.Err() != nil {
			return nil, attempt + 1, err
		}
		lastErr = err

		kind := llmerrors.Classify(err)
		cooled := false
		if llmerrors.CountsAgainstDeployment(err) {
			cooled = m.cooldowns.RecordFailure(ctx, id, err)
		}
		m.logger.Warn("attempt failed",
			"deployment_id", id,
			"model_group", c.Group,
			"attempt", attempt+1,
			"error_kind", kind.String(),
			"error", err,
		)

		if !kind.Retryable() || cooled {
			return nil, attempt + 1, lastErr
		}
	}
	return nil, m.config.NumRetries + 1, lastErr
}

type outcome struct {
	result any
	err    error
}

// attempt runs fn once under the attempt timeout. The active counter is
// decremented on every exit path, including timeouts where fn is still
// running in the background.
func (m *Manager) attempt(ctx context.Context, c Candidate, n int, fn ExecuteFunc) (any, error) {
	d := c.Deployment
	ctx, span := m.tracer.Start(ctx, "failover.attempt",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("llmroute.deployment_id", d.ID),
			attribute.String("llmroute.model_group", c.Group),
			attribute.String("gen_ai.system", d.Provider),
			attribute.Int("llmroute.attempt", n+1),
		),
	)
	defer span.End()

	_, release := m.backend.AcquireActive(ctx, d.ID)
	defer release(context.WithoutCancel(ctx))

	attemptCtx, cancel := m.attemptContext(ctx)
	defer cancel()

	start := m.now()
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("deployment %s: execute panicked: %v", d.ID, r)}
			}
		}()
		result, err := fn(attemptCtx, d)
		done <- outcome{result: result, err: err}
	}()

	var out outcome
	select {
	case out = <-done:
		if out.err != nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			out.err = m.timeoutError(d, out.err)
		}
	case <-attemptCtx.Done():
		if err := ctx.Err(); err != nil {
			out.err = err
		} else {
			out.err = m.timeoutError(d, nil)
		}
	}

	if out.err != nil {
		span.RecordError(out.err)
		span.SetStatus(codes.Error, out.err.Error())
		return nil, out.err
	}

	m.recordSuccess(ctx, d.ID, out.result, m.now().Sub(start))
	span.SetStatus(codes.Ok, "")
	return out.result, nil
}

func (m *Manager) attemptContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if m.config.Timeout > 0 {
		return context.WithTimeout(ctx, m.config.Timeout)
	}
	return context.WithCancel(ctx)
}

func (m *Manager) timeoutError(d *deployment.Deployment, cause error) error {
	if cause != nil {
		return fmt.Errorf("deployment %s: %w after %s: %w", d.ID, llmerrors.ErrAttemptTimeout, m.config.Timeout, cause)
	}
	return fmt.Errorf("deployment %s: %w after %s", d.ID, llmerrors.ErrAttemptTimeout, m.config.Timeout)
}

func (m *Manager) recordSuccess(ctx context.Context, id string, result any, latency time.Duration) {
	m.backend.RecordLatency(ctx, id, float64(latency)/float64(time.Millisecond))

	var tokens int64
	if u, ok := result.(TokenUsage); ok {
		tokens = int64(u.TotalTokens())
	}
	m.backend.IncrementUsage(ctx, id, tokens)
	m.cooldowns.RecordSuccess(ctx, id)
}

func (m *Manager) selectable(ctx context.Context, id string) bool {
	ids := []string{id}
	cooldowns := m.backend.GetCooldownBatch(ctx, ids)
	health := m.backend.GetHealthBatch(ctx, ids)
	return router.Eligible(router.HealthOf(health, id), cooldowns[id])
}

func (m *Manager) report(ctx context.Context, group, from string, err error, success bool) {
	if m.reporter == nil || from == group {
		return
	}
	m.reporter(ctx, group, from, err, success)
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
