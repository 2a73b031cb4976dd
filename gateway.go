package llmroute

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/blueberrycongee/llmroute/internal/cooldown"
	"github.com/blueberrycongee/llmroute/internal/failover"
	"github.com/blueberrycongee/llmroute/internal/healthcheck"
	"github.com/blueberrycongee/llmroute/internal/state"
	"github.com/blueberrycongee/llmroute/internal/statestore"
	"github.com/blueberrycongee/llmroute/pkg/deployment"
	"github.com/blueberrycongee/llmroute/pkg/router"
	"github.com/blueberrycongee/llmroute/routers"
)

// ErrClosed is returned by Swap after Close.
var ErrClosed = errors.New("llmroute: gateway closed")

// generation is everything derived from one registry and its configuration.
// It is never mutated; Swap replaces it wholesale.
type generation struct {
	registry  *deployment.Registry
	routerCfg router.Config
	router    *router.Router
	cooldowns *cooldown.Manager
	failover  *failover.Manager
}

// Gateway routes requests for model groups to deployments and runs calls
// with retries and fallbacks. Deployment state lives in the configured store,
// so several gateways sharing a store see the same cooldowns and health.
type Gateway struct {
	cfg     *Config
	logger  *slog.Logger
	store   statestore.Store
	backend *state.Backend

	current  atomic.Pointer[generation]
	swapMu   sync.Mutex
	swaps    atomic.Int64
	closed   atomic.Bool
	closeErr error

	passive  *healthcheck.PassiveTracker
	prober   *healthcheck.Prober
	reporter *healthcheck.Reporter
}

// New creates a gateway over reg.
func New(reg *deployment.Registry, opts ...Option) (*Gateway, error) {
	if reg == nil {
		return nil, errors.New("llmroute: registry is required")
	}
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	store := cfg.Store
	if store == nil {
		store = statestore.NewMemoryStore()
	}

	backendOpts := []state.Option{
		state.WithKeyPrefix(cfg.KeyPrefix),
		state.WithLatencyWindow(cfg.Router.LatencyWindow),
		state.WithActiveTTL(activeTTL(cfg.Failover)),
		state.WithLogger(cfg.Logger),
	}
	if cfg.Clock != nil {
		backendOpts = append(backendOpts, state.WithClock(cfg.Clock))
	}

	g := &Gateway{
		cfg:     cfg,
		logger:  cfg.Logger,
		store:   store,
		backend: state.New(store, backendOpts...),
	}

	gen, err := g.build(reg, cfg.Router, cfg.Failover)
	if err != nil {
		return nil, err
	}
	g.current.Store(gen)

	g.passive = healthcheck.NewPassiveTracker(g.backend, cfg.PassiveThreshold, cfg.Logger)
	switch {
	case cfg.HealthCheck.Enabled && cfg.Probe == nil:
		g.logger.Warn("health checks enabled without a probe, background probing disabled")
	case cfg.HealthCheck.Enabled:
		g.prober = healthcheck.NewProber(cfg.HealthCheck, g, cfg.Probe, g.backend, cfg.Logger)
	}

	// the reporter reads the backend's window, which follows Swap
	reporterOpts := []healthcheck.ReporterOption{
		healthcheck.WithReporterLogger(cfg.Logger),
	}
	if cfg.Metrics != nil {
		reporterOpts = append(reporterOpts, healthcheck.WithMetricsSink(cfg.Metrics))
	}
	if cfg.Clock != nil {
		reporterOpts = append(reporterOpts, healthcheck.WithReporterClock(cfg.Clock))
	}
	g.reporter = healthcheck.NewReporter(g, g.backend, reporterOpts...)

	g.logger.Info("gateway initialized",
		"deployments", reg.Len(),
		"model_groups", len(reg.Groups()),
		"strategy", string(gen.routerCfg.Strategy),
	)
	return g, nil
}

// build validates the configuration and derives a generation from it.
func (g *Gateway) build(reg *deployment.Registry, routerCfg router.Config, failoverCfg failover.Config) (*generation, error) {
	if err := routerCfg.Validate(); err != nil {
		return nil, fmt.Errorf("router config: %w", err)
	}
	if err := failoverCfg.Validate(); err != nil {
		return nil, fmt.Errorf("failover config: %w", err)
	}

	var strategyOpts []routers.Option
	if g.cfg.Seed != 0 {
		strategyOpts = append(strategyOpts, routers.WithSeed(g.cfg.Seed))
	}
	if g.cfg.Clock != nil {
		strategyOpts = append(strategyOpts, routers.WithClock(g.cfg.Clock))
	}
	selector, err := routers.New(routerCfg, g.backend, strategyOpts...)
	if err != nil {
		return nil, err
	}

	cooldowns := cooldown.NewManager(g.backend, cooldown.Config{
		AllowedFails: routerCfg.AllowedFails,
		CooldownTime: routerCfg.CooldownTime,
	}, cooldown.WithLogger(g.logger), cooldown.WithAlert(g.alert))

	failoverOpts := []failover.Option{failover.WithLogger(g.logger)}
	if g.cfg.Tracer != nil {
		failoverOpts = append(failoverOpts, failover.WithTracer(g.cfg.Tracer))
	}
	if reporter := g.fallbackReporter(); reporter != nil {
		failoverOpts = append(failoverOpts, failover.WithFallbackReporter(reporter))
	}
	if g.cfg.Clock != nil {
		failoverOpts = append(failoverOpts, failover.WithClock(g.cfg.Clock))
	}

	return &generation{
		registry:  reg,
		routerCfg: routerCfg,
		router:    router.New(reg, routerCfg, selector, g.backend, g.logger),
		cooldowns: cooldowns,
		failover:  failover.NewManager(reg, failoverCfg, g.backend, cooldowns, failoverOpts...),
	}, nil
}

func (g *Gateway) alert(ctx context.Context, event cooldown.Event) {
	if g.cfg.Metrics != nil {
		g.cfg.Metrics.CooldownAlert()(ctx, event)
	}
	if g.cfg.Alert != nil {
		g.cfg.Alert(ctx, event)
	}
}

func (g *Gateway) fallbackReporter() failover.FallbackReporter {
	var sinks []failover.FallbackReporter
	if g.cfg.Metrics != nil {
		sinks = append(sinks, g.cfg.Metrics.FallbackReporter())
	}
	if g.cfg.FallbackReporter != nil {
		sinks = append(sinks, g.cfg.FallbackReporter)
	}
	switch len(sinks) {
	case 0:
		return nil
	case 1:
		return sinks[0]
	}
	return func(ctx context.Context, group, fallbackGroup string, err error, success bool) {
		for _, sink := range sinks {
			sink(ctx, group, fallbackGroup, err, success)
		}
	}
}

// activeTTL outlives any single attempt under cfg.
func activeTTL(cfg failover.Config) time.Duration {
	if ttl := 2 * cfg.Timeout; ttl > state.DefaultActiveTTL {
		return ttl
	}
	return state.DefaultActiveTTL
}

// Swap replaces the registry and both configurations together. Calls already
// running keep the generation they started with. On error nothing changes.
func (g *Gateway) Swap(reg *deployment.Registry, routerCfg router.Config, failoverCfg failover.Config) error {
	if reg == nil {
		return errors.New("llmroute: registry is required")
	}
	g.swapMu.Lock()
	defer g.swapMu.Unlock()
	if g.closed.Load() {
		return ErrClosed
	}

	next, err := g.build(reg, routerCfg, failoverCfg)
	if err != nil {
		return err
	}
	// the backend prunes and the reporter averages over the new window
	g.backend.SetLatencyWindow(routerCfg.LatencyWindow)
	g.backend.SetActiveTTL(activeTTL(failoverCfg))
	g.current.Store(next)
	g.swaps.Add(1)

	g.logger.Info("gateway configuration swapped",
		"deployments", reg.Len(),
		"strategy", string(routerCfg.Strategy),
	)
	return nil
}

// Generation returns how many times Swap has succeeded.
func (g *Gateway) Generation() int64 { return g.swaps.Load() }

func (g *Gateway) gen() *generation { return g.current.Load() }

// Registry returns the current registry snapshot.
func (g *Gateway) Registry() *deployment.Registry { return g.gen().registry }

// RouterConfig returns the current router configuration.
func (g *Gateway) RouterConfig() router.Config { return g.gen().routerCfg }

// FailoverConfig returns the current retry and fallback configuration.
func (g *Gateway) FailoverConfig() failover.Config { return g.gen().failover.Config() }

// Deployments lists every deployment of the current registry. It lets the
// prober and the health reporter follow swaps.
func (g *Gateway) Deployments() []*deployment.Deployment { return g.gen().registry.All() }

// Backend exposes the state backend, for collaborators that record outcomes
// of calls made outside ExecuteWithFailover.
func (g *Gateway) Backend() *state.Backend { return g.backend }

// ResolveModelGroup maps a requested model name onto its model group.
func (g *Gateway) ResolveModelGroup(model string) string {
	return g.gen().router.ResolveModelGroup(model)
}

// SelectDeployment picks an eligible deployment of group, or returns nil.
func (g *Gateway) SelectDeployment(ctx context.Context, group string, reqCtx *router.RequestContext) *deployment.Deployment {
	return g.gen().router.SelectDeployment(ctx, group, reqCtx)
}

// RequireDeployment converts an empty selection into a ModelNotFoundError.
func (g *Gateway) RequireDeployment(group string, d *deployment.Deployment) (*deployment.Deployment, error) {
	return router.Require(group, d)
}

// Pick resolves model, selects within its group and requires a result.
func (g *Gateway) Pick(ctx context.Context, model string, reqCtx *router.RequestContext) (*deployment.Deployment, error) {
	r := g.gen().router
	group := r.ResolveModelGroup(model)
	return r.RequireDeployment(group, r.SelectDeployment(ctx, group, reqCtx))
}

// ExecuteWithFailover runs fn against primary, retrying and falling back
// along the configured chain for group.
func (g *Gateway) ExecuteWithFailover(ctx context.Context, primary *deployment.Deployment, group string, fn failover.ExecuteFunc) (any, error) {
	return g.gen().failover.ExecuteWithFailover(ctx, primary, group, fn)
}

// Do is ExecuteWithFailover for a typed call.
func Do[T any](ctx context.Context, g *Gateway, primary *deployment.Deployment, group string, fn func(context.Context, *deployment.Deployment) (T, error)) (T, error) {
	var zero T
	result, err := g.ExecuteWithFailover(ctx, primary, group, func(ctx context.Context, d *deployment.Deployment) (any, error) {
		return fn(ctx, d)
	})
	if err != nil {
		return zero, err
	}
	typed, ok := result.(T)
	if !ok {
		return zero, fmt.Errorf("llmroute: unexpected result type %T", result)
	}
	return typed, nil
}

// CheckCooldown returns the active cooldown of a deployment, or nil.
func (g *Gateway) CheckCooldown(ctx context.Context, id string) *router.Cooldown {
	return g.gen().cooldowns.CheckCooldown(ctx, id)
}

// ManualCooldown excludes a deployment for d. A non-positive d uses the
// configured cooldown time.
func (g *Gateway) ManualCooldown(ctx context.Context, id string, d time.Duration, reason string) *router.Cooldown {
	return g.gen().cooldowns.ManualCooldown(ctx, id, d, reason)
}

// ReportOutcome feeds the passive health tracker with the result of a call
// made against id. A nil err is a success.
func (g *Gateway) ReportOutcome(ctx context.Context, id string, err error) {
	g.passive.Record(ctx, id, err)
}

// HealthStatus aggregates deployment state, optionally for one model group.
func (g *Gateway) HealthStatus(ctx context.Context, modelFilter string) *healthcheck.Status {
	return g.reporter.Status(ctx, modelFilter)
}

// HealthHandler serves HealthStatus as JSON.
func (g *Gateway) HealthHandler() http.Handler {
	return g.reporter.Handler()
}

// Start launches background probing when it is enabled.
func (g *Gateway) Start(ctx context.Context) {
	if g.prober != nil {
		g.prober.Start(ctx)
	}
}

// Close stops background probing and closes the store. It is safe to call
// more than once.
func (g *Gateway) Close() error {
	g.swapMu.Lock()
	defer g.swapMu.Unlock()
	if !g.closed.CompareAndSwap(false, true) {
		return g.closeErr
	}
	g.prober.Stop()
	g.closeErr = g.store.Close()
	return g.closeErr
}
