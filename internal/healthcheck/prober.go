// Package healthcheck probes deployments in the background, tracks request
// outcomes passively, and aggregates deployment state into a status report.
package healthcheck

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/blueberrycongee/llmroute/pkg/deployment"
	"github.com/blueberrycongee/llmroute/pkg/router"
)

const (
	defaultProbeInterval = 30 * time.Second
	defaultProbeTimeout  = 10 * time.Second
)

var (
	errProbeFailed  = errors.New("health probe failed")
	errProbeTimeout = errors.New("health probe timed out")
)

// Config controls the background prober.
type Config struct {
	Enabled  bool
	Interval time.Duration
	Timeout  time.Duration
}

// ProbeFunc checks one deployment. It must honour ctx.
type ProbeFunc func(ctx context.Context, d *deployment.Deployment) bool

// DeploymentSource supplies the deployments of the current registry generation.
type DeploymentSource interface {
	Deployments() []*deployment.Deployment
}

// StaticSource wraps a fixed registry.
type StaticSource struct {
	Registry *deployment.Registry
}

// Deployments returns every deployment in the registry.
func (s StaticSource) Deployments() []*deployment.Deployment {
	return s.Registry.All()
}

// ProbeBackend is the state the prober writes.
type ProbeBackend interface {
	RecordSuccess(ctx context.Context, id string)
	RecordFailure(ctx context.Context, id string, cause error) int
	SetHealth(ctx context.Context, id string, healthy bool)
	GetCooldown(ctx context.Context, id string) *router.Cooldown
	ClearCooldown(ctx context.Context, id string)
}

// Prober periodically checks every deployment and updates health and cooldowns.
type Prober struct {
	cfg     Config
	source  DeploymentSource
	probe   ProbeFunc
	backend ProbeBackend
	logger  *slog.Logger

	started atomic.Bool
	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewProber creates a background prober.
func NewProber(cfg Config, source DeploymentSource, probe ProbeFunc, backend ProbeBackend, logger *slog.Logger) *Prober {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultProbeInterval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultProbeTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Prober{
		cfg:     cfg,
		source:  source,
		probe:   probe,
		backend: backend,
		logger:  logger,
	}
}

// Start begins the probe loop. It returns immediately; Stop or cancelling
// ctx ends the loop.
func (p *Prober) Start(ctx context.Context) {
	if p == nil || !p.cfg.Enabled {
		return
	}
	if p.probe == nil || p.source == nil {
		p.logger.Warn("healthcheck prober missing probe function or deployment source")
		return
	}
	if !p.started.CompareAndSwap(false, true) {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	p.mu.Lock()
	p.cancel = cancel
	p.mu.Unlock()

	p.wg.Add(1)
	go p.run(ctx)
}

// Stop cancels the loop and any probes in flight, and waits for them to return.
func (p *Prober) Stop() {
	if p == nil {
		return
	}
	p.mu.Lock()
	cancel := p.cancel
	p.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	p.wg.Wait()
}

func (p *Prober) run(ctx context.Context) {
	defer p.wg.Done()

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-timer.C:
			p.runOnce(ctx)
			timer.Reset(p.cfg.Interval)
		case <-ctx.Done():
			p.logger.Info("healthcheck prober stopped")
			return
		}
	}
}

// runOnce probes every deployment concurrently and waits for the round to finish.
func (p *Prober) runOnce(ctx context.Context) {
	deployments := p.source.Deployments()
	if len(deployments) == 0 {
		return
	}

	var wg sync.WaitGroup
	for _, d := range deployments {
		wg.Add(1)
		go func(d *deployment.Deployment) {
			defer wg.Done()
			p.probeDeployment(ctx, d)
		}(d)
	}
	wg.Wait()
}

func (p *Prober) probeDeployment(ctx context.Context, d *deployment.Deployment) {
	probeCtx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	healthy := p.check(probeCtx, d)
	if ctx.Err() != nil {
		return
	}
	// Bookkeeping must land even if the probe consumed its whole budget.
	bookCtx := context.WithoutCancel(ctx)

	if healthy {
		p.handleSuccess(bookCtx, d)
		return
	}
	cause := errProbeFailed
	if probeCtx.Err() != nil {
		cause = errProbeTimeout
	}
	p.handleFailure(bookCtx, d, cause)
}

// check runs the probe and treats an overrun of the probe timeout as failure.
func (p *Prober) check(ctx context.Context, d *deployment.Deployment) bool {
	result := make(chan bool, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				p.logger.Error("healthcheck probe panicked", "deployment_id", d.ID, "panic", r)
				result <- false
			}
		}()
		result <- p.probe(ctx, d)
	}()

	select {
	case ok := <-result:
		return ok && ctx.Err() == nil
	case <-ctx.Done():
		return false
	}
}

func (p *Prober) handleFailure(ctx context.Context, d *deployment.Deployment, cause error) {
	p.backend.SetHealth(ctx, d.ID, false)
	failures := p.backend.RecordFailure(ctx, d.ID, cause)
	p.logger.Warn("healthcheck probe failed",
		"deployment_id", d.ID,
		"provider", d.Provider,
		"model", d.ModelName,
		"consecutive_failures", failures,
		"error", cause,
	)
}

func (p *Prober) handleSuccess(ctx context.Context, d *deployment.Deployment) {
	p.backend.RecordSuccess(ctx, d.ID)
	if p.backend.GetCooldown(ctx, d.ID) == nil {
		return
	}
	p.backend.ClearCooldown(ctx, d.ID)
	p.logger.Info("healthcheck probe cleared cooldown",
		"deployment_id", d.ID,
		"model", d.ModelName,
	)
}
