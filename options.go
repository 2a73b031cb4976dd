package llmroute

import (
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/blueberrycongee/llmroute/internal/cooldown"
	"github.com/blueberrycongee/llmroute/internal/failover"
	"github.com/blueberrycongee/llmroute/internal/healthcheck"
	"github.com/blueberrycongee/llmroute/internal/metrics"
	"github.com/blueberrycongee/llmroute/internal/statestore"
	"github.com/blueberrycongee/llmroute/pkg/router"
)

// Config holds everything New needs besides the registry.
type Config struct {
	// Store holds deployment state. Nil means a process-local MemoryStore.
	// The gateway closes it on Close.
	Store     statestore.Store
	KeyPrefix string

	Router   router.Config
	Failover failover.Config

	HealthCheck      healthcheck.Config
	Probe            healthcheck.ProbeFunc
	PassiveThreshold int

	Logger  *slog.Logger
	Tracer  trace.Tracer
	Metrics *metrics.Metrics

	Alert            cooldown.AlertFunc
	FallbackReporter failover.FallbackReporter

	// Seed fixes the random source of the weighted strategies. Zero means time-seeded.
	Seed  int64
	Clock func() time.Time
}

func defaultConfig() *Config {
	return &Config{
		KeyPrefix:        "llmroute",
		Router:           router.DefaultConfig(),
		Failover:         failover.DefaultConfig(),
		PassiveThreshold: healthcheck.DefaultPassiveThreshold,
		Logger:           slog.Default(),
	}
}

// Option configures a Gateway.
type Option func(*Config)

// WithStore sets the state store shared by every gateway process.
func WithStore(store statestore.Store) Option {
	return func(c *Config) {
		c.Store = store
	}
}

// WithKeyPrefix namespaces every key written to the store.
func WithKeyPrefix(prefix string) Option {
	return func(c *Config) {
		if prefix != "" {
			c.KeyPrefix = prefix
		}
	}
}

// WithRouterConfig sets the initial router configuration.
func WithRouterConfig(cfg router.Config) Option {
	return func(c *Config) {
		c.Router = cfg
	}
}

// WithFailoverConfig sets the initial retry and fallback configuration.
func WithFailoverConfig(cfg failover.Config) Option {
	return func(c *Config) {
		c.Failover = cfg
	}
}

// WithHealthCheck enables background probing with probe.
func WithHealthCheck(cfg healthcheck.Config, probe healthcheck.ProbeFunc) Option {
	return func(c *Config) {
		c.HealthCheck = cfg
		c.Probe = probe
	}
}

// WithPassiveThreshold sets how many consecutive reported failures mark a
// deployment unhealthy.
func WithPassiveThreshold(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.PassiveThreshold = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) {
		if logger != nil {
			c.Logger = logger
		}
	}
}

// WithTracer sets the tracer used for failover spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(c *Config) {
		c.Tracer = tracer
	}
}

// WithMetrics publishes deployment gauges, cooldown entries, fallback
// outcomes and breaker transitions to m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Config) {
		c.Metrics = m
	}
}

// WithAlert registers a callback fired whenever a deployment enters cooldown.
func WithAlert(fn cooldown.AlertFunc) Option {
	return func(c *Config) {
		c.Alert = fn
	}
}

// WithFallbackReporter registers a callback for cross-group fallback outcomes.
func WithFallbackReporter(fn failover.FallbackReporter) Option {
	return func(c *Config) {
		c.FallbackReporter = fn
	}
}

// WithSeed fixes the random source of the weighted strategies.
func WithSeed(seed int64) Option {
	return func(c *Config) {
		c.Seed = seed
	}
}

// WithClock overrides time.Now for state timestamps, latency windows and failover timing.
func WithClock(now func() time.Time) Option {
	return func(c *Config) {
		c.Clock = now
	}
}
