// Package config provides configuration management with hot-reload support.
// It uses fsnotify to watch for file changes and atomic pointer swaps for zero-downtime updates.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/blueberrycongee/llmroute/internal/failover"
	"github.com/blueberrycongee/llmroute/internal/resilience"
	"github.com/blueberrycongee/llmroute/pkg/deployment"
	"github.com/blueberrycongee/llmroute/pkg/router"
	"github.com/blueberrycongee/llmroute/routers"
)

// Config represents the complete gateway configuration.
type Config struct {
	Server         ServerConfig      `yaml:"server"`
	RouterSettings RouterSettings    `yaml:"router_settings"`
	ModelList      []ModelEntry      `yaml:"model_list"`
	StateStore     StateStoreConfig  `yaml:"state_store"`
	HealthCheck    HealthCheckConfig `yaml:"health_check"`
	Logging        LoggingConfig     `yaml:"logging"`
	Metrics        MetricsConfig     `yaml:"metrics"`
	Tracing        TracingConfig     `yaml:"tracing"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	// AllowPrivateAPIBase permits loopback and private api_base hosts (local model servers).
	AllowPrivateAPIBase bool `yaml:"allow_private_api_base"`
}

// RouterSettings covers selection, retry, cooldown and fallback behaviour.
type RouterSettings struct {
	Strategy            string              `yaml:"routing_strategy"`
	NumRetries          int                 `yaml:"num_retries"`
	RetryAfter          time.Duration       `yaml:"retry_after"`
	Timeout             time.Duration       `yaml:"timeout"`
	CooldownTime        time.Duration       `yaml:"cooldown_time"`
	AllowedFails        int                 `yaml:"allowed_fails"`
	EnablePreCallChecks bool                `yaml:"enable_pre_call_checks"`
	ModelGroupAlias     map[string]string   `yaml:"model_group_alias"`
	Fallbacks           map[string][]string `yaml:"fallbacks"`
	LatencyWindow       time.Duration       `yaml:"latency_window"`
	RateLimitThreshold  float64             `yaml:"rate_limit_threshold"`
	InnerStrategy       string              `yaml:"inner_strategy"`
}

// ModelEntry is one deployment in model_list.
type ModelEntry struct {
	ModelName          string         `yaml:"model_name"`
	DeploymentID       string         `yaml:"deployment_id"`
	Params             map[string]any `yaml:"params"`
	Weight             *int           `yaml:"weight"`
	Priority           int            `yaml:"priority"`
	Tags               []string       `yaml:"tags"`
	InputCostPerToken  float64        `yaml:"input_cost_per_token"`
	OutputCostPerToken float64        `yaml:"output_cost_per_token"`
	RPMLimit           int64          `yaml:"rpm"`
	TPMLimit           int64          `yaml:"tpm"`
}

// StateStoreConfig selects where per-deployment runtime state lives.
type StateStoreConfig struct {
	Type      string        `yaml:"type"` // memory, redis
	KeyPrefix string        `yaml:"key_prefix"`
	Redis     RedisConfig   `yaml:"redis"`
	Breaker   BreakerConfig `yaml:"breaker"`
	// DegradedLogInterval limits how often degraded-mode errors are logged.
	DegradedLogInterval time.Duration `yaml:"degraded_log_interval"`
}

// RedisConfig contains Redis connection settings.
type RedisConfig struct {
	Addrs        []string      `yaml:"addrs"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	ClusterMode  bool          `yaml:"cluster_mode"`
	PoolSize     int           `yaml:"pool_size"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// BreakerConfig controls the circuit breaker in front of the shared store.
type BreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	SuccessThreshold int           `yaml:"success_threshold"`
	OpenTimeout      time.Duration `yaml:"open_timeout"`
}

// HealthCheckConfig controls active probing and passive tracking.
type HealthCheckConfig struct {
	Enabled                 bool          `yaml:"enabled"`
	Interval                time.Duration `yaml:"interval"`
	Timeout                 time.Duration `yaml:"timeout"`
	PassiveFailureThreshold int           `yaml:"passive_failure_threshold"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// MetricsConfig contains Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// TracingConfig contains OpenTelemetry tracing settings.
type TracingConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Endpoint    string  `yaml:"endpoint"`     // OTLP endpoint (e.g., "localhost:4317")
	ServiceName string  `yaml:"service_name"` // Service name for traces
	SampleRate  float64 `yaml:"sample_rate"`  // Sampling rate (0.0 to 1.0)
	Insecure    bool    `yaml:"insecure"`     // Use insecure connection (no TLS)
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	rc := router.DefaultConfig()
	fc := failover.DefaultConfig()
	bc := resilience.DefaultCircuitBreakerConfig()

	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    120 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		RouterSettings: RouterSettings{
			Strategy:           string(rc.Strategy),
			NumRetries:         fc.NumRetries,
			Timeout:            fc.Timeout,
			CooldownTime:       rc.CooldownTime,
			AllowedFails:       rc.AllowedFails,
			LatencyWindow:      rc.LatencyWindow,
			RateLimitThreshold: rc.RateLimitThreshold,
			InnerStrategy:      string(rc.InnerStrategy),
		},
		StateStore: StateStoreConfig{
			Type:      "memory",
			KeyPrefix: "llmroute",
			Breaker: BreakerConfig{
				FailureThreshold: bc.FailureThreshold,
				SuccessThreshold: bc.SuccessThreshold,
				OpenTimeout:      bc.Timeout,
			},
			DegradedLogInterval: 10 * time.Second,
		},
		HealthCheck: HealthCheckConfig{
			Enabled:                 false,
			Interval:                30 * time.Second,
			Timeout:                 10 * time.Second,
			PassiveFailureThreshold: 3,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			Endpoint:    "localhost:4317",
			ServiceName: "llmroute",
			SampleRate:  1.0,
			Insecure:    true,
		},
	}
}

// LoadFromFile reads and parses a YAML configuration file.
// Environment variables in the format ${VAR_NAME} are expanded.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML on top of DefaultConfig and validates the result.
func Parse(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	cfg := DefaultConfig()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if len(c.ModelList) == 0 {
		return fmt.Errorf("model_list: at least one deployment must be configured")
	}
	for i, m := range c.ModelList {
		if m.ModelName == "" {
			return fmt.Errorf("model_list[%d]: model_name is required", i)
		}
	}

	rs := c.RouterSettings
	if !routers.IsValidStrategy(rs.Strategy) {
		return fmt.Errorf("router_settings.routing_strategy: unknown strategy %q", rs.Strategy)
	}
	if rs.InnerStrategy != "" && !routers.IsValidStrategy(rs.InnerStrategy) {
		return fmt.Errorf("router_settings.inner_strategy: unknown strategy %q", rs.InnerStrategy)
	}
	if err := c.RouterConfig().Validate(); err != nil {
		return fmt.Errorf("router_settings: %w", err)
	}
	if err := c.FailoverConfig().Validate(); err != nil {
		return fmt.Errorf("router_settings: %w", err)
	}
	for group, chain := range rs.Fallbacks {
		for _, fallback := range chain {
			if fallback == "" {
				return fmt.Errorf("router_settings.fallbacks[%q]: empty model group", group)
			}
		}
	}

	switch c.StateStore.Type {
	case "memory":
	case "redis":
		if len(c.StateStore.Redis.Addrs) == 0 {
			return fmt.Errorf("state_store.redis.addrs is required for the redis store")
		}
	default:
		return fmt.Errorf("state_store.type: unknown store %q", c.StateStore.Type)
	}
	if c.StateStore.Breaker.FailureThreshold < 0 || c.StateStore.Breaker.OpenTimeout < 0 {
		return fmt.Errorf("state_store.breaker: thresholds cannot be negative")
	}

	if c.HealthCheck.Interval < 0 || c.HealthCheck.Timeout < 0 {
		return fmt.Errorf("health_check: interval and timeout cannot be negative")
	}

	return nil
}

// RegistryEntries converts model_list into registry entries.
func (c *Config) RegistryEntries() []deployment.Entry {
	entries := make([]deployment.Entry, len(c.ModelList))
	for i, m := range c.ModelList {
		entries[i] = deployment.Entry{
			ModelName:          m.ModelName,
			DeploymentID:       m.DeploymentID,
			Params:             m.Params,
			Weight:             m.Weight,
			Priority:           m.Priority,
			Tags:               m.Tags,
			InputCostPerToken:  m.InputCostPerToken,
			OutputCostPerToken: m.OutputCostPerToken,
			RPMLimit:           m.RPMLimit,
			TPMLimit:           m.TPMLimit,
		}
	}
	return entries
}

// BuildRegistry validates model_list and builds a registry from it.
func (c *Config) BuildRegistry() (*deployment.Registry, error) {
	var opts []deployment.RegistryOption
	if c.Server.AllowPrivateAPIBase {
		opts = append(opts, deployment.AllowPrivateBaseURL())
	}
	return deployment.NewRegistry(c.RegistryEntries(), opts...)
}

// RouterConfig returns the router section as a router.Config.
func (c *Config) RouterConfig() router.Config {
	rs := c.RouterSettings
	return router.Config{
		Strategy:            router.Strategy(rs.Strategy),
		NumRetries:          rs.NumRetries,
		RetryAfter:          rs.RetryAfter,
		Timeout:             rs.Timeout,
		CooldownTime:        rs.CooldownTime,
		AllowedFails:        rs.AllowedFails,
		EnablePreCallChecks: rs.EnablePreCallChecks,
		ModelGroupAlias:     rs.ModelGroupAlias,
		LatencyWindow:       rs.LatencyWindow,
		RateLimitThreshold:  rs.RateLimitThreshold,
		InnerStrategy:       router.Strategy(rs.InnerStrategy),
	}
}

// FailoverConfig returns the retry and fallback settings.
func (c *Config) FailoverConfig() failover.Config {
	rs := c.RouterSettings
	return failover.Config{
		NumRetries: rs.NumRetries,
		RetryAfter: rs.RetryAfter,
		Timeout:    rs.Timeout,
		Fallbacks:  rs.Fallbacks,
	}
}

// BreakerConfig returns the state store circuit breaker settings.
func (c *Config) BreakerConfig() resilience.CircuitBreakerConfig {
	b := c.StateStore.Breaker
	return resilience.CircuitBreakerConfig{
		FailureThreshold: b.FailureThreshold,
		SuccessThreshold: b.SuccessThreshold,
		Timeout:          b.OpenTimeout,
	}
}
