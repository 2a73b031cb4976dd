// Package state is the typed deployment state backend: active request
// counters, latency windows, per-minute usage, cooldown markers and health
// records, all kept in a statestore.Store so several gateway processes see
// the same view. Methods never return errors; store failures are logged and
// read as zero values.
package state

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/blueberrycongee/llmroute/internal/statestore"
	"github.com/blueberrycongee/llmroute/pkg/router"
)

const (
	// DefaultKeyPrefix namespaces every key.
	DefaultKeyPrefix = "llmroute"
	// DefaultLatencyWindow is the trailing window kept for latency samples.
	DefaultLatencyWindow = 5 * time.Minute
	// DefaultUsageTTL outlives a minute bucket long enough for late readers.
	DefaultUsageTTL = 2 * time.Minute
	// DefaultActiveTTL bounds how long an active counter outlives its last
	// increment, so a release lost to a crash or outage heals on its own.
	DefaultActiveTTL = 10 * time.Minute

	maxErrorLength = 512
	roundRobinTTL  = 24 * time.Hour
)

// Backend implements router.StateReader and the write side used by the
// cooldown, failover and health components.
type Backend struct {
	store         statestore.Store
	prefix        string
	latencyWindow atomic.Int64
	activeTTL     atomic.Int64
	usageTTL      time.Duration
	logger        *slog.Logger
	now           func() time.Time
}

var (
	_ router.StateReader       = (*Backend)(nil)
	_ router.RoundRobinCounter = (*Backend)(nil)
)

// Option configures a Backend.
type Option func(*Backend)

// WithKeyPrefix sets the key prefix (default: "llmroute").
func WithKeyPrefix(prefix string) Option {
	return func(b *Backend) {
		if prefix != "" {
			b.prefix = prefix
		}
	}
}

// WithLatencyWindow sets how long latency samples are kept (default: 5m).
func WithLatencyWindow(d time.Duration) Option {
	return func(b *Backend) {
		b.SetLatencyWindow(d)
	}
}

// WithActiveTTL sets the expiry refreshed on every active counter increment
// (default: 10m). It must exceed the longest attempt.
func WithActiveTTL(d time.Duration) Option {
	return func(b *Backend) {
		b.SetActiveTTL(d)
	}
}

// WithUsageTTL sets the expiry of per-minute usage counters (default: 2m).
func WithUsageTTL(d time.Duration) Option {
	return func(b *Backend) {
		if d > 0 {
			b.usageTTL = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Backend) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(b *Backend) { b.now = now }
}

// New creates a backend over store.
func New(store statestore.Store, opts ...Option) *Backend {
	b := &Backend{
		store:    store,
		prefix:   DefaultKeyPrefix,
		usageTTL: DefaultUsageTTL,
		logger:   slog.Default(),
		now:      time.Now,
	}
	b.latencyWindow.Store(int64(DefaultLatencyWindow))
	b.activeTTL.Store(int64(DefaultActiveTTL))
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// LatencyWindow returns the trailing window latency samples are kept for.
func (b *Backend) LatencyWindow() time.Duration { return time.Duration(b.latencyWindow.Load()) }

// SetLatencyWindow changes the latency window; non-positive values are ignored.
func (b *Backend) SetLatencyWindow(d time.Duration) {
	if d > 0 {
		b.latencyWindow.Store(int64(d))
	}
}

// ActiveTTL returns the expiry refreshed on active counter increments.
func (b *Backend) ActiveTTL() time.Duration { return time.Duration(b.activeTTL.Load()) }

// SetActiveTTL changes the active counter expiry; non-positive values are ignored.
func (b *Backend) SetActiveTTL(d time.Duration) {
	if d > 0 {
		b.activeTTL.Store(int64(d))
	}
}

// Ping checks the underlying store.
func (b *Backend) Ping(ctx context.Context) error { return b.store.Ping(ctx) }

func (b *Backend) report(ctx context.Context, op string, id string, err error) {
	if err == nil {
		return
	}
	switch {
	case ctx.Err() != nil || errors.Is(err, context.Canceled):
		b.logger.Debug("state operation abandoned", "op", op, "deployment_id", id, "error", err)
	case errors.Is(err, statestore.ErrUnexpectedData):
		b.logger.Error("state store returned unexpected data", "op", op, "deployment_id", id, "error", err)
	default:
		b.logger.Warn("state operation failed", "op", op, "deployment_id", id, "error", err)
	}
}

// IncrementActive records the start of an attempt. Attempts that pair the
// increment with a decrement should use AcquireActive instead.
func (b *Backend) IncrementActive(ctx context.Context, id string) int64 {
	n, err := b.store.IncrBy(ctx, b.key(keyActive, id), 1, b.ActiveTTL())
	b.report(ctx, "increment_active", id, err)
	return n
}

// AcquireActive records the start of an attempt and returns the new count
// with the function that ends it. The release undoes the increment against
// the store that took it, even if the store switched to or from degraded
// mode in between, and only its first call has an effect. An increment that
// failed yields a release that does nothing.
func (b *Backend) AcquireActive(ctx context.Context, id string) (int64, func(context.Context) int64) {
	key := b.key(keyActive, id)

	var (
		n     int64
		err   error
		lease statestore.Lease
	)
	if leaser, ok := b.store.(statestore.Leaser); ok {
		n, lease, err = leaser.IncrLease(ctx, key, b.ActiveTTL())
	} else {
		n, err = b.store.IncrBy(ctx, key, 1, b.ActiveTTL())
		lease = func(ctx context.Context) (int64, error) { return b.store.DecrFloor(ctx, key) }
	}
	b.report(ctx, "increment_active", id, err)
	if err != nil {
		return n, func(context.Context) int64 { return 0 }
	}

	var once sync.Once
	return n, func(ctx context.Context) int64 {
		var left int64
		once.Do(func() {
			var err error
			left, err = lease(ctx)
			b.report(ctx, "decrement_active", id, err)
		})
		return left
	}
}

// DecrementActive records the end of an attempt; the counter never goes below zero.
func (b *Backend) DecrementActive(ctx context.Context, id string) int64 {
	n, err := b.store.DecrFloor(ctx, b.key(keyActive, id))
	b.report(ctx, "decrement_active", id, err)
	return n
}

// GetActiveBatch implements router.StateReader.
func (b *Backend) GetActiveBatch(ctx context.Context, ids []string) map[string]int64 {
	out := make(map[string]int64, len(ids))
	values, err := b.store.GetInts(ctx, b.keys(keyActive, ids))
	if err != nil {
		b.report(ctx, "get_active", strings.Join(ids, ","), err)
	}
	for i, id := range ids {
		if i < len(values) {
			out[id] = values[i]
		} else {
			out[id] = 0
		}
	}
	return out
}

// RecordLatency appends a sample and prunes samples older than the window.
func (b *Backend) RecordLatency(ctx context.Context, id string, latencyMs float64) {
	now := b.now().UnixMilli()
	member := fmt.Sprintf("%d:%s:%s", now, strconv.FormatFloat(latencyMs, 'f', -1, 64), uuid.NewString())
	window := b.LatencyWindow()
	floor := float64(now - window.Milliseconds())
	err := b.store.ZAddWindow(ctx, b.key(keyLatency, id),
		statestore.ZMember{Score: float64(now), Member: member}, floor, window+time.Minute)
	b.report(ctx, "record_latency", id, err)
}

// GetLatencyWindowBatch implements router.StateReader. A non-positive
// window means the configured one.
func (b *Backend) GetLatencyWindowBatch(ctx context.Context, ids []string, window time.Duration) map[string][]router.LatencySample {
	if window <= 0 {
		window = b.LatencyWindow()
	}
	floor := float64(b.now().UnixMilli() - window.Milliseconds())
	keys := b.keys(keyLatency, ids)

	out := make(map[string][]router.LatencySample, len(ids))
	windows, err := b.store.ZRangeWindow(ctx, keys, floor)
	if err != nil {
		b.report(ctx, "get_latency", strings.Join(ids, ","), err)
	}
	for i, id := range ids {
		members := windows[keys[i]]
		samples := make([]router.LatencySample, 0, len(members))
		for _, m := range members {
			ms, ok := parseLatencyMember(m.Member)
			if !ok {
				b.logger.Error("malformed latency sample", "deployment_id", id, "member", m.Member)
				continue
			}
			samples = append(samples, router.LatencySample{
				Timestamp: time.UnixMilli(int64(m.Score)),
				LatencyMs: ms,
			})
		}
		out[id] = samples
	}
	return out
}

// members are "<unix ms>:<latency ms>:<uuid>"
func parseLatencyMember(member string) (float64, bool) {
	parts := strings.SplitN(member, ":", 3)
	if len(parts) != 3 {
		return 0, false
	}
	ms, err := strconv.ParseFloat(parts[1], 64)
	if err != nil {
		return 0, false
	}
	return ms, true
}

func (b *Backend) currentMinute() int64 {
	return b.now().Unix() / 60
}

// IncrementUsage counts one request and tokens against the current minute.
func (b *Backend) IncrementUsage(ctx context.Context, id string, tokens int64) {
	minute := b.currentMinute()
	_, err := b.store.IncrBy(ctx, b.usageKey(keyUsageRPM, id, minute), 1, b.usageTTL)
	b.report(ctx, "increment_usage", id, err)
	if tokens > 0 {
		_, err = b.store.IncrBy(ctx, b.usageKey(keyUsageTPM, id, minute), tokens, b.usageTTL)
		b.report(ctx, "increment_usage", id, err)
	}
}

// GetUsageBatch implements router.StateReader.
func (b *Backend) GetUsageBatch(ctx context.Context, ids []string) map[string]router.Usage {
	minute := b.currentMinute()
	keys := make([]string, 0, 2*len(ids))
	for _, id := range ids {
		keys = append(keys, b.usageKey(keyUsageRPM, id, minute), b.usageKey(keyUsageTPM, id, minute))
	}

	out := make(map[string]router.Usage, len(ids))
	values, err := b.store.GetInts(ctx, keys)
	if err != nil {
		b.report(ctx, "get_usage", strings.Join(ids, ","), err)
	}
	for i, id := range ids {
		var u router.Usage
		if len(values) == len(keys) {
			u = router.Usage{RPM: values[2*i], TPM: values[2*i+1]}
		}
		out[id] = u
	}
	return out
}

// NextIndex implements router.RoundRobinCounter on top of the shared store.
func (b *Backend) NextIndex(ctx context.Context, group string, modulo int) (int, error) {
	if modulo <= 0 {
		return 0, nil
	}
	n, err := b.store.IncrBy(ctx, fmt.Sprintf("%s:%s:%s", b.prefix, keyRoundRobin, group), 1, roundRobinTTL)
	if err != nil {
		return 0, err
	}
	return int((n - 1) % int64(modulo)), nil
}
