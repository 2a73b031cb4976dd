package statestore

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/blueberrycongee/llmroute/internal/resilience"
)

// GuardedStore fronts a shared Store with a circuit breaker. While the
// shared store is unreachable, or the breaker is open, calls are served by a
// process-local fallback holding the same shape of data. Callers never see
// ErrUnavailable from a GuardedStore; ErrUnexpectedData is passed through.
//
// Counters taken with IncrLease are released against the store that served
// the increment. A release owed to the shared store while it is unreachable
// is replayed once the shared store answers again.
type GuardedStore struct {
	primary  Store
	fallback Store
	breaker  *resilience.CircuitBreaker
	logger   *slog.Logger
	warnings *rate.Limiter
	observer resilience.StateChangeFunc

	mu       sync.Mutex
	owed     map[string]int64
	owedN    atomic.Int64
	settling atomic.Bool
}

var _ Leaser = (*GuardedStore)(nil)

// GuardOption configures a GuardedStore.
type GuardOption func(*guardOptions)

type guardOptions struct {
	breaker  resilience.CircuitBreakerConfig
	fallback Store
	logger   *slog.Logger
	logEvery time.Duration
	clock    func() time.Time
	observer resilience.StateChangeFunc
}

// WithBreakerConfig overrides the circuit breaker thresholds.
func WithBreakerConfig(cfg resilience.CircuitBreakerConfig) GuardOption {
	return func(o *guardOptions) { o.breaker = cfg }
}

// WithFallback overrides the local fallback store (default: a new MemoryStore).
func WithFallback(s Store) GuardOption {
	return func(o *guardOptions) { o.fallback = s }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) GuardOption {
	return func(o *guardOptions) { o.logger = logger }
}

// WithDegradedLogInterval limits how often degraded-mode errors are logged.
func WithDegradedLogInterval(d time.Duration) GuardOption {
	return func(o *guardOptions) { o.logEvery = d }
}

// WithBreakerClock overrides the breaker's time source.
func WithBreakerClock(now func() time.Time) GuardOption {
	return func(o *guardOptions) { o.clock = now }
}

// WithBreakerObserver registers an extra observer of breaker transitions.
func WithBreakerObserver(fn resilience.StateChangeFunc) GuardOption {
	return func(o *guardOptions) { o.observer = fn }
}

// NewGuardedStore wraps primary with a circuit breaker and a local fallback.
func NewGuardedStore(primary Store, opts ...GuardOption) *GuardedStore {
	o := guardOptions{
		breaker:  resilience.DefaultCircuitBreakerConfig(),
		logger:   slog.Default(),
		logEvery: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.fallback == nil {
		o.fallback = NewMemoryStore()
	}

	g := &GuardedStore{
		primary:  primary,
		fallback: o.fallback,
		logger:   o.logger,
		warnings: rate.NewLimiter(rate.Every(o.logEvery), 1),
		observer: o.observer,
		owed:     make(map[string]int64),
	}
	breakerOpts := []resilience.Option{resilience.WithStateChange(g.logTransition)}
	if o.clock != nil {
		breakerOpts = append(breakerOpts, resilience.WithClock(o.clock))
	}
	g.breaker = resilience.NewCircuitBreaker("state-store", o.breaker, breakerOpts...)
	return g
}

// Degraded reports whether calls are currently served from the local fallback.
func (g *GuardedStore) Degraded() bool {
	return g.breaker.State() != resilience.StateClosed
}

// BreakerState returns the breaker state.
func (g *GuardedStore) BreakerState() resilience.CircuitState {
	return g.breaker.State()
}

func (g *GuardedStore) logTransition(name string, from, to resilience.CircuitState) {
	switch to {
	case resilience.StateOpen:
		g.logger.Warn("state store unreachable, serving process-local state",
			"breaker", name, "from", from.String())
	case resilience.StateClosed:
		g.logger.Info("state store recovered, leaving degraded mode", "breaker", name)
	}
	if g.observer != nil {
		g.observer(name, from, to)
	}
}

// guard runs call against the primary store when the breaker allows it and
// falls back to the local store when the primary is unavailable.
func guard[T any](ctx context.Context, g *GuardedStore, op string, call func(Store) (T, error)) (T, error) {
	v, _, err := guardOn(ctx, g, op, call)
	return v, err
}

// guardOn is guard that also reports whether the local fallback served the call.
func guardOn[T any](ctx context.Context, g *GuardedStore, op string, call func(Store) (T, error)) (T, bool, error) {
	if g.breaker.Allow() {
		g.settle(ctx)
		v, err := call(g.primary)
		switch {
		case err == nil:
			g.breaker.RecordSuccess()
			return v, false, nil
		case !errors.Is(err, ErrUnavailable):
			// reachable; the caller either gave up or hit bad data
			g.breaker.RecordSuccess()
			return v, false, err
		}
		g.breaker.RecordFailure()
		g.warn("state store call failed, using process-local state", op, err)
	}
	if ctx.Err() != nil {
		var zero T
		return zero, false, ctx.Err()
	}
	v, err := call(g.fallback)
	return v, true, err
}

func (g *GuardedStore) warn(msg, op string, err error) {
	if g.warnings.Allow() {
		g.logger.Warn(msg, "op", op, "error", err)
	}
}

// IncrLease implements Leaser for counters incremented by one.
func (g *GuardedStore) IncrLease(ctx context.Context, key string, ttl time.Duration) (int64, Lease, error) {
	n, local, err := guardOn(ctx, g, "incrby", func(s Store) (int64, error) { return s.IncrBy(ctx, key, 1, ttl) })
	if err != nil {
		return n, func(context.Context) (int64, error) { return 0, nil }, err
	}
	if local {
		return n, func(ctx context.Context) (int64, error) { return g.fallback.DecrFloor(ctx, key) }, nil
	}
	return n, func(ctx context.Context) (int64, error) { return g.releaseShared(ctx, key) }, nil
}

// releaseShared decrements a counter the shared store incremented. When the
// shared store cannot take it now, the decrement is owed and the returned
// count is zero.
func (g *GuardedStore) releaseShared(ctx context.Context, key string) (int64, error) {
	if g.breaker.Allow() {
		g.settle(ctx)
		n, err := g.primary.DecrFloor(ctx, key)
		if err == nil || !errors.Is(err, ErrUnavailable) {
			g.breaker.RecordSuccess()
			return n, err
		}
		g.breaker.RecordFailure()
		g.warn("state store call failed, deferring counter release", "decr", err)
	}
	g.owe(key, 1)
	return 0, nil
}

func (g *GuardedStore) owe(key string, n int64) {
	g.mu.Lock()
	g.owed[key] += n
	g.owedN.Add(n)
	g.mu.Unlock()
}

// Owed returns how many counter releases wait for the shared store.
func (g *GuardedStore) Owed() int64 { return g.owedN.Load() }

// settle replays owed releases against the shared store. It stops at the
// first unavailable error and keeps the rest owed.
func (g *GuardedStore) settle(ctx context.Context) {
	if g.owedN.Load() == 0 || !g.settling.CompareAndSwap(false, true) {
		return
	}
	defer g.settling.Store(false)

	g.mu.Lock()
	owed := g.owed
	g.owed = make(map[string]int64)
	g.owedN.Store(0)
	g.mu.Unlock()

	ctx = context.WithoutCancel(ctx)
	down := false
	for key, n := range owed {
		for ; n > 0 && !down; n-- {
			_, err := g.primary.DecrFloor(ctx, key)
			switch {
			case errors.Is(err, ErrUnavailable):
				down = true
				n++
			case err != nil:
				g.logger.Error("dropping owed counter release", "key", key, "error", err)
			}
		}
		if n > 0 {
			g.owe(key, n)
		}
	}
	if !down {
		g.logger.Info("replayed owed counter releases", "keys", len(owed))
	}
}

type none struct{}

func discard(err error) (none, error) { return none{}, err }

// IncrBy implements Store.
func (g *GuardedStore) IncrBy(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, error) {
	return guard(ctx, g, "incrby", func(s Store) (int64, error) { return s.IncrBy(ctx, key, delta, ttl) })
}

// DecrFloor implements Store.
func (g *GuardedStore) DecrFloor(ctx context.Context, key string) (int64, error) {
	return guard(ctx, g, "decr", func(s Store) (int64, error) { return s.DecrFloor(ctx, key) })
}

// GetInts implements Store.
func (g *GuardedStore) GetInts(ctx context.Context, keys []string) ([]int64, error) {
	return guard(ctx, g, "get", func(s Store) ([]int64, error) { return s.GetInts(ctx, keys) })
}

// SetEX implements Store.
func (g *GuardedStore) SetEX(ctx context.Context, key, value string, ttl time.Duration) error {
	_, err := guard(ctx, g, "set", func(s Store) (none, error) { return discard(s.SetEX(ctx, key, value, ttl)) })
	return err
}

// MGet implements Store.
func (g *GuardedStore) MGet(ctx context.Context, keys []string) (map[string]string, error) {
	return guard(ctx, g, "get", func(s Store) (map[string]string, error) { return s.MGet(ctx, keys) })
}

// Del implements Store.
func (g *GuardedStore) Del(ctx context.Context, keys ...string) error {
	_, err := guard(ctx, g, "del", func(s Store) (none, error) { return discard(s.Del(ctx, keys...)) })
	return err
}

// HSet implements Store.
func (g *GuardedStore) HSet(ctx context.Context, key string, fields map[string]string) error {
	_, err := guard(ctx, g, "hset", func(s Store) (none, error) { return discard(s.HSet(ctx, key, fields)) })
	return err
}

// HIncrBy implements Store.
func (g *GuardedStore) HIncrBy(ctx context.Context, key, field string, delta int64, set map[string]string) (int64, error) {
	return guard(ctx, g, "hincrby", func(s Store) (int64, error) { return s.HIncrBy(ctx, key, field, delta, set) })
}

// HGetAll implements Store.
func (g *GuardedStore) HGetAll(ctx context.Context, keys []string) (map[string]map[string]string, error) {
	return guard(ctx, g, "hgetall", func(s Store) (map[string]map[string]string, error) { return s.HGetAll(ctx, keys) })
}

// ZAddWindow implements Store.
func (g *GuardedStore) ZAddWindow(ctx context.Context, key string, m ZMember, minScore float64, ttl time.Duration) error {
	_, err := guard(ctx, g, "zadd", func(s Store) (none, error) { return discard(s.ZAddWindow(ctx, key, m, minScore, ttl)) })
	return err
}

// ZRangeWindow implements Store.
func (g *GuardedStore) ZRangeWindow(ctx context.Context, keys []string, minScore float64) (map[string][]ZMember, error) {
	return guard(ctx, g, "zrange", func(s Store) (map[string][]ZMember, error) { return s.ZRangeWindow(ctx, keys, minScore) })
}

// Ping checks the primary store directly, bypassing the breaker.
func (g *GuardedStore) Ping(ctx context.Context) error {
	return g.primary.Ping(ctx)
}

// Close closes both stores.
func (g *GuardedStore) Close() error {
	return errors.Join(g.primary.Close(), g.fallback.Close())
}
