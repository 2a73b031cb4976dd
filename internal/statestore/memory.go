package statestore

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
)

// MemoryStore is a process-local Store. Counters and expiring values live in
// a go-cache instance so TTLs behave like the networked store; field maps
// and windows live in plain maps. A single mutex makes every compound
// operation atomic.
type MemoryStore struct {
	mu      sync.Mutex
	kv      *cache.Cache
	hashes  map[string]map[string]string
	windows map[string][]ZMember
}

// NewMemoryStore creates an empty in-process store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		kv:      cache.New(cache.NoExpiration, time.Minute),
		hashes:  make(map[string]map[string]string),
		windows: make(map[string][]ZMember),
	}
}

func expiryFor(ttl time.Duration) time.Duration {
	if ttl > 0 {
		return ttl
	}
	return cache.NoExpiration
}

// intValue must be called with mu held.
func (m *MemoryStore) intValue(key string) (int64, error) {
	raw, ok := m.kv.Get(key)
	if !ok {
		return 0, nil
	}
	switch v := raw.(type) {
	case int64:
		return v, nil
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: key %s holds %q", ErrUnexpectedData, key, v)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("%w: key %s holds %T", ErrUnexpectedData, key, raw)
	}
}

// IncrBy implements Store.
func (m *MemoryStore) IncrBy(_ context.Context, key string, delta int64, ttl time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n, err := m.intValue(key)
	if err != nil {
		return 0, err
	}
	n += delta
	if ttl > 0 {
		m.kv.Set(key, n, ttl)
		return n, nil
	}
	// keep any existing expiry
	if _, exp, ok := m.kv.GetWithExpiration(key); ok && !exp.IsZero() {
		m.kv.Set(key, n, time.Until(exp))
		return n, nil
	}
	m.kv.Set(key, n, cache.NoExpiration)
	return n, nil
}

// DecrFloor implements Store.
func (m *MemoryStore) DecrFloor(_ context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n, err := m.intValue(key)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		n--
	}
	m.kv.Set(key, n, cache.NoExpiration)
	return n, nil
}

// GetInts implements Store.
func (m *MemoryStore) GetInts(_ context.Context, keys []string) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]int64, len(keys))
	for i, key := range keys {
		n, err := m.intValue(key)
		if err != nil {
			return nil, err
		}
		out[i] = n
	}
	return out, nil
}

// SetEX implements Store.
func (m *MemoryStore) SetEX(_ context.Context, key, value string, ttl time.Duration) error {
	m.kv.Set(key, value, expiryFor(ttl))
	return nil
}

// MGet implements Store.
func (m *MemoryStore) MGet(_ context.Context, keys []string) (map[string]string, error) {
	out := make(map[string]string, len(keys))
	for _, key := range keys {
		raw, ok := m.kv.Get(key)
		if !ok {
			continue
		}
		switch v := raw.(type) {
		case string:
			out[key] = v
		case int64:
			out[key] = strconv.FormatInt(v, 10)
		}
	}
	return out, nil
}

// Del implements Store.
func (m *MemoryStore) Del(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, key := range keys {
		m.kv.Delete(key)
		delete(m.hashes, key)
		delete(m.windows, key)
	}
	return nil
}

// HSet implements Store.
func (m *MemoryStore) HSet(_ context.Context, key string, fields map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.setFields(key, fields)
	return nil
}

// setFields must be called with mu held.
func (m *MemoryStore) setFields(key string, fields map[string]string) map[string]string {
	h, ok := m.hashes[key]
	if !ok {
		h = make(map[string]string, len(fields))
		m.hashes[key] = h
	}
	for f, v := range fields {
		h[f] = v
	}
	return h
}

// HIncrBy implements Store.
func (m *MemoryStore) HIncrBy(_ context.Context, key, field string, delta int64, set map[string]string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	h := m.setFields(key, set)
	var n int64
	if raw, ok := h[field]; ok && raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: field %s.%s holds %q", ErrUnexpectedData, key, field, raw)
		}
		n = parsed
	}
	n += delta
	h[field] = strconv.FormatInt(n, 10)
	return n, nil
}

// HGetAll implements Store.
func (m *MemoryStore) HGetAll(_ context.Context, keys []string) (map[string]map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]map[string]string, len(keys))
	for _, key := range keys {
		h, ok := m.hashes[key]
		if !ok {
			continue
		}
		cp := make(map[string]string, len(h))
		for f, v := range h {
			cp[f] = v
		}
		out[key] = cp
	}
	return out, nil
}

// ZAddWindow implements Store. The ttl is not applied in memory; pruning
// bounds each window.
func (m *MemoryStore) ZAddWindow(_ context.Context, key string, member ZMember, minScore float64, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.windows[key] = append(prune(m.windows[key], minScore), member)
	return nil
}

// ZRangeWindow implements Store.
func (m *MemoryStore) ZRangeWindow(_ context.Context, keys []string, minScore float64) (map[string][]ZMember, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string][]ZMember, len(keys))
	for _, key := range keys {
		w := prune(m.windows[key], minScore)
		if len(w) == 0 {
			delete(m.windows, key)
			continue
		}
		m.windows[key] = w
		sorted := append([]ZMember(nil), w...)
		sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Score < sorted[j].Score })
		out[key] = sorted
	}
	return out, nil
}

func prune(w []ZMember, minScore float64) []ZMember {
	kept := w[:0]
	for _, z := range w {
		if z.Score >= minScore {
			kept = append(kept, z)
		}
	}
	return kept
}

// Ping implements Store.
func (m *MemoryStore) Ping(context.Context) error { return nil }

// Close implements Store.
func (m *MemoryStore) Close() error { return nil }
