package main

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blueberrycongee/llmroute/internal/config"
	"github.com/blueberrycongee/llmroute/internal/metrics"
	"github.com/blueberrycongee/llmroute/internal/statestore"
)

func TestBuildStateStore_Memory(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := config.DefaultConfig()

	store, err := buildStateStore(cfg, nil, logger)
	require.NoError(t, err)
	defer store.Close()

	_, ok := store.(*statestore.MemoryStore)
	assert.True(t, ok)
}

func TestBuildStateStore_Redis(t *testing.T) {
	mr := miniredis.RunT(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	cfg := config.DefaultConfig()
	cfg.StateStore.Type = "redis"
	cfg.StateStore.Redis = config.RedisConfig{
		Addrs:        []string{mr.Addr()},
		DialTimeout:  100 * time.Millisecond,
		ReadTimeout:  100 * time.Millisecond,
		WriteTimeout: 100 * time.Millisecond,
	}

	store, err := buildStateStore(cfg, metrics.New(prometheus.NewRegistry()), logger)
	require.NoError(t, err)
	defer store.Close()

	guarded, ok := store.(*statestore.GuardedStore)
	require.True(t, ok)
	assert.False(t, guarded.Degraded())

	ctx := context.Background()
	n, err := store.IncrBy(ctx, "llmroute:test", 3, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.True(t, mr.Exists("llmroute:test"))
}

func TestBuildStateStore_UnknownType(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := config.DefaultConfig()
	cfg.StateStore.Type = "etcd"

	_, err := buildStateStore(cfg, nil, logger)
	assert.Error(t, err)
}
