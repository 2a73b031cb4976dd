package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/blueberrycongee/llmroute/internal/config"
	"github.com/blueberrycongee/llmroute/internal/metrics"
	"github.com/blueberrycongee/llmroute/internal/statestore"
)

const storePingTimeout = 3 * time.Second

func buildStateStore(cfg *config.Config, m *metrics.Metrics, logger *slog.Logger) (statestore.Store, error) {
	storeType := strings.ToLower(cfg.StateStore.Type)
	if storeType == "" {
		storeType = "memory"
	}

	switch storeType {
	case "memory":
		logger.Info("state store enabled", "type", storeType)
		return statestore.NewMemoryStore(), nil
	case "redis":
	default:
		return nil, fmt.Errorf("unsupported state store type: %s", cfg.StateStore.Type)
	}

	client := newRedisClient(cfg.StateStore.Redis)
	ctx, cancel := context.WithTimeout(context.Background(), storePingTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		// the guarded store serves from local state until redis answers
		logger.Warn("state store unreachable at startup", "error", err)
	}

	opts := []statestore.GuardOption{
		statestore.WithBreakerConfig(cfg.BreakerConfig()),
		statestore.WithLogger(logger),
	}
	if cfg.StateStore.DegradedLogInterval > 0 {
		opts = append(opts, statestore.WithDegradedLogInterval(cfg.StateStore.DegradedLogInterval))
	}
	if m != nil {
		opts = append(opts, statestore.WithBreakerObserver(m.ObserveBreaker))
	}

	logger.Info("state store enabled",
		"type", storeType,
		"addrs", cfg.StateStore.Redis.Addrs,
		"cluster_mode", cfg.StateStore.Redis.ClusterMode,
	)
	return statestore.NewGuardedStore(statestore.NewRedisStore(client), opts...), nil
}

func newRedisClient(cfg config.RedisConfig) redis.UniversalClient {
	if cfg.ClusterMode {
		return redis.NewClusterClient(&redis.ClusterOptions{
			Addrs:        cfg.Addrs,
			Password:     cfg.Password,
			PoolSize:     cfg.PoolSize,
			DialTimeout:  cfg.DialTimeout,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		})
	}

	addr := "localhost:6379"
	if len(cfg.Addrs) > 0 {
		addr = cfg.Addrs[0]
	}
	return redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})
}
