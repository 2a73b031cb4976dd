package main

import (
	"errors"
	"log/slog"
	"sync/atomic"

	"github.com/blueberrycongee/llmroute"
	"github.com/blueberrycongee/llmroute/internal/config"
)

var errReloadInProgress = errors.New("gateway reload already in progress")

type gatewaySwapper interface {
	Swap(reg *llmroute.Registry, routerCfg llmroute.RouterConfig, failoverCfg llmroute.FailoverConfig) error
}

// gatewayReloader rebuilds the registry from a new config and swaps it into
// the gateway. It is registered as a config.Manager callback, so a returned
// error keeps the previous config current.
type gatewayReloader struct {
	logger     *slog.Logger
	gateway    gatewaySwapper
	inProgress atomic.Bool
}

func newGatewayReloader(logger *slog.Logger, gateway gatewaySwapper) *gatewayReloader {
	if logger == nil {
		logger = slog.Default()
	}
	return &gatewayReloader{
		logger:  logger,
		gateway: gateway,
	}
}

func (r *gatewayReloader) Reload(cfg *config.Config) error {
	if !r.inProgress.CompareAndSwap(false, true) {
		r.logger.Warn("gateway reload already in progress")
		return errReloadInProgress
	}
	defer r.inProgress.Store(false)

	reg, err := cfg.BuildRegistry()
	if err != nil {
		r.logger.Error("failed to rebuild deployment registry", "error", err)
		return err
	}
	if err := r.gateway.Swap(reg, cfg.RouterConfig(), cfg.FailoverConfig()); err != nil {
		r.logger.Error("failed to swap gateway configuration", "error", err)
		return err
	}

	r.logger.Info("gateway reloaded",
		"deployments", reg.Len(),
		"routing_strategy", cfg.RouterSettings.Strategy,
	)
	return nil
}
