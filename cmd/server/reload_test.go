package main

import (
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blueberrycongee/llmroute"
	"github.com/blueberrycongee/llmroute/internal/config"
)

type recordingSwapper struct {
	reg       *llmroute.Registry
	routerCfg llmroute.RouterConfig
	err       error
	calls     int
}

func (s *recordingSwapper) Swap(reg *llmroute.Registry, routerCfg llmroute.RouterConfig, _ llmroute.FailoverConfig) error {
	s.calls++
	if s.err != nil {
		return s.err
	}
	s.reg = reg
	s.routerCfg = routerCfg
	return nil
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.RouterSettings.Strategy = "least-busy"
	cfg.ModelList = []config.ModelEntry{
		{ModelName: "gpt-4", DeploymentID: "dep-a"},
		{ModelName: "gpt-4", DeploymentID: "dep-b"},
	}
	return cfg
}

func TestGatewayReloaderSwapsOnSuccess(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(io.Discard, &slog.HandlerOptions{}))
	swapper := &recordingSwapper{}

	err := newGatewayReloader(logger, swapper).Reload(testConfig())
	require.NoError(t, err)

	require.NotNil(t, swapper.reg)
	assert.Equal(t, 2, swapper.reg.Len())
	assert.Equal(t, llmroute.StrategyLeastBusy, swapper.routerCfg.Strategy)
}

func TestGatewayReloaderRejectsBadRegistry(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(io.Discard, &slog.HandlerOptions{}))
	swapper := &recordingSwapper{}

	cfg := testConfig()
	cfg.ModelList = append(cfg.ModelList, config.ModelEntry{ModelName: "gpt-4", DeploymentID: "dep-a"})

	err := newGatewayReloader(logger, swapper).Reload(cfg)
	require.Error(t, err)
	assert.Zero(t, swapper.calls, "swap must not run for an invalid registry")
}

func TestGatewayReloaderReturnsSwapError(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(io.Discard, &slog.HandlerOptions{}))
	swapper := &recordingSwapper{err: errTestReload}

	err := newGatewayReloader(logger, swapper).Reload(testConfig())
	assert.ErrorIs(t, err, errTestReload)
}

var errTestReload = errors.New("reload failed")
