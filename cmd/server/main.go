// Package main is the entry point for the llmroute gateway server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/blueberrycongee/llmroute"
	"github.com/blueberrycongee/llmroute/internal/config"
	"github.com/blueberrycongee/llmroute/internal/healthcheck"
	"github.com/blueberrycongee/llmroute/internal/metrics"
	"github.com/blueberrycongee/llmroute/internal/observability"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to configuration file")
	flag.Parse()

	bootstrap := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	if err := run(*configPath, bootstrap); err != nil {
		bootstrap.Error("llmroute gateway failed", "error", err)
		os.Exit(1)
	}
}

func run(configPath string, bootstrap *slog.Logger) error {
	cfgManager, err := config.NewManager(configPath, bootstrap)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	defer cfgManager.Close()
	cfg := cfgManager.Get()

	logger := observability.NewLogger(observability.LoggerConfig{
		Level:      observability.ParseLevel(cfg.Logging.Level),
		Output:     os.Stdout,
		JSONFormat: cfg.Logging.Format != "text",
	}, observability.NewRedactor())
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	instanceID := uuid.NewString()
	logger.Info("starting llmroute gateway", "version", llmroute.Version, "instance_id", instanceID)
	tp, err := observability.InitTracing(ctx, cfg.Tracing, instanceID)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			logger.Warn("tracer shutdown failed", "error", err)
		}
	}()

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(promRegistry)

	store, err := buildStateStore(cfg, m, logger)
	if err != nil {
		return err
	}

	reg, err := cfg.BuildRegistry()
	if err != nil {
		_ = store.Close()
		return fmt.Errorf("build deployment registry: %w", err)
	}

	gw, err := llmroute.New(reg,
		llmroute.WithStore(store),
		llmroute.WithKeyPrefix(cfg.StateStore.KeyPrefix),
		llmroute.WithRouterConfig(cfg.RouterConfig()),
		llmroute.WithFailoverConfig(cfg.FailoverConfig()),
		llmroute.WithHealthCheck(healthcheck.Config{
			Enabled:  cfg.HealthCheck.Enabled,
			Interval: cfg.HealthCheck.Interval,
			Timeout:  cfg.HealthCheck.Timeout,
		}, newHTTPProbe(nil)),
		llmroute.WithPassiveThreshold(cfg.HealthCheck.PassiveFailureThreshold),
		llmroute.WithLogger(logger),
		llmroute.WithTracer(tp.Tracer()),
		llmroute.WithMetrics(m),
	)
	if err != nil {
		_ = store.Close()
		return fmt.Errorf("create gateway: %w", err)
	}
	defer func() {
		if err := gw.Close(); err != nil {
			logger.Warn("gateway close failed", "error", err)
		}
	}()
	gw.Start(ctx)

	cfgManager.OnChange(newGatewayReloader(logger, gw).Reload)
	if err := cfgManager.Watch(ctx); err != nil {
		logger.Warn("config hot-reload disabled", "error", err)
	}

	mux, err := buildMux(cfg, gw, cfgManager, promRegistry)
	if err != nil {
		return err
	}

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      buildMiddlewareStack(m, logger)(mux),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("server listening", "port", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case sig := <-quit:
		logger.Info("shutting down server", "signal", sig.String())
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server: %w", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}
	cancel()

	logger.Info("server stopped")
	return nil
}
