package main

import (
	"errors"
	"net/http"

	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/blueberrycongee/llmroute/internal/config"
)

type healthHandler interface {
	HealthHandler() http.Handler
}

type configStatusSource interface {
	Status() config.Status
}

var errNilConfig = errors.New("config is required")

func buildMux(cfg *config.Config, gateway healthHandler, configs configStatusSource, gatherer prometheus.Gatherer) (*http.ServeMux, error) {
	if cfg == nil {
		return nil, errNilConfig
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	if gateway != nil {
		mux.Handle("/health/deployments", gateway.HealthHandler())
	}

	if configs != nil {
		mux.HandleFunc("GET /config/status", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(configs.Status())
		})
	}

	if cfg.Metrics.Enabled && gatherer != nil {
		mux.Handle("GET "+cfg.Metrics.Path, promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
	return mux, nil
}
