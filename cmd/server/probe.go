package main

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/blueberrycongee/llmroute/internal/healthcheck"
	"github.com/blueberrycongee/llmroute/pkg/deployment"
)

// newHTTPProbe returns a probe that lists models on the deployment's
// api_base. Any answer below 500 counts as reachable. Deployments without an
// api_base are served by the provider default endpoint and are not probed.
func newHTTPProbe(client *http.Client) healthcheck.ProbeFunc {
	if client == nil {
		client = &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 2,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	}
	return func(ctx context.Context, d *deployment.Deployment) bool {
		if d.BaseURL == "" {
			return true
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimSuffix(d.BaseURL, "/")+"/models", nil)
		if err != nil {
			return false
		}
		if key := d.Param("api_key"); key != "" {
			req.Header.Set("Authorization", "Bearer "+key)
		}

		resp, err := client.Do(req)
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return resp.StatusCode < http.StatusInternalServerError
	}
}
