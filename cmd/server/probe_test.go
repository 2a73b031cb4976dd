package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/blueberrycongee/llmroute/pkg/deployment"
)

func TestHTTPProbe(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusOK)
	seen := make(chan *http.Request, 3)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen <- r.Clone(context.Background())
		w.WriteHeader(int(status.Load()))
	}))
	defer srv.Close()

	probe := newHTTPProbe(srv.Client())
	d := &deployment.Deployment{
		ID:      "dep-a",
		BaseURL: srv.URL + "/v1/",
		Params:  map[string]any{"api_key": "sk-test"},
	}
	ctx := context.Background()

	assert.True(t, probe(ctx, d))
	req := <-seen
	assert.Equal(t, "/v1/models", req.URL.Path)
	assert.Equal(t, "Bearer sk-test", req.Header.Get("Authorization"))

	status.Store(http.StatusUnauthorized)
	assert.True(t, probe(ctx, d), "a 4xx answer still proves reachability")

	status.Store(http.StatusBadGateway)
	assert.False(t, probe(ctx, d))
}

func TestHTTPProbe_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	probe := newHTTPProbe(nil)
	assert.False(t, probe(context.Background(), &deployment.Deployment{ID: "dep-a", BaseURL: url}))
}

func TestHTTPProbe_NoBaseURL(t *testing.T) {
	probe := newHTTPProbe(nil)
	assert.True(t, probe(context.Background(), &deployment.Deployment{ID: "dep-a"}))
}
