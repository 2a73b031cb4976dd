package healthcheck

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/blueberrycongee/llmroute/internal/cooldown"
	"github.com/blueberrycongee/llmroute/internal/state"
	"github.com/blueberrycongee/llmroute/internal/statestore"
	"github.com/blueberrycongee/llmroute/pkg/deployment"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type env struct {
	registry  *deployment.Registry
	backend   *state.Backend
	cooldowns *cooldown.Manager
}

func newEnv(t *testing.T) *env {
	t.Helper()
	reg, err := deployment.NewRegistry([]deployment.Entry{
		{ModelName: "gpt-4", DeploymentID: "dep-a"},
		{ModelName: "gpt-4", DeploymentID: "dep-b"},
		{ModelName: "claude", DeploymentID: "dep-c"},
	})
	require.NoError(t, err)

	backend := state.New(statestore.NewMemoryStore(), state.WithLogger(quietLogger()))
	return &env{
		registry: reg,
		backend:  backend,
		cooldowns: cooldown.NewManager(backend, cooldown.Config{
			AllowedFails: 3,
			CooldownTime: time.Minute,
		}, cooldown.WithLogger(quietLogger())),
	}
}
