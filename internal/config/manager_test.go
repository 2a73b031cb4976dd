package config

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestManagerStatus(t *testing.T) {
	path := writeConfigFile(t, minimalYAML)
	mgr, err := NewManager(path, quietLogger())
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}

	status := mgr.Status()
	if status.Path != path {
		t.Fatalf("Status().Path = %q, want %q", status.Path, path)
	}
	if status.Checksum == "" {
		t.Fatal("Status().Checksum is empty")
	}
	if status.LoadedAt.IsZero() {
		t.Fatal("Status().LoadedAt is zero")
	}
	if status.ReloadCount != 1 {
		t.Fatalf("Status().ReloadCount = %d, want 1", status.ReloadCount)
	}
}

func TestManagerReloadUpdatesChecksum(t *testing.T) {
	path := writeConfigFile(t, minimalYAML)
	mgr, err := NewManager(path, quietLogger())
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}

	var seen *Config
	mgr.OnChange(func(cfg *Config) error {
		seen = cfg
		return nil
	})
	before := mgr.Status()

	if err := os.WriteFile(path, []byte("server:\n  port: 9090\n"+minimalYAML), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if err := mgr.Reload(); err != nil {
		t.Fatalf("Reload() error = %v", err)
	}

	after := mgr.Status()
	if after.Checksum == before.Checksum {
		t.Fatal("expected checksum to change after reload")
	}
	if after.ReloadCount != before.ReloadCount+1 {
		t.Fatalf("expected reload count %d, got %d", before.ReloadCount+1, after.ReloadCount)
	}
	if mgr.Get().Server.Port != 9090 {
		t.Fatalf("expected server port 9090, got %d", mgr.Get().Server.Port)
	}
	if seen != mgr.Get() {
		t.Fatal("OnChange should receive the new configuration")
	}

	if err := mgr.Reload(); err != nil {
		t.Fatalf("Reload() of an unchanged file error = %v", err)
	}
	if mgr.Status().ReloadCount != after.ReloadCount {
		t.Fatal("an unchanged file should not count as a reload")
	}
}

func TestManagerReloadKeepsCurrentOnError(t *testing.T) {
	path := writeConfigFile(t, minimalYAML)
	mgr, err := NewManager(path, quietLogger())
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	original := mgr.Get()

	if err := os.WriteFile(path, []byte("model_list: []\n"), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if err := mgr.Reload(); err == nil {
		t.Fatal("expected validation error")
	}
	if mgr.Get() != original {
		t.Fatal("invalid config must not replace the current one")
	}
	if !strings.Contains(mgr.Status().LastError, "at least one deployment") {
		t.Fatalf("Status().LastError = %q", mgr.Status().LastError)
	}

	rejected := errors.New("registry rejected")
	mgr.OnChange(func(*Config) error { return rejected })
	if err := os.WriteFile(path, []byte("server:\n  port: 9191\n"+minimalYAML), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if err := mgr.Reload(); !errors.Is(err, rejected) {
		t.Fatalf("Reload() error = %v, want %v", err, rejected)
	}
	if mgr.Get() != original {
		t.Fatal("a rejected config must not replace the current one")
	}
}

func TestManagerWatchReloadsOnWrite(t *testing.T) {
	path := writeConfigFile(t, minimalYAML)
	mgr, err := NewManager(path, quietLogger())
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := mgr.Watch(ctx); err != nil {
		t.Fatalf("Watch() error = %v", err)
	}

	if err := os.WriteFile(path, []byte("server:\n  port: 9292\n"+minimalYAML), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if mgr.Get().Server.Port == 9292 {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("config was not reloaded, port = %d", mgr.Get().Server.Port)
}
