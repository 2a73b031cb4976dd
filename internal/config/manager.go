package config

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

const debounceDelay = 500 * time.Millisecond

// Status describes the currently loaded configuration.
type Status struct {
	Path        string    `json:"path"`
	Checksum    string    `json:"checksum"`
	LoadedAt    time.Time `json:"loaded_at"`
	ReloadCount int64     `json:"reload_count"`
	LastError   string    `json:"last_error,omitempty"`
}

type snapshot struct {
	config   *Config
	checksum string
	loadedAt time.Time
}

// Manager handles configuration loading and hot-reload.
// It uses atomic pointer swaps to ensure thread-safe config updates.
type Manager struct {
	current  atomic.Pointer[snapshot]
	path     string
	reloads  atomic.Int64
	logger   *slog.Logger
	watcher  *fsnotify.Watcher
	mu       sync.Mutex
	onChange []func(*Config) error
	lastErr  atomic.Pointer[string]
}

// NewManager loads path and creates a configuration manager.
func NewManager(path string, logger *slog.Logger) (*Manager, error) {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{path: path, logger: logger}

	snap, err := load(path)
	if err != nil {
		return nil, err
	}
	m.current.Store(snap)
	m.reloads.Add(1)
	return m, nil
}

func load(path string) (*snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}
	sum := sha256.Sum256(data)
	return &snapshot{
		config:   cfg,
		checksum: hex.EncodeToString(sum[:]),
		loadedAt: time.Now(),
	}, nil
}

// Get returns the current configuration.
// This is safe to call concurrently from multiple goroutines.
func (m *Manager) Get() *Config {
	return m.current.Load().config
}

// Status reports what is loaded and how many times it has been loaded.
func (m *Manager) Status() Status {
	snap := m.current.Load()
	st := Status{
		Path:        m.path,
		Checksum:    snap.checksum,
		LoadedAt:    snap.loadedAt,
		ReloadCount: m.reloads.Load(),
	}
	if msg := m.lastErr.Load(); msg != nil {
		st.LastError = *msg
	}
	return st
}

// OnChange registers a callback invoked after a successful reload. If a
// callback fails, the previous configuration is kept.
func (m *Manager) OnChange(fn func(*Config) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onChange = append(m.onChange, fn)
}

// Reload re-reads the file. An invalid file, or a rejecting callback, leaves
// the current configuration in place.
func (m *Manager) Reload() error {
	next, err := load(m.path)
	if err != nil {
		m.fail(err)
		return err
	}
	if prev := m.current.Load(); prev != nil && prev.checksum == next.checksum {
		return nil
	}

	m.mu.Lock()
	callbacks := append([]func(*Config) error(nil), m.onChange...)
	m.mu.Unlock()

	for _, fn := range callbacks {
		if err := fn(next.config); err != nil {
			err = fmt.Errorf("apply config: %w", err)
			m.fail(err)
			return err
		}
	}

	m.current.Store(next)
	m.reloads.Add(1)
	m.lastErr.Store(nil)
	m.logger.Info("configuration reloaded successfully", "checksum", next.checksum[:12])
	return nil
}

func (m *Manager) fail(err error) {
	msg := err.Error()
	m.lastErr.Store(&msg)
	m.logger.Error("failed to reload config, keeping current", "error", err)
}

// Watch starts watching the configuration file for changes until ctx is done.
// The parent directory is watched so editors that replace the file are seen.
func (m *Manager) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(filepath.Dir(m.path)); err != nil {
		_ = watcher.Close()
		return err
	}
	m.watcher = watcher

	go m.watchLoop(ctx, watcher)
	return nil
}

func (m *Manager) watchLoop(ctx context.Context, watcher *fsnotify.Watcher) {
	var debounceTimer *time.Timer
	target := filepath.Clean(m.path)

	for {
		select {
		case <-ctx.Done():
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			_ = watcher.Close()
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				if debounceTimer != nil {
					debounceTimer.Stop()
				}
				debounceTimer = time.AfterFunc(debounceDelay, func() {
					_ = m.Reload()
				})
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			m.logger.Error("config watcher error", "error", err)
		}
	}
}

// Close stops the configuration watcher.
func (m *Manager) Close() error {
	if m.watcher != nil {
		return m.watcher.Close()
	}
	return nil
}
