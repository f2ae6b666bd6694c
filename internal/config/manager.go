package config

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// ChangeEvent describes an applied reload.
type ChangeEvent struct {
	File      string
	Old       *Config
	New       *Config
	Timestamp time.Time
}

// ChangeHandler is called after a reload has been validated and published.
type ChangeHandler func(event ChangeEvent)

// Manager publishes the current configuration as an atomic snapshot and
// reloads the hot-reloadable sections when the file changes.
type Manager struct {
	v       *viper.Viper
	path    string
	current atomic.Pointer[Config]
	logger  *zap.Logger

	mu       sync.Mutex
	handlers []ChangeHandler
	started  bool
}

// NewManager loads path and returns a manager holding the result.
func NewManager(path string, logger *zap.Logger) (*Manager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	v := newViper(path)
	cfg, err := read(v, path != "")
	if err != nil {
		return nil, err
	}
	m := &Manager{v: v, path: path, logger: logger}
	m.current.Store(cfg)
	return m, nil
}

// Current returns the latest published snapshot. Callers must not modify it.
func (m *Manager) Current() *Config {
	return m.current.Load()
}

// OnChange registers a handler for applied reloads.
func (m *Manager) OnChange(h ChangeHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers = append(m.handlers, h)
}

// Watch starts watching the config file. It is a no-op without a file.
func (m *Manager) Watch() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started || m.path == "" || m.v.ConfigFileUsed() == "" {
		return
	}
	m.started = true
	m.v.OnConfigChange(func(e fsnotify.Event) {
		if e.Op&(fsnotify.Write|fsnotify.Create) == 0 {
			return
		}
		m.reload(e.Name)
	})
	m.v.WatchConfig()
	m.logger.Info("Configuration watch started", zap.String("file", m.path))
}

// Reload re-reads the file immediately.
func (m *Manager) Reload() {
	m.reload(m.path)
}

func (m *Manager) reload(file string) {
	next, err := read(m.v, true)
	if err != nil {
		m.logger.Warn("Configuration reload rejected, keeping previous",
			zap.String("file", file),
			zap.Error(err),
		)
		return
	}

	old := m.current.Load()
	merged := *old
	merged.Pipeline = next.Pipeline
	merged.Logging.Level = next.Logging.Level
	m.current.Store(&merged)

	m.logger.Info("Configuration reloaded",
		zap.String("file", file),
		zap.Float64("dedup_threshold", merged.Pipeline.DedupThreshold),
		zap.Int("max_findings", merged.Pipeline.MaxFindings),
		zap.Int("max_iterations", merged.Pipeline.MaxIterations),
		zap.Duration("deadline", merged.Pipeline.Deadline),
	)

	m.mu.Lock()
	handlers := append([]ChangeHandler(nil), m.handlers...)
	m.mu.Unlock()

	ev := ChangeEvent{File: file, Old: old, New: &merged, Timestamp: time.Now()}
	for _, h := range handlers {
		h(ev)
	}
}
