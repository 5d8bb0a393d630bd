package config

import (
	"context"
	"errors"
	"path/filepath"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"
)

// ChangeFunc is called after a reloaded configuration passed validation.
type ChangeFunc func(old, new *Config)

type Manager struct {
	path   string
	logger *log.Logger

	mu       sync.RWMutex
	config   *Config
	watchers []ChangeFunc

	watcher *fsnotify.Watcher
	wg      sync.WaitGroup
}

// NewManager loads the configuration at path (default location when empty).
// A missing file is not an error: defaults plus environment credentials apply.
func NewManager(path string, logger *log.Logger) (*Manager, error) {
	if logger == nil {
		logger = log.Default()
	}
	logger = logger.With("component", "config")

	configPath, err := ResolvePath(path)
	if err != nil {
		return nil, err
	}

	config, err := Load(configPath)
	if errors.Is(err, ErrConfigNotFound) {
		logger.Info("no config file, using defaults", "path", configPath)
	} else if err != nil {
		logger.Error("failed to load initial configuration", "err", err)
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &Manager{
		path:   configPath,
		logger: logger,
		config: config,
	}, nil
}

// Path returns the watched file
func (m *Manager) Path() string {
	return m.path
}

func (m *Manager) GetConfig() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.config.Clone()
}

// OnChange registers fn to run after every successful reload.
func (m *Manager) OnChange(fn ChangeFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.watchers = append(m.watchers, fn)
}

func (m *Manager) StartWatching(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	m.watcher = watcher

	// watch the directory: editors and Save replace the file rather than write it
	if err := watcher.Add(filepath.Dir(m.path)); err != nil {
		watcher.Close()
		return err
	}

	m.wg.Add(1)
	go m.watchLoop(ctx)

	m.logger.Info("watching for changes", "path", m.path)
	return nil
}

func (m *Manager) Stop() {
	if m.watcher != nil {
		m.watcher.Close()
	}
	m.wg.Wait()
}

func (m *Manager) watchLoop(ctx context.Context) {
	defer m.wg.Done()
	configFileName := filepath.Base(m.path)

	for {
		select {
		case event, ok := <-m.watcher.Events:
			if !ok {
				return
			}

			if filepath.Base(event.Name) != configFileName {
				continue
			}

			// Only react to Write and Create events (ignore Chmod, Remove, etc.)
			if event.Op&fsnotify.Write == fsnotify.Write || event.Op&fsnotify.Create == fsnotify.Create {
				m.logger.Debug("file change detected", "event", event.Op.String())
				m.Reload()
			}

		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			m.logger.Warn("watcher error", "err", err)

		case <-ctx.Done():
			return
		}
	}
}

// Reload re-reads the file; an invalid file leaves the current config in place.
func (m *Manager) Reload() error {
	newConfig, err := Load(m.path)
	if err != nil {
		m.logger.Error("failed to reload config", "err", err)
		return err
	}

	if err := newConfig.Validate(); err != nil {
		m.logger.Error("invalid config after reload, keeping previous", "err", err)
		return err
	}

	m.mu.Lock()
	old := m.config
	m.config = newConfig
	watchers := append([]ChangeFunc(nil), m.watchers...)
	m.mu.Unlock()

	m.logger.Info("configuration reloaded")
	for _, fn := range watchers {
		fn(old, newConfig)
	}
	return nil
}
