// Package settings loads the user's settings file and republishes it on change.
package settings

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/genricoloni/tabcast/internal/domain"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// reloadDelay collapses the burst of events editors produce for one save
const reloadDelay = 100 * time.Millisecond

// FileStore is a domain.SettingsSource backed by a YAML file
type FileStore struct {
	logger *zap.Logger
	path   string

	mu      sync.RWMutex
	current domain.Settings

	// notifyMu serialises deliveries so subscribers never see settings out of order
	notifyMu    sync.Mutex
	subscribers map[int]func(domain.Settings)
	nextID      int
}

// NewFileStore creates a store for the configured settings file.
// It starts with the default settings until Load is called.
func NewFileStore(logger *zap.Logger, cfg domain.Config) *FileStore {
	return &FileStore{
		logger:      logger,
		path:        filepath.Clean(cfg.GetSettingsFile()),
		current:     domain.DefaultSettings(),
		subscribers: make(map[int]func(domain.Settings)),
	}
}

// Path returns the settings file path
func (s *FileStore) Path() string {
	return s.path
}

// Current returns the latest settings
func (s *FileStore) Current() domain.Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Load reads the settings file. A missing file yields the defaults; a
// malformed file returns an error and keeps the previous settings.
func (s *FileStore) Load() error {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		s.logger.Info("Settings file not found, using defaults", zap.String("path", s.path))
		s.publish(domain.DefaultSettings())
		return nil
	}
	if err != nil {
		return fmt.Errorf("read settings: %w", err)
	}

	settings, err := Parse(data)
	if err != nil {
		return fmt.Errorf("parse %s: %w", s.path, err)
	}

	s.logger.Info("Settings loaded",
		zap.String("path", s.path),
		zap.String("filterMode", string(settings.Filter.Mode)),
		zap.Int("filterRules", len(settings.Filter.Rules)),
		zap.String("displayURL", settings.Connection.URL()))
	s.publish(settings)
	return nil
}

// Subscribe calls fn with the current settings and after every change.
// fn must not call Subscribe.
func (s *FileStore) Subscribe(fn func(domain.Settings)) (unsubscribe func()) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	id := s.nextID
	s.nextID++
	s.subscribers[id] = fn

	s.safeCall(fn, s.Current())

	var once sync.Once
	return func() {
		once.Do(func() {
			s.notifyMu.Lock()
			defer s.notifyMu.Unlock()
			delete(s.subscribers, id)
		})
	}
}

// Watch reloads the file whenever it changes until ctx is cancelled.
// The parent directory is watched so that editors replacing the file are noticed.
func (s *FileStore) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create settings directory: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	s.logger.Info("Watching settings file", zap.String("path", s.path))

	reload := time.NewTimer(reloadDelay)
	reload.Stop()
	defer reload.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != s.path {
				continue
			}
			// removal is ignored, the replacing file arrives as Create
			if event.Op&(fsnotify.Create|fsnotify.Write) != 0 {
				reload.Reset(reloadDelay)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn("Settings watcher error", zap.Error(err))

		case <-reload.C:
			if err := s.Load(); err != nil {
				s.logger.Warn("Ignoring invalid settings file", zap.Error(err))
			}
		}
	}
}

// Parse decodes a settings document. Omitted fields keep their defaults.
func Parse(data []byte) (domain.Settings, error) {
	settings := domain.DefaultSettings()
	if err := yaml.Unmarshal(data, &settings); err != nil {
		return domain.Settings{}, err
	}

	switch settings.Filter.Mode {
	case domain.FilterModeAllow, domain.FilterModeBlock:
	case "":
		settings.Filter.Mode = domain.FilterModeBlock
	default:
		return domain.Settings{}, fmt.Errorf("unknown filter mode %q", settings.Filter.Mode)
	}

	for i, rule := range settings.Filter.Rules {
		if rule.Value == "" {
			return domain.Settings{}, fmt.Errorf("filter rule %d has no value", i)
		}
	}

	if settings.Connection.Port < 0 || settings.Connection.Port > 65535 {
		return domain.Settings{}, fmt.Errorf("invalid port %d", settings.Connection.Port)
	}
	if settings.Connection.Host == "" {
		settings.Connection.Host = domain.DefaultHost
	}
	return settings, nil
}

func (s *FileStore) publish(settings domain.Settings) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	s.current = settings
	s.mu.Unlock()

	for _, fn := range s.subscribers {
		s.safeCall(fn, settings)
	}
}

// safeCall keeps a panicking subscriber from taking down the watcher
func (s *FileStore) safeCall(fn func(domain.Settings), settings domain.Settings) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Settings subscriber panicked", zap.Any("panic", r))
		}
	}()
	fn(settings)
}
