package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	domainconfig "chassis/domain/config"
)

// DynamicConfig represents runtime-changeable configuration
type DynamicConfig struct {
	Features Features       `json:"features"`
	Limits   Limits         `json:"limits"`
	Metadata ConfigMetadata `json:"metadata"`
}

// Features holds runtime feature flags
type Features struct {
	EnablePassivation     bool `json:"enablePassivation"`
	EnableTimerService    bool `json:"enableTimerService"`
	EnableLifecycleEvents bool `json:"enableLifecycleEvents"`
}

// Limits holds runtime limits
type Limits struct {
	MaxPoolSize        int `json:"maxPoolSize"`
	MaxCachedInstances int `json:"maxCachedInstances"`
	MaxHierarchyDepth  int `json:"maxHierarchyDepth"`
	MaxChainDepth      int `json:"maxChainDepth"`
}

// ConfigMetadata holds metadata about the configuration
type ConfigMetadata struct {
	Version   string    `json:"version"`
	UpdatedAt time.Time `json:"updatedAt"`
	UpdatedBy string    `json:"updatedBy"`
}

// ConfigWatcher watches the dynamic configuration file for changes and
// notifies listeners with the reloaded values. An invalid file keeps the
// current configuration.
type ConfigWatcher struct {
	path     string
	watcher  *fsnotify.Watcher
	current  *DynamicConfig
	mu       sync.RWMutex
	onChange []func(*DynamicConfig)
	logger   *zap.Logger
	stopCh   chan struct{}
}

// NewConfigWatcher creates a new configuration watcher
func NewConfigWatcher(configPath string, logger *zap.Logger) (*ConfigWatcher, error) {
	cfg, err := loadConfigFromFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load initial config: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	if err := watcher.Add(configPath); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch config file: %w", err)
	}

	// Watch the directory too so atomic saves (rename) are seen
	if err := watcher.Add(filepath.Dir(configPath)); err != nil {
		logger.Warn("Failed to watch config directory", zap.Error(err))
	}

	return &ConfigWatcher{
		path:     configPath,
		watcher:  watcher,
		current:  cfg,
		onChange: make([]func(*DynamicConfig), 0),
		logger:   logger,
		stopCh:   make(chan struct{}),
	}, nil
}

// Start begins watching for configuration changes
func (w *ConfigWatcher) Start() {
	go w.watchLoop()
	w.logger.Info("Configuration watcher started", zap.String("path", w.path))
}

// Stop stops watching for configuration changes
func (w *ConfigWatcher) Stop() {
	close(w.stopCh)
	w.watcher.Close()
	w.logger.Info("Configuration watcher stopped")
}

func (w *ConfigWatcher) watchLoop() {
	// Debounce so editors emitting multiple events trigger one reload
	var debounceTimer *time.Timer
	debounceDuration := 100 * time.Millisecond

	for {
		select {
		case <-w.stopCh:
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != filepath.Base(w.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				if debounceTimer != nil {
					debounceTimer.Stop()
				}
				debounceTimer = time.AfterFunc(debounceDuration, func() {
					w.handleConfigChange()
				})
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("File watcher error", zap.Error(err))
		}
	}
}

func (w *ConfigWatcher) handleConfigChange() {
	w.logger.Info("Configuration file changed, reloading", zap.String("path", w.path))

	newConfig, err := loadConfigFromFile(w.path)
	if err != nil {
		w.logger.Error("Failed to reload configuration", zap.Error(err))
		return
	}
	if err := validateDynamicConfig(newConfig); err != nil {
		w.logger.Error("Invalid configuration, keeping current", zap.Error(err))
		return
	}

	w.mu.Lock()
	w.current = newConfig
	handlers := w.onChange
	w.mu.Unlock()

	for _, handler := range handlers {
		go handler(newConfig)
	}

	w.logger.Info("Configuration reloaded successfully",
		zap.String("version", newConfig.Metadata.Version))
}

func validateDynamicConfig(cfg *DynamicConfig) error {
	if cfg.Limits.MaxPoolSize <= 0 {
		return fmt.Errorf("maxPoolSize must be positive")
	}
	if cfg.Limits.MaxCachedInstances <= 0 {
		return fmt.Errorf("maxCachedInstances must be positive")
	}
	if cfg.Limits.MaxHierarchyDepth <= 0 {
		return fmt.Errorf("maxHierarchyDepth must be positive")
	}
	if cfg.Limits.MaxChainDepth <= 0 {
		return fmt.Errorf("maxChainDepth must be positive")
	}
	return nil
}

// OnChange registers a callback for configuration changes
func (w *ConfigWatcher) OnChange(handler func(*DynamicConfig)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onChange = append(w.onChange, handler)
}

// GetCurrent returns the current configuration
func (w *ConfigWatcher) GetCurrent() *DynamicConfig {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// ApplyTo installs a new domain configuration snapshot combining the
// store's current values with the dynamic limits and features. The store
// swaps snapshots atomically, so concurrent readers are never exposed to a
// half-applied reload.
func (w *ConfigWatcher) ApplyTo(store *domainconfig.Store) {
	w.mu.RLock()
	dyn := w.current
	w.mu.RUnlock()

	next := *store.Current()
	next.MaxPoolSize = dyn.Limits.MaxPoolSize
	next.MaxCachedInstances = dyn.Limits.MaxCachedInstances
	next.MaxHierarchyDepth = dyn.Limits.MaxHierarchyDepth
	next.MaxChainDepth = dyn.Limits.MaxChainDepth
	next.EnablePassivation = dyn.Features.EnablePassivation
	next.EnableTimerService = dyn.Features.EnableTimerService
	next.EnableLifecycleEvents = dyn.Features.EnableLifecycleEvents
	store.Replace(&next)
}

// loadConfigFromFile loads configuration from a JSON file
func loadConfigFromFile(path string) (*DynamicConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg DynamicConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if cfg.Metadata.Version == "" {
		cfg.Metadata.Version = "1.0.0"
	}
	cfg.Metadata.UpdatedAt = time.Now()
	return &cfg, nil
}
