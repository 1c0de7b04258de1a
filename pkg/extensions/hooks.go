// Package extensions lets embedders observe and extend the runtime without
// touching the interceptor chains. Hooks fire around host-level operations;
// plugins bundle hook registrations behind a lifecycle.
package extensions

import (
	"context"
	"fmt"
	"sync"
)

// HookPoint represents a point in the runtime where hooks can be registered
type HookPoint string

const (
	// Type registration hooks
	HookBeforeTypeRegister HookPoint = "before_type_register"
	HookAfterTypeRegister  HookPoint = "after_type_register"
	HookTypeRegisterFailed HookPoint = "type_register_failed"

	// Instance lifecycle hooks
	HookInstanceConstructed HookPoint = "instance_constructed"
	HookInstanceAcquired    HookPoint = "instance_acquired"
	HookInstanceReleased    HookPoint = "instance_released"
	HookInstanceRemoved     HookPoint = "instance_removed"
	HookInstanceDiscarded   HookPoint = "instance_discarded"

	// Invocation hooks
	HookBeforeInvoke HookPoint = "before_invoke"
	HookAfterInvoke  HookPoint = "after_invoke"
	HookInvokeFailed HookPoint = "invoke_failed"
)

// HookData is what hooks receive. Fields are filled as far as the hook
// point knows them.
type HookData struct {
	ComponentType string                 `json:"component_type"`
	InstanceID    string                 `json:"instance_id,omitempty"`
	IdentityKey   string                 `json:"identity_key,omitempty"`
	Operation     string                 `json:"operation,omitempty"`
	Error         error                  `json:"-"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
}

// Hook is a function executed at a hook point
type Hook func(ctx context.Context, data HookData) error

// HookManager manages hooks for runtime extension points
type HookManager struct {
	hooks map[HookPoint][]Hook
	mu    sync.RWMutex
}

// NewHookManager creates a new hook manager
func NewHookManager() *HookManager {
	return &HookManager{
		hooks: make(map[HookPoint][]Hook),
	}
}

// Register registers a hook for a specific hook point
func (m *HookManager) Register(point HookPoint, hook Hook) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.hooks[point] = append(m.hooks[point], hook)
}

// Execute runs all hooks for a hook point; the first error stops the rest
func (m *HookManager) Execute(ctx context.Context, point HookPoint, data HookData) error {
	m.mu.RLock()
	hooks := m.hooks[point]
	m.mu.RUnlock()

	for i, hook := range hooks {
		if err := hook(ctx, data); err != nil {
			return fmt.Errorf("hook %d at %s failed: %w", i, point, err)
		}
	}
	return nil
}

// ExecuteAsync runs hooks in goroutines, dropping their errors. For
// observation-only hook points where the caller must not block.
func (m *HookManager) ExecuteAsync(ctx context.Context, point HookPoint, data HookData) {
	m.mu.RLock()
	hooks := m.hooks[point]
	m.mu.RUnlock()

	for _, hook := range hooks {
		go func(h Hook) {
			_ = h(ctx, data)
		}(hook)
	}
}

// Clear removes all hooks for a specific hook point
func (m *HookManager) Clear(point HookPoint) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.hooks, point)
}

// ClearAll removes all registered hooks
func (m *HookManager) ClearAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.hooks = make(map[HookPoint][]Hook)
}

// Plugin bundles hook registrations behind a lifecycle
type Plugin interface {
	// Name returns the plugin name
	Name() string

	// Version returns the plugin version
	Version() string

	// Initialize initializes the plugin
	Initialize(ctx context.Context) error

	// RegisterHooks registers the plugin's hooks
	RegisterHooks(manager *HookManager) error

	// Shutdown gracefully shuts down the plugin
	Shutdown(ctx context.Context) error
}

// PluginManager manages plugins
type PluginManager struct {
	plugins     map[string]Plugin
	hookManager *HookManager
	mu          sync.RWMutex
}

// NewPluginManager creates a new plugin manager
func NewPluginManager(hookManager *HookManager) *PluginManager {
	return &PluginManager{
		plugins:     make(map[string]Plugin),
		hookManager: hookManager,
	}
}

// Register initializes a plugin and installs its hooks
func (m *PluginManager) Register(ctx context.Context, plugin Plugin) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	name := plugin.Name()
	if _, exists := m.plugins[name]; exists {
		return fmt.Errorf("plugin %s already registered", name)
	}

	if err := plugin.Initialize(ctx); err != nil {
		return fmt.Errorf("failed to initialize plugin %s: %w", name, err)
	}
	if err := plugin.RegisterHooks(m.hookManager); err != nil {
		return fmt.Errorf("failed to register hooks for plugin %s: %w", name, err)
	}

	m.plugins[name] = plugin
	return nil
}

// Unregister shuts a plugin down and forgets it. Its hooks stay installed
// until the owner clears the hook points.
func (m *PluginManager) Unregister(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	plugin, exists := m.plugins[name]
	if !exists {
		return fmt.Errorf("plugin %s not found", name)
	}

	if err := plugin.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown plugin %s: %w", name, err)
	}

	delete(m.plugins, name)
	return nil
}

// GetPlugin retrieves a plugin by name
func (m *PluginManager) GetPlugin(name string) (Plugin, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	plugin, exists := m.plugins[name]
	return plugin, exists
}

// ListPlugins returns the names of registered plugins
func (m *PluginManager) ListPlugins() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.plugins))
	for name := range m.plugins {
		names = append(names, name)
	}
	return names
}
