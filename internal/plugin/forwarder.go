package plugin

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/gridkit/gridbus/internal/event"
	"github.com/gridkit/gridbus/internal/plugin/security"
)

// ForwarderOption configures a PluginEventForwarder.
type ForwarderOption func(*forwarderConfig)

type forwarderConfig struct {
	quotas  *security.QuotaManager
	monitor *security.ResourceMonitor
	logger  *zap.Logger
}

func defaultForwarderConfig() forwarderConfig {
	return forwarderConfig{
		logger: zap.NewNop(),
	}
}

// WithForwarderQuotas attaches a quota manager passed to every sandbox
// the forwarder creates.
func WithForwarderQuotas(qm *security.QuotaManager) ForwarderOption {
	return func(c *forwarderConfig) {
		c.quotas = qm
	}
}

// WithForwarderMonitor attaches a resource monitor passed to every
// sandbox the forwarder creates.
func WithForwarderMonitor(rm *security.ResourceMonitor) ForwarderOption {
	return func(c *forwarderConfig) {
		c.monitor = rm
	}
}

// WithForwarderLogger sets the forwarder and sandbox logger.
func WithForwarderLogger(l *zap.Logger) ForwarderOption {
	return func(c *forwarderConfig) {
		if l != nil {
			c.logger = l
		}
	}
}

// PluginEventForwarder owns the sandbox registry: one EventSandbox per
// plugin id over one shared base bus.
type PluginEventForwarder struct {
	mu sync.RWMutex

	base      *event.Bus
	perms     *security.PermissionManager
	quotas    *security.QuotaManager
	monitor   *security.ResourceMonitor
	logger    *zap.Logger
	sandboxes map[string]*EventSandbox
}

// NewPluginEventForwarder creates an empty forwarder over the base bus.
func NewPluginEventForwarder(base *event.Bus, perms *security.PermissionManager, opts ...ForwarderOption) *PluginEventForwarder {
	cfg := defaultForwarderConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &PluginEventForwarder{
		base:      base,
		perms:     perms,
		quotas:    cfg.quotas,
		monitor:   cfg.monitor,
		logger:    cfg.logger,
		sandboxes: make(map[string]*EventSandbox),
	}
}

// CreateSandbox creates and registers a sandbox for the plugin,
// granting it the given capabilities. A duplicate id is a host
// programming error and fails.
func (f *PluginEventForwarder) CreateSandbox(pluginID string, caps ...security.Capability) (*EventSandbox, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.sandboxes[pluginID]; ok {
		return nil, fmt.Errorf("%w: %s", ErrSandboxExists, pluginID)
	}

	f.perms.Grant(pluginID, caps...)
	s := NewEventSandbox(pluginID, f.base, f.perms,
		WithQuotaManager(f.quotas),
		WithResourceMonitor(f.monitor),
		WithSandboxLogger(f.logger))
	f.sandboxes[pluginID] = s

	f.logger.Debug("sandbox created",
		zap.String("plugin", pluginID),
		zap.Int("capabilities", len(caps)))
	return s, nil
}

// DestroySandbox destroys the plugin's sandbox and drops its
// permission, quota and monitoring state.
func (f *PluginEventForwarder) DestroySandbox(pluginID string) error {
	f.mu.Lock()
	s, ok := f.sandboxes[pluginID]
	if ok {
		delete(f.sandboxes, pluginID)
	}
	f.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrSandboxNotFound, pluginID)
	}

	s.Destroy()
	f.perms.Clear(pluginID)
	if f.quotas != nil {
		f.quotas.Remove(pluginID)
	}
	if f.monitor != nil {
		f.monitor.Reset(pluginID)
	}

	f.logger.Debug("sandbox destroyed", zap.String("plugin", pluginID))
	return nil
}

// Sandbox returns the plugin's sandbox, if registered.
func (f *PluginEventForwarder) Sandbox(pluginID string) (*EventSandbox, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	s, ok := f.sandboxes[pluginID]
	return s, ok
}

// Sandboxes returns the registered plugin ids.
func (f *PluginEventForwarder) Sandboxes() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()

	ids := make([]string, 0, len(f.sandboxes))
	for id := range f.sandboxes {
		ids = append(ids, id)
	}
	return ids
}

// Count returns the number of registered sandboxes.
func (f *PluginEventForwarder) Count() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.sandboxes)
}

// Shutdown destroys every sandbox.
func (f *PluginEventForwarder) Shutdown() {
	for _, id := range f.Sandboxes() {
		_ = f.DestroySandbox(id)
	}
}
