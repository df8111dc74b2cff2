package plugin

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/gridkit/gridbus/internal/event"
	"github.com/gridkit/gridbus/internal/event/events"
	"github.com/gridkit/gridbus/internal/event/topic"
	"github.com/gridkit/gridbus/internal/plugin/lua"
	"github.com/gridkit/gridbus/internal/plugin/security"
)

// Status is a plugin's lifecycle state.
type Status int

const (
	StatusLoaded Status = iota
	StatusActive
	StatusDeactivated
)

// String returns a human-readable status name.
func (s Status) String() string {
	switch s {
	case StatusLoaded:
		return "loaded"
	case StatusActive:
		return "active"
	case StatusDeactivated:
		return "deactivated"
	default:
		return "unknown"
	}
}

// HostOption configures a Host.
type HostOption func(*Host)

// WithHostLogger sets the host logger.
func WithHostLogger(l *zap.Logger) HostOption {
	return func(h *Host) {
		if l != nil {
			h.logger = l
		}
	}
}

// loadedPlugin joins one plugin's manifest, sandbox and script runtime.
type loadedPlugin struct {
	manifest *Manifest
	sandbox  *EventSandbox
	runtime  *lua.Runtime
	status   Status
}

// Host runs Lua plugins: it joins manifests, sandboxes from the
// forwarder, and script runtimes, and drives the load/activate/
// deactivate/unload lifecycle. Lifecycle transitions are announced on
// the base bus under the "plugin:" namespace.
type Host struct {
	mu sync.Mutex

	base      *event.Bus
	forwarder *PluginEventForwarder
	logger    *zap.Logger
	plugins   map[string]*loadedPlugin
}

// NewHost creates a host over the forwarder's base bus.
func NewHost(base *event.Bus, forwarder *PluginEventForwarder, opts ...HostOption) *Host {
	h := &Host{
		base:      base,
		forwarder: forwarder,
		logger:    zap.NewNop(),
		plugins:   make(map[string]*loadedPlugin),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Load creates the plugin's sandbox and script runtime from its
// manifest. The script itself does not run until Activate.
func (h *Host) Load(m *Manifest) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.plugins[m.Name]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyLoaded, m.Name)
	}

	sandbox, err := h.forwarder.CreateSandbox(m.Name, m.Capabilities...)
	if err != nil {
		return err
	}
	if m.Quota != nil && h.forwarder.quotas != nil {
		h.forwarder.quotas.SetQuota(m.Name, m.Quota.ToQuota())
	}

	boundary := security.NewErrorBoundary(m.Name, h.reportPluginError,
		security.WithLogger(h.logger))
	state := lua.NewState()
	runtime := lua.NewRuntime(state, sandbox, boundary, h.logger)

	h.plugins[m.Name] = &loadedPlugin{
		manifest: m,
		sandbox:  sandbox,
		runtime:  runtime,
		status:   StatusLoaded,
	}

	h.logger.Info("plugin loaded",
		zap.String("plugin", m.Name),
		zap.String("version", m.Version))
	h.announce(events.TopicPluginLoaded, m)
	return nil
}

// Activate runs the plugin's main script and its activate() function,
// if defined.
func (h *Host) Activate(name string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	p, ok := h.plugins[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotLoaded, name)
	}
	if p.status == StatusActive {
		return nil
	}

	if err := p.runtime.LoadFile(p.manifest.MainPath()); err != nil {
		return fmt.Errorf("plugin %s: %w", name, err)
	}
	if err := p.runtime.CallIfPresent("activate"); err != nil {
		return fmt.Errorf("plugin %s: %w", name, err)
	}

	p.status = StatusActive
	h.logger.Info("plugin activated", zap.String("plugin", name))
	h.announce(events.TopicPluginActivated, p.manifest)
	return nil
}

// Deactivate calls the plugin's deactivate() function, if defined, and
// marks it inactive. Its sandbox and subscriptions stay in place.
func (h *Host) Deactivate(name string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	p, ok := h.plugins[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotLoaded, name)
	}
	if p.status != StatusActive {
		return fmt.Errorf("%w: %s", ErrNotActive, name)
	}

	// A throwing deactivate() is reported through the boundary but
	// does not block the transition.
	_ = p.runtime.CallIfPresent("deactivate")

	p.status = StatusDeactivated
	h.logger.Info("plugin deactivated", zap.String("plugin", name))
	h.announce(events.TopicPluginDeactivated, p.manifest)
	return nil
}

// Unload tears the plugin down: deactivates it if active, closes the
// script runtime and destroys the sandbox.
func (h *Host) Unload(name string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	p, ok := h.plugins[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotLoaded, name)
	}
	if p.status == StatusActive {
		_ = p.runtime.CallIfPresent("deactivate")
	}

	p.runtime.Close()
	if err := h.forwarder.DestroySandbox(name); err != nil {
		h.logger.Warn("sandbox teardown failed",
			zap.String("plugin", name), zap.Error(err))
	}
	delete(h.plugins, name)

	h.logger.Info("plugin unloaded", zap.String("plugin", name))
	h.announce(events.TopicPluginUnloaded, p.manifest)
	return nil
}

// Plugins returns the loaded plugin names.
func (h *Host) Plugins() []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	names := make([]string, 0, len(h.plugins))
	for name := range h.plugins {
		names = append(names, name)
	}
	return names
}

// Status returns a plugin's lifecycle status.
func (h *Host) Status(name string) (Status, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	p, ok := h.plugins[name]
	if !ok {
		return 0, false
	}
	return p.status, true
}

// Shutdown unloads every plugin.
func (h *Host) Shutdown() {
	for _, name := range h.Plugins() {
		_ = h.Unload(name)
	}
}

// announce publishes a lifecycle event on the base bus.
func (h *Host) announce(eventType topic.Topic, m *Manifest) {
	_ = h.base.Emit(eventType, events.PluginLifecycle{
		PluginID: m.Name,
		Version:  m.Version,
	}, event.WithSource("host"))
}

// reportPluginError is the boundary callback for every plugin: faults
// contained inside a plugin surface to the rest of the system as
// plugin:error events.
func (h *Host) reportPluginError(err error, pluginID string) {
	_ = h.base.Emit(events.TopicPluginError, events.PluginError{
		PluginID: pluginID,
		Message:  err.Error(),
	}, event.WithSource("host"))
}
