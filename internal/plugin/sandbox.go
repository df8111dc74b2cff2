package plugin

import (
	"encoding/json"

	"go.uber.org/zap"

	"github.com/gridkit/gridbus/internal/event"
	"github.com/gridkit/gridbus/internal/event/topic"
	"github.com/gridkit/gridbus/internal/plugin/security"
)

// Metadata keys the sandbox stamps onto every forwarded event. They
// always overwrite plugin-supplied values.
const (
	MetaSandboxed = "sandboxed"
	MetaPluginID  = "pluginId"
)

// SandboxOption configures an EventSandbox.
type SandboxOption func(*sandboxConfig)

type sandboxConfig struct {
	quotas  *security.QuotaManager
	monitor *security.ResourceMonitor
	logger  *zap.Logger
}

func defaultSandboxConfig() sandboxConfig {
	return sandboxConfig{
		logger: zap.NewNop(),
	}
}

// WithQuotaManager attaches a quota manager; local emissions are then
// gated on the events resource before forwarding to the base bus.
func WithQuotaManager(qm *security.QuotaManager) SandboxOption {
	return func(c *sandboxConfig) {
		c.quotas = qm
	}
}

// WithResourceMonitor attaches a resource monitor that accounts every
// forwarded emission.
func WithResourceMonitor(rm *security.ResourceMonitor) SandboxOption {
	return func(c *sandboxConfig) {
		c.monitor = rm
	}
}

// WithSandboxLogger sets the sandbox and local bus logger.
func WithSandboxLogger(l *zap.Logger) SandboxOption {
	return func(c *sandboxConfig) {
		if l != nil {
			c.logger = l
		}
	}
}

// EventSandbox pairs a plugin-private local bus with the shared base
// bus. Plugin code only ever touches the local bus; the sandbox
// forwards events across the boundary in both directions, dropping
// anything the plugin's capabilities do not cover.
//
// Loop prevention is provenance-based: events forwarded base→local
// carry FromBase and are never forwarded back out; events forwarded
// local→base carry Sandboxed and are never forwarded back in, to this
// or any other sandbox.
type EventSandbox struct {
	pluginID string
	base     *event.Bus
	local    *event.Bus
	perms    *security.PermissionManager
	quotas   *security.QuotaManager
	monitor  *security.ResourceMonitor
	logger   *zap.Logger

	unsubLocal func()
	unsubBase  func()
}

// NewEventSandbox creates a sandbox for pluginID over the shared base
// bus and immediately wires the two forwarding subscriptions. The base
// bus is shared, never owned; the local bus is created and owned here.
func NewEventSandbox(pluginID string, base *event.Bus, perms *security.PermissionManager, opts ...SandboxOption) *EventSandbox {
	cfg := defaultSandboxConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	s := &EventSandbox{
		pluginID: pluginID,
		base:     base,
		local:    event.New(event.WithLogger(cfg.logger)),
		perms:    perms,
		quotas:   cfg.quotas,
		monitor:  cfg.monitor,
		logger:   cfg.logger,
	}

	// Forwarding runs at IMMEDIATE on both sides so crossing the
	// boundary never re-queues: a boundary hop is one synchronous
	// re-emit, which also makes deadlock impossible.
	s.unsubLocal, _ = s.local.On(topic.Wildcard,
		event.HandlerFunc(s.forwardToBase), event.WithPriority(event.PriorityImmediate))
	s.unsubBase, _ = base.On(topic.Wildcard,
		event.HandlerFunc(s.forwardToLocal), event.WithPriority(event.PriorityImmediate))

	return s
}

// PluginID returns the owning plugin's id.
func (s *EventSandbox) PluginID() string {
	return s.pluginID
}

// Local returns the plugin-facing bus.
func (s *EventSandbox) Local() *event.Bus {
	return s.local
}

// Emit emits on the local bus. Whether the event also reaches the base
// bus depends on the plugin's emit capabilities and quota.
func (s *EventSandbox) Emit(eventType topic.Topic, payload any, opts ...event.EmitOption) error {
	return s.local.Emit(eventType, payload, opts...)
}

// On subscribes on the local bus.
func (s *EventSandbox) On(pattern topic.Topic, h event.Handler, opts ...event.SubscribeOption) (func(), error) {
	return s.local.On(pattern, h, opts...)
}

// Once subscribes on the local bus for a single delivery.
func (s *EventSandbox) Once(pattern topic.Topic, h event.Handler, opts ...event.SubscribeOption) (func(), error) {
	return s.local.Once(pattern, h, opts...)
}

// Off removes a local subscription by handler identity.
func (s *EventSandbox) Off(pattern topic.Topic, h event.Handler) bool {
	return s.local.Off(pattern, h)
}

// forwardToBase relays a locally emitted event into the base bus.
// Denials are silent: a plugin must not learn which event types exist
// by probing.
func (s *EventSandbox) forwardToBase(ev event.Event) error {
	if ev.Provenance.FromBase {
		return nil
	}
	if !s.perms.Has(s.pluginID, security.Capability("emit:"+ev.Type.String())) {
		s.logger.Debug("sandbox emit denied",
			zap.String("plugin", s.pluginID),
			zap.String("topic", ev.Type.String()))
		return nil
	}
	if s.quotas != nil && !s.quotas.Check(s.pluginID, security.ResourceEvents, 1) {
		return nil
	}

	payload := SanitizePayload(ev.Payload)
	if s.monitor != nil {
		s.monitor.RecordEventEmission(s.pluginID, payloadBytes(payload))
	}

	md := ev.CloneMetadata()
	md[MetaSandboxed] = true
	md[MetaPluginID] = s.pluginID

	return s.base.Emit(ev.Type, payload,
		event.WithEmitPriority(event.PriorityImmediate),
		event.WithSource("plugin:"+s.pluginID),
		event.WithMetadata(md),
		event.WithProvenance(event.Provenance{PluginID: s.pluginID, Sandboxed: true}))
}

// forwardToLocal relays a base bus event into the local bus when the
// plugin may receive it.
func (s *EventSandbox) forwardToLocal(ev event.Event) error {
	if ev.Provenance.Sandboxed {
		return nil
	}
	if !s.perms.Has(s.pluginID, security.Capability("receive:"+ev.Type.String())) {
		return nil
	}

	return s.local.Emit(ev.Type, ev.Payload,
		event.WithEmitPriority(event.PriorityImmediate),
		event.WithSource(ev.Source),
		event.WithMetadata(ev.Metadata),
		event.WithProvenance(event.Provenance{FromBase: true}))
}

// Destroy tears the sandbox down: both forwarding subscriptions are
// removed from their buses, so repeated create/destroy cycles leave no
// dead listeners on the base bus, and the local bus is cleared and
// closed. Listeners other sandboxes or the host placed on the base bus
// are never touched.
func (s *EventSandbox) Destroy() {
	s.unsubBase()
	s.unsubLocal()
	s.local.Clear()
	s.local.Close()
}

// payloadBytes estimates a sanitized payload's wire size. Sanitized
// payloads are JSON-shaped by construction; anything that still fails
// to marshal accounts as zero.
func payloadBytes(payload any) int64 {
	if payload == nil {
		return 0
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return 0
	}
	return int64(len(data))
}
