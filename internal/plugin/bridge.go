package plugin

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/gridkit/gridbus/internal/event"
	"github.com/gridkit/gridbus/internal/event/events"
	"github.com/gridkit/gridbus/internal/plugin/security"
)

// BridgeOption configures a CrossPluginBridge.
type BridgeOption func(*bridgeConfig)

type bridgeConfig struct {
	logger *zap.Logger
}

// WithBridgeLogger sets the bridge logger.
func WithBridgeLogger(l *zap.Logger) BridgeOption {
	return func(c *bridgeConfig) {
		if l != nil {
			c.logger = l
		}
	}
}

// CrossPluginBridge lets sets of plugins exchange events over named
// channels without any shared grant on the base bus. A channel named
// "chat" lives in the "channel:chat:*" topic namespace.
type CrossPluginBridge struct {
	mu sync.Mutex

	forwarder *PluginEventForwarder
	perms     *security.PermissionManager
	logger    *zap.Logger
	channels  map[string]*Channel
}

// NewCrossPluginBridge creates a bridge over the forwarder's sandboxes.
func NewCrossPluginBridge(f *PluginEventForwarder, perms *security.PermissionManager, opts ...BridgeOption) *CrossPluginBridge {
	cfg := bridgeConfig{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &CrossPluginBridge{
		forwarder: f,
		perms:     perms,
		logger:    cfg.logger,
		channels:  make(map[string]*Channel),
	}
}

// CreateChannel creates a channel and wires relays between the member
// sandboxes' local buses. Each member is granted the channel's emit
// and receive capabilities. Unknown members and duplicate channel
// names fail; both are host programming errors.
func (b *CrossPluginBridge) CreateChannel(name string, memberIDs ...string) (*Channel, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.channels[name]; ok {
		return nil, fmt.Errorf("%w: %s", ErrChannelExists, name)
	}

	members := make([]*EventSandbox, 0, len(memberIDs))
	for _, id := range memberIDs {
		s, ok := b.forwarder.Sandbox(id)
		if !ok {
			return nil, fmt.Errorf("%w: channel member %s", ErrSandboxNotFound, id)
		}
		members = append(members, s)
	}

	emitCap := security.Capability("emit:" + events.ChannelPattern(name).String())
	receiveCap := security.Capability("receive:" + events.ChannelPattern(name).String())

	ch := &Channel{
		name:    name,
		bridge:  b,
		emitCap: emitCap,
		members: members,
	}

	for _, m := range members {
		b.perms.Grant(m.PluginID(), emitCap, receiveCap)

		m := m
		unsub, err := m.Local().On(events.ChannelPattern(name),
			event.HandlerFunc(func(ev event.Event) error {
				return ch.relay(m, ev)
			}),
			event.WithPriority(event.PriorityImmediate))
		if err != nil {
			for _, u := range ch.unsubs {
				u()
			}
			return nil, err
		}
		ch.unsubs = append(ch.unsubs, unsub)
	}

	b.channels[name] = ch
	b.logger.Debug("channel created",
		zap.String("channel", name),
		zap.Strings("members", memberIDs))
	return ch, nil
}

// Channel returns a channel by name.
func (b *CrossPluginBridge) Channel(name string) (*Channel, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch, ok := b.channels[name]
	return ch, ok
}

// Channels returns the open channel names.
func (b *CrossPluginBridge) Channels() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	names := make([]string, 0, len(b.channels))
	for name := range b.channels {
		names = append(names, name)
	}
	return names
}

// Close closes every channel.
func (b *CrossPluginBridge) Close() {
	b.mu.Lock()
	channels := make([]*Channel, 0, len(b.channels))
	for _, ch := range b.channels {
		channels = append(channels, ch)
	}
	b.mu.Unlock()

	for _, ch := range channels {
		ch.Close()
	}
}

func (b *CrossPluginBridge) remove(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.channels, name)
}

// Channel is the forwarding wiring for one channel namespace. It owns
// no handler state beyond the relay subscriptions on its members'
// local buses.
type Channel struct {
	name    string
	bridge  *CrossPluginBridge
	emitCap security.Capability
	members []*EventSandbox
	unsubs  []func()

	mu     sync.Mutex
	closed bool
}

// Name returns the channel name.
func (c *Channel) Name() string {
	return c.name
}

// Members returns the member plugin ids.
func (c *Channel) Members() []string {
	ids := make([]string, 0, len(c.members))
	for _, m := range c.members {
		ids = append(ids, m.PluginID())
	}
	return ids
}

// relay fans one member's channel event out to the other members.
// Delivery is gated per receiving member by the channel capability, so
// a member whose grant was revoked mid-flight stops receiving without
// any rewiring.
func (c *Channel) relay(from *EventSandbox, ev event.Event) error {
	// Relayed and base-forwarded events carry FromBase; re-relaying
	// them would loop.
	if ev.Provenance.FromBase {
		return nil
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	for _, m := range c.members {
		if m.PluginID() == from.PluginID() {
			continue
		}
		if !c.bridge.perms.Has(m.PluginID(), c.emitCap) {
			continue
		}
		_ = m.Local().Emit(ev.Type, ev.Payload,
			event.WithEmitPriority(event.PriorityImmediate),
			event.WithSource("plugin:"+from.PluginID()),
			event.WithMetadata(ev.Metadata),
			event.WithProvenance(event.Provenance{
				PluginID: from.PluginID(),
				FromBase: true,
			}))
	}
	return nil
}

// Send broadcasts a host-originated message to every member holding
// the channel capability.
func (c *Channel) Send(suffix string, payload any) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrChannelClosed
	}
	c.mu.Unlock()

	eventType := events.ChannelTopic(c.name, suffix)
	for _, m := range c.members {
		if !c.bridge.perms.Has(m.PluginID(), c.emitCap) {
			continue
		}
		if err := m.Local().Emit(eventType, payload,
			event.WithEmitPriority(event.PriorityImmediate),
			event.WithSource("host"),
			event.WithProvenance(event.Provenance{FromBase: true})); err != nil {
			return err
		}
	}
	return nil
}

// Close unwires the relays and removes the channel from the bridge.
// Member capability grants are left in place.
func (c *Channel) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	for _, unsub := range c.unsubs {
		unsub()
	}
	c.bridge.remove(c.name)
}
