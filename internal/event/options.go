package event

import "go.uber.org/zap"

// Option configures a Bus.
type Option func(*busConfig)

type busConfig struct {
	logger *zap.Logger
}

func defaultBusConfig() busConfig {
	return busConfig{
		logger: zap.NewNop(),
	}
}

// WithLogger sets the bus logger. Handler faults and scheduler panics
// are logged at debug level; they are never propagated to emitters.
func WithLogger(l *zap.Logger) Option {
	return func(c *busConfig) {
		if l != nil {
			c.logger = l
		}
	}
}

// SubscribeOption configures a subscription.
type SubscribeOption func(*subConfig)

type subConfig struct {
	tier   Priority
	once   bool
	filter FilterFunc
}

func defaultSubConfig() subConfig {
	return subConfig{tier: PriorityNormal}
}

// WithPriority sets the subscription's priority tier.
func WithPriority(p Priority) SubscribeOption {
	return func(c *subConfig) {
		c.tier = p
	}
}

// WithOnce auto-removes the subscription after its first delivery.
func WithOnce() SubscribeOption {
	return func(c *subConfig) {
		c.once = true
	}
}

// WithFilter sets a per-subscription delivery predicate.
func WithFilter(f FilterFunc) SubscribeOption {
	return func(c *subConfig) {
		c.filter = f
	}
}

// EmitOption configures a single emission.
type EmitOption func(*emitConfig)

type emitConfig struct {
	tier       Priority
	source     string
	metadata   map[string]any
	provenance Provenance
}

func defaultEmitConfig() emitConfig {
	return emitConfig{tier: PriorityNormal}
}

// WithEmitPriority sets the dispatch tier for this emission.
// PriorityImmediate runs matched handlers synchronously in the
// caller's stack frame.
func WithEmitPriority(p Priority) EmitOption {
	return func(c *emitConfig) {
		c.tier = p
	}
}

// WithSource sets the event's source string.
func WithSource(source string) EmitOption {
	return func(c *emitConfig) {
		c.source = source
	}
}

// WithMetadata sets the event's metadata map. The map is used as-is;
// callers sharing a map across emissions should pass a copy.
func WithMetadata(m map[string]any) EmitOption {
	return func(c *emitConfig) {
		c.metadata = m
	}
}

// WithProvenance stamps boundary provenance onto the emission. This is
// a host-side hook used by the sandbox layer; plugin-facing surfaces
// never expose it.
func WithProvenance(p Provenance) EmitOption {
	return func(c *emitConfig) {
		c.provenance = p
	}
}
