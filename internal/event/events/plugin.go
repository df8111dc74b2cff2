package events

import "github.com/gridkit/gridbus/internal/event/topic"

// Plugin lifecycle event topics, emitted by the host on the base bus.
const (
	// TopicPluginLoaded is published when a plugin sandbox is created.
	TopicPluginLoaded topic.Topic = "plugin:loaded"

	// TopicPluginActivated is published when a plugin finishes activation.
	TopicPluginActivated topic.Topic = "plugin:activated"

	// TopicPluginDeactivated is published when a plugin deactivates.
	TopicPluginDeactivated topic.Topic = "plugin:deactivated"

	// TopicPluginUnloaded is published when a plugin sandbox is destroyed.
	TopicPluginUnloaded topic.Topic = "plugin:unloaded"

	// TopicPluginError is published when a plugin fault is contained.
	TopicPluginError topic.Topic = "plugin:error"

	// TopicPluginQuotaExceeded is published when a plugin hits a quota
	// ceiling and its emission is dropped.
	TopicPluginQuotaExceeded topic.Topic = "plugin:quota-exceeded"
)

// PluginLifecycle is the payload for plugin lifecycle topics.
type PluginLifecycle struct {
	// PluginID identifies the plugin.
	PluginID string

	// Version is the plugin's manifest version, if known.
	Version string
}

// PluginError is the payload for TopicPluginError.
type PluginError struct {
	// PluginID identifies the faulting plugin.
	PluginID string

	// Message is the contained error's text.
	Message string
}

// PluginQuotaExceeded is the payload for TopicPluginQuotaExceeded.
type PluginQuotaExceeded struct {
	// PluginID identifies the plugin.
	PluginID string

	// Resource names the exhausted resource.
	Resource string

	// Limit is the configured ceiling.
	Limit int64
}

// ChannelNamespace is the topic namespace used by cross-plugin
// channels; a channel named "chat" exchanges events under
// "channel:chat:*".
const ChannelNamespace = "channel"

// ChannelTopic builds the concrete topic for a message on a named
// channel: ChannelTopic("chat", "message") -> "channel:chat:message".
func ChannelTopic(name, suffix string) topic.Topic {
	return topic.Join(ChannelNamespace, name, suffix)
}

// ChannelPattern builds the subscription pattern covering every topic
// on a named channel: ChannelPattern("chat") -> "channel:chat:*".
func ChannelPattern(name string) topic.Topic {
	return topic.Join(ChannelNamespace, name, topic.Wildcard)
}
