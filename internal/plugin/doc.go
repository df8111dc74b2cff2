// Package plugin is the isolation layer between untrusted plugins and
// the shared event bus. Each plugin gets an EventSandbox: a private
// local bus whose traffic is forwarded to and from the base bus under
// capability checks, quota gating and payload sanitization. The
// PluginEventForwarder manages sandboxes, the CrossPluginBridge wires
// channels between them, and the Host runs plugin logic as embedded
// Lua scripts.
package plugin
