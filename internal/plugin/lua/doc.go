// Package lua embeds plugin scripts with gopher-lua. Scripts run in a
// restricted state (no io, os, debug or package libraries) and talk to
// the host exclusively through an "events" module bound to their
// sandbox's local bus.
package lua
