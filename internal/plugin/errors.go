package plugin

import "errors"

// Registration and lifecycle errors. These surface synchronously at
// the call that caused them; runtime data errors inside dispatch never
// do.
var (
	ErrSandboxExists   = errors.New("plugin: sandbox already exists")
	ErrSandboxNotFound = errors.New("plugin: sandbox not found")
	ErrChannelExists   = errors.New("plugin: channel already exists")
	ErrChannelClosed   = errors.New("plugin: channel closed")
	ErrNotLoaded       = errors.New("plugin: not loaded")
	ErrAlreadyLoaded   = errors.New("plugin: already loaded")
	ErrNotActive       = errors.New("plugin: not active")
)
