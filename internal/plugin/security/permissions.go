package security

import (
	"strings"
	"sync"
)

// Capability is a permission string such as "emit:row:add". A
// capability may be an exact string, the universal grant "*", or a
// namespace grant ending in ":*" such as "emit:*".
type Capability string

// matches reports whether the granted capability covers want. An empty
// want never matches.
func (c Capability) matches(want Capability) bool {
	if want == "" {
		return false
	}
	if c == "*" || c == want {
		return true
	}
	if strings.HasSuffix(string(c), ":*") {
		prefix := string(c[:len(c)-1])
		return strings.HasPrefix(string(want), prefix)
	}
	return false
}

// PermissionManager tracks granted capabilities per plugin.
//
// Revocations are recorded in a shadow set and always win: once a
// capability string is revoked for a plugin, no later grant, including
// "*", makes a check for it pass again until Clear.
type PermissionManager struct {
	mu sync.RWMutex

	granted map[string]map[Capability]bool
	revoked map[string]map[Capability]bool
}

// NewPermissionManager creates an empty permission manager.
func NewPermissionManager() *PermissionManager {
	return &PermissionManager{
		granted: make(map[string]map[Capability]bool),
		revoked: make(map[string]map[Capability]bool),
	}
}

// Grant adds capabilities to a plugin's granted set. Granting is
// idempotent and does not remove revocation records.
func (pm *PermissionManager) Grant(pluginID string, caps ...Capability) {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	set := pm.granted[pluginID]
	if set == nil {
		set = make(map[Capability]bool)
		pm.granted[pluginID] = set
	}
	for _, cap := range caps {
		if cap == "" {
			continue
		}
		set[cap] = true
	}
}

// Revoke removes a capability from a plugin's granted set and records
// it in the revoked shadow set.
func (pm *PermissionManager) Revoke(pluginID string, cap Capability) {
	if cap == "" {
		return
	}

	pm.mu.Lock()
	defer pm.mu.Unlock()

	delete(pm.granted[pluginID], cap)

	set := pm.revoked[pluginID]
	if set == nil {
		set = make(map[Capability]bool)
		pm.revoked[pluginID] = set
	}
	set[cap] = true
}

// Has reports whether the plugin holds the capability. Revocations are
// consulted first; an empty capability or unknown plugin is false.
func (pm *PermissionManager) Has(pluginID string, cap Capability) bool {
	if cap == "" {
		return false
	}

	pm.mu.RLock()
	defer pm.mu.RUnlock()

	for r := range pm.revoked[pluginID] {
		if r.matches(cap) {
			return false
		}
	}
	for g := range pm.granted[pluginID] {
		if g.matches(cap) {
			return true
		}
	}
	return false
}

// HasAll reports whether the plugin holds every capability. An empty
// list is vacuously true.
func (pm *PermissionManager) HasAll(pluginID string, caps ...Capability) bool {
	for _, cap := range caps {
		if !pm.Has(pluginID, cap) {
			return false
		}
	}
	return true
}

// HasAny reports whether the plugin holds at least one capability. An
// empty list is vacuously false.
func (pm *PermissionManager) HasAny(pluginID string, caps ...Capability) bool {
	for _, cap := range caps {
		if pm.Has(pluginID, cap) {
			return true
		}
	}
	return false
}

// Permissions returns the plugin's granted capability strings.
func (pm *PermissionManager) Permissions(pluginID string) []Capability {
	pm.mu.RLock()
	defer pm.mu.RUnlock()

	set := pm.granted[pluginID]
	caps := make([]Capability, 0, len(set))
	for cap := range set {
		caps = append(caps, cap)
	}
	return caps
}

// Clear removes all grant and revocation records for a plugin.
func (pm *PermissionManager) Clear(pluginID string) {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	delete(pm.granted, pluginID)
	delete(pm.revoked, pluginID)
}
