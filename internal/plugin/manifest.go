package plugin

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/gridkit/gridbus/internal/plugin/security"
)

// Manifest describes a plugin: identity, entry point, the capabilities
// it requests, and an optional quota. It is loaded from a plugin.json
// in the plugin's directory.
type Manifest struct {
	Name        string `json:"name"`
	Version     string `json:"version"`
	Description string `json:"description"`
	Author      string `json:"author"`

	// Main is the relative path to the entry Lua file.
	Main string `json:"main"`

	// Capabilities the plugin requests; the host decides what to grant.
	Capabilities []security.Capability `json:"capabilities"`

	// Quota are optional per-second ceilings. Absent fields are
	// unmetered.
	Quota *QuotaSpec `json:"quota"`

	// path is the plugin directory, set on load.
	path string
}

// QuotaSpec is the manifest form of a security.Quota.
type QuotaSpec struct {
	MaxEventsPerSecond        *int64 `json:"maxEventsPerSecond"`
	MaxHandlerMillisPerSecond *int64 `json:"maxHandlerMillisPerSecond"`
	MaxMemoryBytes            *int64 `json:"maxMemoryBytes"`
}

// ToQuota converts the spec to a security quota.
func (q *QuotaSpec) ToQuota() security.Quota {
	return security.Quota{
		MaxEventsPerSecond:        q.MaxEventsPerSecond,
		MaxHandlerMillisPerSecond: q.MaxHandlerMillisPerSecond,
		MaxMemoryBytes:            q.MaxMemoryBytes,
	}
}

// Validation errors.
var (
	ErrMissingName       = errors.New("manifest: name is required")
	ErrInvalidName       = errors.New("manifest: name must be lowercase alphanumeric with hyphens")
	ErrInvalidVersion    = errors.New("manifest: version must be valid semver")
	ErrInvalidMain       = errors.New("manifest: main must be a .lua file")
	ErrInvalidCapability = errors.New("manifest: invalid capability")
	ErrInvalidQuota      = errors.New("manifest: quota values must be non-negative")
)

// namePattern validates plugin names.
var namePattern = regexp.MustCompile(`^[a-z][a-z0-9-]*[a-z0-9]$|^[a-z]$`)

// semverPattern validates version strings (simplified semver).
var semverPattern = regexp.MustCompile(`^\d+\.\d+\.\d+(-[a-zA-Z0-9.-]+)?(\+[a-zA-Z0-9.-]+)?$`)

// capabilityPattern validates capability strings: "*" or colon-joined
// segments with an optional trailing ":*".
var capabilityPattern = regexp.MustCompile(`^\*$|^[a-zA-Z0-9_-]+(:[a-zA-Z0-9_-]+)*(:\*)?$`)

// LoadManifest loads and validates a manifest file.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}
	m.path = filepath.Dir(path)
	m.applyDefaults()

	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// LoadManifestFromDir loads plugin.json from a plugin directory.
func LoadManifestFromDir(dir string) (*Manifest, error) {
	return LoadManifest(filepath.Join(dir, "plugin.json"))
}

// Discover loads every plugin.json found one level under root.
// Directories without a manifest are skipped; a malformed manifest
// fails the discovery.
func Discover(root string) ([]*Manifest, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("failed to read plugins dir: %w", err)
	}

	var manifests []*Manifest
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		dir := filepath.Join(root, e.Name())
		if _, err := os.Stat(filepath.Join(dir, "plugin.json")); err != nil {
			continue
		}
		m, err := LoadManifestFromDir(dir)
		if err != nil {
			return nil, fmt.Errorf("plugin %s: %w", e.Name(), err)
		}
		manifests = append(manifests, m)
	}
	return manifests, nil
}

// applyDefaults sets default values for optional fields.
func (m *Manifest) applyDefaults() {
	if m.Main == "" {
		m.Main = "init.lua"
	}
	if m.Version == "" {
		m.Version = "0.0.0"
	}
}

// Validate checks that the manifest is well-formed.
func (m *Manifest) Validate() error {
	if m.Name == "" {
		return ErrMissingName
	}
	if !namePattern.MatchString(m.Name) {
		return fmt.Errorf("%w: %s", ErrInvalidName, m.Name)
	}
	if !semverPattern.MatchString(m.Version) {
		return fmt.Errorf("%w: %s", ErrInvalidVersion, m.Version)
	}
	if filepath.Ext(m.Main) != ".lua" || strings.Contains(m.Main, "..") {
		return fmt.Errorf("%w: %s", ErrInvalidMain, m.Main)
	}

	for _, cap := range m.Capabilities {
		if !capabilityPattern.MatchString(string(cap)) {
			return fmt.Errorf("%w: %q", ErrInvalidCapability, cap)
		}
	}

	if m.Quota != nil {
		for _, v := range []*int64{
			m.Quota.MaxEventsPerSecond,
			m.Quota.MaxHandlerMillisPerSecond,
			m.Quota.MaxMemoryBytes,
		} {
			if v != nil && *v < 0 {
				return fmt.Errorf("%w: %d", ErrInvalidQuota, *v)
			}
		}
	}
	return nil
}

// Path returns the plugin directory.
func (m *Manifest) Path() string {
	return m.path
}

// MainPath returns the full path to the entry Lua file.
func (m *Manifest) MainPath() string {
	return filepath.Join(m.path, m.Main)
}
