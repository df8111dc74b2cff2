package security

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Resource names a metered resource class.
type Resource string

const (
	// ResourceEvents meters event emissions per second.
	ResourceEvents Resource = "events"

	// ResourceHandlerTime meters handler execution milliseconds per second.
	ResourceHandlerTime Resource = "handler-time"

	// ResourceMemory meters payload bytes per second.
	ResourceMemory Resource = "memory"
)

// Quota holds optional per-second ceilings for one plugin. A nil field
// leaves that resource unmetered; a ceiling of exactly 0 denies every
// positive request.
type Quota struct {
	// MaxEventsPerSecond limits event emissions.
	MaxEventsPerSecond *int64

	// MaxHandlerMillisPerSecond limits cumulative handler time.
	MaxHandlerMillisPerSecond *int64

	// MaxMemoryBytes limits cumulative payload bytes.
	MaxMemoryBytes *int64
}

// Limit is a convenience for building Quota literals.
func Limit(v int64) *int64 {
	return &v
}

func (q Quota) ceiling(r Resource) *int64 {
	switch r {
	case ResourceEvents:
		return q.MaxEventsPerSecond
	case ResourceHandlerTime:
		return q.MaxHandlerMillisPerSecond
	case ResourceMemory:
		return q.MaxMemoryBytes
	default:
		return nil
	}
}

// usageWindow is one plugin's consumption within the current 1s window.
type usageWindow struct {
	start time.Time
	used  map[Resource]int64
}

// BreachHook is invoked when a quota check denies a request.
type BreachHook func(pluginID string, resource Resource, limit int64)

// QuotaManager enforces sliding per-second quotas for plugins.
//
// Check is read-compare-commit: a denied request never consumes quota,
// so a plugin at its ceiling keeps the budget it already spent and the
// next window starts clean.
type QuotaManager struct {
	mu sync.Mutex

	quotas    map[string]Quota
	usage     map[string]*usageWindow
	suspended map[string]bool

	onBreach BreachHook
	logger   *zap.Logger

	// now is indirected for tests.
	now func() time.Time
}

// NewQuotaManager creates an empty quota manager.
func NewQuotaManager(opts ...Option) *QuotaManager {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &QuotaManager{
		quotas:    make(map[string]Quota),
		usage:     make(map[string]*usageWindow),
		suspended: make(map[string]bool),
		logger:    cfg.logger,
		now:       time.Now,
	}
}

// SetQuota replaces a plugin's quota wholesale. Accumulated usage in
// the current window is kept.
func (qm *QuotaManager) SetQuota(pluginID string, q Quota) {
	qm.mu.Lock()
	defer qm.mu.Unlock()
	qm.quotas[pluginID] = q
}

// SetBreachHook sets the callback invoked on every denied check.
func (qm *QuotaManager) SetBreachHook(hook BreachHook) {
	qm.mu.Lock()
	defer qm.mu.Unlock()
	qm.onBreach = hook
}

// Check reports whether the plugin may consume amount units of the
// resource, committing the consumption when allowed. An unconfigured
// resource allows without bookkeeping. A suspended plugin is denied
// outright.
func (qm *QuotaManager) Check(pluginID string, resource Resource, amount int64) bool {
	qm.mu.Lock()

	if qm.suspended[pluginID] {
		qm.mu.Unlock()
		return false
	}

	q, ok := qm.quotas[pluginID]
	if !ok {
		qm.mu.Unlock()
		return true
	}
	limit := q.ceiling(resource)
	if limit == nil {
		qm.mu.Unlock()
		return true
	}

	w := qm.window(pluginID)
	if w.used[resource]+amount > *limit {
		hook := qm.onBreach
		qm.mu.Unlock()

		qm.logger.Warn("quota exceeded",
			zap.String("plugin", pluginID),
			zap.String("resource", string(resource)),
			zap.Int64("limit", *limit))
		if hook != nil {
			hook(pluginID, resource, *limit)
		}
		return false
	}

	w.used[resource] += amount
	qm.mu.Unlock()
	return true
}

// window returns the plugin's current usage window, starting a fresh
// one when the previous window is older than a second. Caller holds mu.
func (qm *QuotaManager) window(pluginID string) *usageWindow {
	now := qm.now()
	w := qm.usage[pluginID]
	if w == nil || now.Sub(w.start) > time.Second {
		w = &usageWindow{start: now, used: make(map[Resource]int64)}
		qm.usage[pluginID] = w
	}
	return w
}

// Usage returns the plugin's consumption of a resource in the current
// window.
func (qm *QuotaManager) Usage(pluginID string, resource Resource) int64 {
	qm.mu.Lock()
	defer qm.mu.Unlock()

	w := qm.usage[pluginID]
	if w == nil || qm.now().Sub(w.start) > time.Second {
		return 0
	}
	return w.used[resource]
}

// ResetUsage discards the plugin's current window.
func (qm *QuotaManager) ResetUsage(pluginID string) {
	qm.mu.Lock()
	defer qm.mu.Unlock()
	delete(qm.usage, pluginID)
}

// Suspend denies every subsequent check for the plugin until Resume.
func (qm *QuotaManager) Suspend(pluginID string) {
	qm.mu.Lock()
	defer qm.mu.Unlock()
	qm.suspended[pluginID] = true
}

// Resume lifts a suspension.
func (qm *QuotaManager) Resume(pluginID string) {
	qm.mu.Lock()
	defer qm.mu.Unlock()
	delete(qm.suspended, pluginID)
}

// IsSuspended reports whether the plugin is suspended.
func (qm *QuotaManager) IsSuspended(pluginID string) bool {
	qm.mu.Lock()
	defer qm.mu.Unlock()
	return qm.suspended[pluginID]
}

// Remove drops all quota state for a plugin.
func (qm *QuotaManager) Remove(pluginID string) {
	qm.mu.Lock()
	defer qm.mu.Unlock()

	delete(qm.quotas, pluginID)
	delete(qm.usage, pluginID)
	delete(qm.suspended, pluginID)
}
