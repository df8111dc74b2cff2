package security

import (
	"sync"
	"time"
)

// ResourceUsage is a snapshot of a plugin's cumulative consumption
// since it was first observed.
type ResourceUsage struct {
	EventsEmitted     int64
	BytesEmitted      int64
	HandlerTime       time.Duration
	HandlerExecutions int64
	FirstSeen         time.Time
}

// Thresholds are advisory ceilings on cumulative usage. A zero field
// disables that check.
type Thresholds struct {
	MaxEventsEmitted     int64
	MaxBytesEmitted      int64
	MaxHandlerTime       time.Duration
	MaxHandlerExecutions int64
}

// DefaultThresholds returns the host defaults.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MaxEventsEmitted:     1_000_000,
		MaxBytesEmitted:      100 * 1024 * 1024,
		MaxHandlerTime:       10 * time.Minute,
		MaxHandlerExecutions: 10_000_000,
	}
}

// SweepFunc is invoked per plugin by the monitoring ticker.
type SweepFunc func(pluginID string, usage ResourceUsage)

// ResourceMonitor accumulates per-plugin usage counters. It is purely
// observational: exceeding a threshold is reported to callers, never
// enforced. Accounting is independent of QuotaManager windows.
type ResourceMonitor struct {
	mu sync.RWMutex

	usage      map[string]*ResourceUsage
	thresholds Thresholds

	stop chan struct{}
	wg   sync.WaitGroup
}

// NewResourceMonitor creates a monitor with the given thresholds.
func NewResourceMonitor(thresholds Thresholds) *ResourceMonitor {
	return &ResourceMonitor{
		usage:      make(map[string]*ResourceUsage),
		thresholds: thresholds,
	}
}

// RecordEventEmission accounts one emitted event and its payload size.
func (rm *ResourceMonitor) RecordEventEmission(pluginID string, bytes int64) {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	u := rm.entry(pluginID)
	u.EventsEmitted++
	u.BytesEmitted += bytes
}

// RecordHandlerExecution accounts one handler run and its duration.
func (rm *ResourceMonitor) RecordHandlerExecution(pluginID string, d time.Duration) {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	u := rm.entry(pluginID)
	u.HandlerExecutions++
	u.HandlerTime += d
}

// entry returns the plugin's usage record, creating it on first
// observation. Caller holds mu.
func (rm *ResourceMonitor) entry(pluginID string) *ResourceUsage {
	u := rm.usage[pluginID]
	if u == nil {
		u = &ResourceUsage{FirstSeen: time.Now()}
		rm.usage[pluginID] = u
	}
	return u
}

// Usage returns a snapshot of the plugin's cumulative usage. The bool
// is false for a plugin never observed.
func (rm *ResourceMonitor) Usage(pluginID string) (ResourceUsage, bool) {
	rm.mu.RLock()
	defer rm.mu.RUnlock()

	u := rm.usage[pluginID]
	if u == nil {
		return ResourceUsage{}, false
	}
	return *u, true
}

// IsExceedingLimits reports whether any cumulative counter is past its
// threshold.
func (rm *ResourceMonitor) IsExceedingLimits(pluginID string) bool {
	rm.mu.RLock()
	defer rm.mu.RUnlock()

	u := rm.usage[pluginID]
	if u == nil {
		return false
	}
	t := rm.thresholds
	if t.MaxEventsEmitted > 0 && u.EventsEmitted > t.MaxEventsEmitted {
		return true
	}
	if t.MaxBytesEmitted > 0 && u.BytesEmitted > t.MaxBytesEmitted {
		return true
	}
	if t.MaxHandlerTime > 0 && u.HandlerTime > t.MaxHandlerTime {
		return true
	}
	if t.MaxHandlerExecutions > 0 && u.HandlerExecutions > t.MaxHandlerExecutions {
		return true
	}
	return false
}

// Reset discards a plugin's counters.
func (rm *ResourceMonitor) Reset(pluginID string) {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	delete(rm.usage, pluginID)
}

// StartMonitoring launches a ticker goroutine that invokes sweep for
// every tracked plugin each interval. Calling it again restarts the
// ticker.
func (rm *ResourceMonitor) StartMonitoring(interval time.Duration, sweep SweepFunc) {
	rm.StopMonitoring()

	rm.mu.Lock()
	rm.stop = make(chan struct{})
	stop := rm.stop
	rm.mu.Unlock()

	rm.wg.Add(1)
	go func() {
		defer rm.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				rm.sweep(sweep)
			}
		}
	}()
}

func (rm *ResourceMonitor) sweep(fn SweepFunc) {
	if fn == nil {
		return
	}

	rm.mu.RLock()
	snapshot := make(map[string]ResourceUsage, len(rm.usage))
	for id, u := range rm.usage {
		snapshot[id] = *u
	}
	rm.mu.RUnlock()

	for id, u := range snapshot {
		fn(id, u)
	}
}

// StopMonitoring stops the ticker goroutine, if running, and waits for
// it to exit.
func (rm *ResourceMonitor) StopMonitoring() {
	rm.mu.Lock()
	if rm.stop != nil {
		close(rm.stop)
		rm.stop = nil
	}
	rm.mu.Unlock()

	rm.wg.Wait()
}
