package security

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/gridkit/gridbus/internal/event"
)

// ErrorBoundary contains faults escaping plugin code. Fire-and-forget
// paths swallow the fault after reporting it; request-response paths
// report it and still surface it to the caller.
type ErrorBoundary struct {
	pluginID string
	onError  func(err error, pluginID string)
	logger   *zap.Logger
}

// NewErrorBoundary creates a boundary for one plugin. onError may be
// nil; a panicking onError is logged and never re-raised.
func NewErrorBoundary(pluginID string, onError func(err error, pluginID string), opts ...Option) *ErrorBoundary {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &ErrorBoundary{
		pluginID: pluginID,
		onError:  onError,
		logger:   cfg.logger,
	}
}

// Wrap runs fn, containing any panic. The fault is reported and never
// re-raised.
func (eb *ErrorBoundary) Wrap(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			eb.report(fmt.Errorf("plugin panic: %v", r))
		}
	}()
	fn()
}

// WrapHandler adapts a bus handler so its errors and panics are
// reported through the boundary and never reach the bus as failures.
func (eb *ErrorBoundary) WrapHandler(h event.Handler) event.Handler {
	return event.HandlerFunc(func(ev event.Event) error {
		defer func() {
			if r := recover(); r != nil {
				eb.report(fmt.Errorf("plugin panic: %v", r))
			}
		}()
		if err := h.Handle(ev); err != nil {
			eb.report(err)
		}
		return nil
	})
}

// WrapAsync wraps fn so its error or panic is reported as a side
// effect but still returned to the caller, which owns the outcome.
func (eb *ErrorBoundary) WrapAsync(fn func() error) func() error {
	return func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("plugin panic: %v", r)
				eb.report(err)
			}
		}()
		if err = fn(); err != nil {
			eb.report(err)
		}
		return err
	}
}

// report delivers a fault to the owner callback, containing callback
// panics.
func (eb *ErrorBoundary) report(err error) {
	eb.logger.Debug("plugin fault contained",
		zap.String("plugin", eb.pluginID),
		zap.Error(err))

	if eb.onError == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			eb.logger.Debug("error callback panicked",
				zap.String("plugin", eb.pluginID),
				zap.Any("recovered", r))
		}
	}()
	eb.onError(err, eb.pluginID)
}
