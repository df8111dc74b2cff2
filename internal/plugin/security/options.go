package security

import "go.uber.org/zap"

// Option configures a security manager.
type Option func(*config)

type config struct {
	logger *zap.Logger
}

func defaultConfig() config {
	return config{
		logger: zap.NewNop(),
	}
}

// WithLogger sets the manager's logger. Quota denials log at warn,
// contained faults at debug.
func WithLogger(l *zap.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.logger = l
		}
	}
}
