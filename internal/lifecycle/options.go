package lifecycle

import (
	"log/slog"

	"github.com/google/uuid"

	"rest-lifecycle/internal/metrics"
	"rest-lifecycle/internal/model"
)

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the manager's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// WithMetrics enables metrics collection.
func WithMetrics(c *metrics.Collector) Option {
	return func(m *Manager) { m.metrics = c }
}

// WithNotifier replaces the default notifier, which logs.
func WithNotifier(n Notifier) Option {
	return func(m *Manager) { m.notifier = n }
}

// WithSuccessRange sets the result codes treated as success.
func WithSuccessRange(r model.SuccessRange) Option {
	return func(m *Manager) { m.success = r }
}

// WithMailboxSize sets the capacity of the completion and call mailboxes.
func WithMailboxSize(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.mailboxSize = n
		}
	}
}

// WithIDGenerator replaces the identity generator used by GenerateID.
func WithIDGenerator(gen func() string) Option {
	return func(m *Manager) { m.generateID = gen }
}

func defaultIDGenerator() string {
	return uuid.NewString()
}
