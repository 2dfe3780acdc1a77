package lifecycle

import (
	"context"
	"log/slog"

	"rest-lifecycle/internal/model"
)

type call struct {
	fn  func(*Manager) error
	err chan error
}

// Deliver implements model.Receiver. It hands c to the control goroutine
// running Run and may be called from any goroutine.
func (m *Manager) Deliver(c model.Completion) {
	select {
	case m.completions <- c:
	case <-m.done:
		m.logger.Warn("completion dropped, manager stopped")
		m.release(c.Session)
	}
}

// Run makes the calling goroutine the manager's control goroutine. It
// processes completions and calls until ctx is done.
func (m *Manager) Run(ctx context.Context) error {
	defer close(m.done)
	m.logger.Info("lifecycle manager running")
	for {
		select {
		case <-ctx.Done():
			m.logger.Info("lifecycle manager stopped", slog.Int("registered", m.registry.Len()))
			return ctx.Err()
		case c := <-m.completions:
			m.OnComplete(c)
		case cl := <-m.calls:
			cl.err <- cl.fn(m)
		}
	}
}

// Call runs fn on the control goroutine and waits for its result.
func (m *Manager) Call(ctx context.Context, fn func(*Manager) error) error {
	cl := call{fn: fn, err: make(chan error, 1)}
	select {
	case m.calls <- cl:
	case <-m.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-cl.err:
		return err
	case <-m.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}
