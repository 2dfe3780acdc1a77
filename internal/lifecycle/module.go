package lifecycle

import (
	"log/slog"

	"rest-lifecycle/internal/model"
)

// Policy decides whether a non-GET request is actually sent. It must not
// block and is called on the manager's control goroutine.
type Policy interface {
	CheckRequest(r *model.Request) bool
}

// PolicyFunc adapts a function to Policy.
type PolicyFunc func(r *model.Request) bool

func (f PolicyFunc) CheckRequest(r *model.Request) bool { return f(r) }

// Recorder is implemented by policies that track committed writes. The
// manager calls Committed after a non-GET request completes successfully.
type Recorder interface {
	Committed(r *model.Request)
}

// Module bundles the application-specific pieces registered once on a
// manager before any request is dispatched.
type Module interface {
	Name() string
	Init() error
	Policy() Policy
}

type module struct {
	name   string
	policy Policy
}

// NewModule returns a Module with no initialization step.
func NewModule(name string, policy Policy) Module {
	return &module{name: name, policy: policy}
}

func (m *module) Name() string   { return m.name }
func (m *module) Init() error    { return nil }
func (m *module) Policy() Policy { return m.policy }

// Notifier surfaces informational signals such as a suppressed dispatch.
type Notifier interface {
	Notify(requestID, message string)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(requestID, message string)

func (f NotifierFunc) Notify(requestID, message string) { f(requestID, message) }

type logNotifier struct {
	logger *slog.Logger
}

func (n logNotifier) Notify(requestID, message string) {
	n.logger.Info(message, slog.String("request_id", requestID))
}
