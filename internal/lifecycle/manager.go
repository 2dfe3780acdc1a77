// Package lifecycle orchestrates REST requests on behalf of a consumer: it
// keeps one request per identity, refuses to send a request that is still
// in flight, routes transport completions back to the registered request
// and holds listener delivery while the consumer is paused.
//
// A Manager is driven from a single control goroutine. Either call its
// methods from that goroutine only, or run Run and reach it through Call.
// The transport reports back through Deliver, which is safe from any
// goroutine.
package lifecycle

import (
	"log/slog"

	"rest-lifecycle/internal/metrics"
	"rest-lifecycle/internal/model"
	"rest-lifecycle/internal/registry"
)

// Transport runs jobs asynchronously. Start must not block on the network
// and must eventually call receiver.Deliver exactly once for the job.
type Transport interface {
	Start(job *model.Job, receiver model.Receiver)
}

// Outcome is the result of a dispatch attempt.
type Outcome int

const (
	// Dispatched means the job was handed to the transport.
	Dispatched Outcome = iota
	// AlreadyPending means the dispatch was suppressed, either because the
	// identity is in flight or because the policy refused it.
	AlreadyPending
)

func (o Outcome) String() string {
	if o == Dispatched {
		return "dispatched"
	}
	return "already_pending"
}

const pendingMessage = "Request already pending"

// Manager is the request lifecycle manager.
type Manager struct {
	transport  Transport
	registry   *registry.Registry
	module     Module
	policy     Policy
	notifier   Notifier
	success    model.SuccessRange
	paused     bool
	generateID func() string

	logger  *slog.Logger
	metrics *metrics.Collector

	mailboxSize int
	completions chan model.Completion
	calls       chan call
	done        chan struct{}
}

// New creates a manager sending jobs through transport. A module must be
// registered before the verb methods can be used.
func New(transport Transport, opts ...Option) *Manager {
	m := &Manager{
		transport:   transport,
		registry:    registry.New(),
		success:     model.DefaultSuccessRange,
		generateID:  defaultIDGenerator,
		logger:      slog.Default(),
		mailboxSize: 64,
		done:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.notifier == nil {
		m.notifier = logNotifier{logger: m.logger}
	}
	m.completions = make(chan model.Completion, m.mailboxSize)
	m.calls = make(chan call, m.mailboxSize)
	return m
}

// RegisterModule initializes mod and installs its policy. It may be called once.
func (m *Manager) RegisterModule(mod Module) error {
	if m.module != nil {
		return ErrModuleRegistered
	}
	if err := mod.Init(); err != nil {
		return err
	}
	m.module = mod
	m.policy = mod.Policy()
	m.logger.Info("module registered", slog.String("module", mod.Name()))
	return nil
}

// GenerateID returns a fresh identity for CreateOrGet.
func (m *Manager) GenerateID() string {
	return m.generateID()
}

// CreateOrGet returns the request registered under id, creating it with the
// given resource kind when absent. Requests created while paused start paused.
func (m *Manager) CreateOrGet(id, kind string) *model.Request {
	before := m.registry.Len()
	r := m.registry.CreateOrGet(id, kind)
	if m.registry.Len() != before {
		if m.paused {
			r.Pause()
		}
		m.metrics.SetRegistrySize(m.registry.Len())
	}
	return r
}

// Get returns the request registered under id; the error matches ErrNotFound.
func (m *Manager) Get(id string) (*model.Request, error) {
	return m.registry.Get(id)
}

// Requests returns the registered requests in insertion order.
func (m *Manager) Requests() []*model.Request {
	return m.registry.Snapshot()
}

// Discard drops the request registered under id without delivering anything.
func (m *Manager) Discard(id string) {
	m.registry.Remove(id)
	m.metrics.SetRegistrySize(m.registry.Len())
}

func (m *Manager) Len() int {
	return m.registry.Len()
}

// Fetch issues a GET for uri. An outcome counts as delivered only when a
// finished or failed listener ran; a request without listeners stays
// registered after completion until it is sent again or Discard drops it.
func (m *Manager) Fetch(r *model.Request, uri string) (Outcome, error) {
	return m.FetchWithParams(r, uri, nil)
}

// FetchWithParams issues a GET for uri with extra parameters.
func (m *Manager) FetchWithParams(r *model.Request, uri string, params model.Params) (Outcome, error) {
	return m.send(r, model.GET, uri, params, nil)
}

// Create issues a POST of resource to uri.
func (m *Manager) Create(r *model.Request, uri string, resource model.Resource) (Outcome, error) {
	return m.send(r, model.POST, uri, nil, resource)
}

// Update issues a PUT of resource to uri.
func (m *Manager) Update(r *model.Request, uri string, resource model.Resource) (Outcome, error) {
	return m.send(r, model.PUT, uri, nil, resource)
}

// Remove issues a DELETE of resource at uri.
func (m *Manager) Remove(r *model.Request, uri string, resource model.Resource) (Outcome, error) {
	return m.send(r, model.DELETE, uri, nil, resource)
}

func (m *Manager) send(r *model.Request, verb model.Verb, uri string, params model.Params, resource model.Resource) (Outcome, error) {
	if r == nil {
		return AlreadyPending, ErrNilRequest
	}
	if m.module == nil {
		return AlreadyPending, ErrNoModule
	}
	resident := m.adopt(r)
	if resident.Pending() {
		return m.suppress(resident, verb, metrics.ReasonPending), nil
	}
	if verb != model.GET {
		resident.SetResource(resource)
	}
	resident.SetVerb(verb)
	resident.SetURI(uri)
	if params != nil {
		resident.SetParams(params)
	}
	return m.dispatch(resident)
}

// adopt makes r resident so its completion can be routed back after it was
// removed by an earlier delivery.
func (m *Manager) adopt(r *model.Request) *model.Request {
	before := m.registry.Len()
	resident := m.registry.Adopt(r)
	if m.registry.Len() != before {
		if m.paused {
			resident.Pause()
		}
		m.metrics.SetRegistrySize(m.registry.Len())
	}
	return resident
}

// dispatch sends r unless it is pending or refused by the policy.
func (m *Manager) dispatch(r *model.Request) (Outcome, error) {
	if r.Verb() != model.GET && !m.policy.CheckRequest(r) {
		return m.suppress(r, r.Verb(), metrics.ReasonVetoed), nil
	}
	if r.Pending() {
		return m.suppress(r, r.Verb(), metrics.ReasonPending), nil
	}

	job, err := model.NewJob(r)
	if err != nil {
		return AlreadyPending, err
	}
	r.SetPending(true)
	r.TriggerStarted()
	m.metrics.RecordDispatched(string(r.Verb()))
	m.logger.Debug("request dispatched",
		slog.String("request_id", r.ID()),
		slog.String("job_id", job.ID),
		slog.String("verb", string(r.Verb())),
		slog.String("uri", r.URI()),
	)
	m.transport.Start(job, m)
	return Dispatched, nil
}

func (m *Manager) suppress(r *model.Request, verb model.Verb, reason string) Outcome {
	m.metrics.RecordSuppressed(string(verb), reason)
	m.logger.Debug("dispatch suppressed",
		slog.String("request_id", r.ID()),
		slog.String("reason", reason),
	)
	m.notifier.Notify(r.ID(), pendingMessage)
	return AlreadyPending
}

// OnComplete applies a transport completion to the resident request, fires
// its terminal listeners and drops it from the registry once delivered.
func (m *Manager) OnComplete(c model.Completion) {
	defer m.release(c.Session)

	if c.Entity == nil {
		m.logger.Warn("completion without entity", slog.Int("result_code", c.ResultCode))
		return
	}
	r, err := m.registry.Get(c.Entity.ID())
	if err != nil {
		m.metrics.RecordOrphan()
		m.logger.Warn("completion for unknown request",
			slog.String("request_id", c.Entity.ID()),
			slog.Int("result_code", c.ResultCode),
		)
		return
	}

	success := m.success.Contains(c.ResultCode)
	r.SetPending(false)
	r.SetResultCode(c.ResultCode)
	if rec, ok := m.policy.(Recorder); ok && success && r.Verb() != model.GET {
		// recorded before the echo replaces the payload that was sent
		rec.Committed(r)
	}
	r.SetResource(c.Entity.Resource())

	var delivered bool
	if success {
		m.metrics.RecordCompletion(string(r.Verb()), "success")
		delivered = r.TriggerFinished()
		if !delivered {
			m.metrics.RecordDeferred("success")
		}
	} else {
		m.metrics.RecordCompletion(string(r.Verb()), "failure")
		delivered = r.TriggerFailed()
		if !delivered {
			m.metrics.RecordDeferred("failure")
		}
	}

	m.logger.Debug("request completed",
		slog.String("request_id", r.ID()),
		slog.Int("result_code", c.ResultCode),
		slog.Bool("delivered", delivered),
	)

	// a listener may have sent the request again
	if delivered && !r.Pending() {
		m.registry.Remove(r.ID())
		m.metrics.SetRegistrySize(m.registry.Len())
	}
}

func (m *Manager) release(s model.Session) {
	if s == nil {
		return
	}
	if err := s.Release(); err != nil {
		m.logger.Warn("session release failed", slog.String("error", err.Error()))
	}
}

// Pause defers finished and failed listeners of every request until Resume.
func (m *Manager) Pause() {
	m.paused = true
	m.registry.Each(func(r *model.Request) bool {
		r.Pause()
		return false
	})
}

// Resume delivers queued terminal events and drops the requests that were
// delivered. Requests without a queued event stay registered.
func (m *Manager) Resume() {
	m.paused = false
	m.registry.Each(func(r *model.Request) bool {
		return r.Resume() && !r.Pending()
	})
	m.metrics.SetRegistrySize(m.registry.Len())
}

// Paused reports whether listener delivery is deferred.
func (m *Manager) Paused() bool {
	return m.paused
}

// RetryFailed re-dispatches every request whose resource is idle, not OK and
// carries a result code outside the success range. It returns the number of
// requests handed to the transport.
func (m *Manager) RetryFailed() (int, error) {
	if m.module == nil {
		return 0, ErrNoModule
	}
	n := 0
	for _, r := range m.registry.Snapshot() {
		res := r.Resource()
		if res == nil || res.Transacting() || res.State() == model.StateOK || m.success.Contains(res.ResultCode()) {
			continue
		}
		outcome, err := m.dispatch(r)
		if err != nil {
			m.logger.Warn("retry failed",
				slog.String("request_id", r.ID()),
				slog.String("error", err.Error()),
			)
			continue
		}
		if outcome == Dispatched {
			m.metrics.RecordRetry()
			n++
		}
	}
	return n, nil
}
