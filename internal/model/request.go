package model

// Listener is called with the resident request when an event fires.
type Listener func(*Request)

type event int

const (
	eventNone event = iota
	eventFinished
	eventFailed
)

// Request is one logical REST operation tracked by identity. It is owned by
// the lifecycle manager's control goroutine and is not safe for concurrent use.
type Request struct {
	id         string
	kind       string
	verb       Verb
	uri        string
	params     Params
	resource   Resource
	pending    bool
	resultCode int

	onStarted  []Listener
	onFinished []Listener
	onFailed   []Listener

	paused bool
	queued event
}

// NewRequest creates an idle request of the given resource kind.
func NewRequest(id, kind string) *Request {
	if kind == "" {
		kind = RawKind
	}
	return &Request{id: id, kind: kind, resultCode: CodeUnset}
}

func (r *Request) ID() string         { return r.id }
func (r *Request) Kind() string       { return r.kind }
func (r *Request) Verb() Verb         { return r.verb }
func (r *Request) URI() string        { return r.uri }
func (r *Request) Params() Params     { return r.params }
func (r *Request) Resource() Resource { return r.resource }
func (r *Request) Pending() bool      { return r.pending }
func (r *Request) ResultCode() int    { return r.resultCode }

func (r *Request) SetVerb(v Verb)           { r.verb = v }
func (r *Request) SetURI(uri string)        { r.uri = uri }
func (r *Request) SetParams(p Params)       { r.params = p }
func (r *Request) SetResource(res Resource) { r.resource = res }
func (r *Request) SetPending(pending bool)  { r.pending = pending }
func (r *Request) SetResultCode(code int)   { r.resultCode = code }
func (r *Request) OnStarted(l Listener)     { r.onStarted = append(r.onStarted, l) }
func (r *Request) OnFinished(l Listener)    { r.onFinished = append(r.onFinished, l) }
func (r *Request) OnFailed(l Listener)      { r.onFailed = append(r.onFailed, l) }
func (r *Request) Paused() bool             { return r.paused }
func (r *Request) HasQueuedEvent() bool     { return r.queued != eventNone }

// TriggerStarted fires the started listeners. Started listeners are never
// deferred by Pause.
func (r *Request) TriggerStarted() {
	fire(r, r.onStarted)
}

// TriggerFinished fires the finished listeners. It reports whether the
// event was delivered: false while paused (the event is queued) or when no
// finished listener is registered.
func (r *Request) TriggerFinished() bool {
	return r.trigger(eventFinished)
}

// TriggerFailed is TriggerFinished for the failure path.
func (r *Request) TriggerFailed() bool {
	return r.trigger(eventFailed)
}

// Pause defers terminal events until Resume.
func (r *Request) Pause() {
	r.paused = true
}

// Resume stops deferring and flushes the queued terminal event, if any.
// It reports whether a queued event reached at least one listener.
func (r *Request) Resume() bool {
	r.paused = false
	ev := r.queued
	if ev == eventNone {
		return false
	}
	r.queued = eventNone
	return r.deliver(ev)
}

func (r *Request) trigger(ev event) bool {
	if r.paused {
		// one slot: the latest outcome wins
		r.queued = ev
		return false
	}
	return r.deliver(ev)
}

func (r *Request) deliver(ev event) bool {
	var listeners []Listener
	switch ev {
	case eventFinished:
		listeners = r.onFinished
	case eventFailed:
		listeners = r.onFailed
	}
	if len(listeners) == 0 {
		return false
	}
	fire(r, listeners)
	return true
}

func fire(r *Request, listeners []Listener) {
	for _, l := range listeners {
		l(r)
	}
}
