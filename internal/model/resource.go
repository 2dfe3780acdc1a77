package model

import (
	"encoding/json"
	"fmt"
	"sync"
)

// Resource is the representation attached to a request: the payload sent
// with writes and the result decoded from responses.
type Resource interface {
	Transacting() bool
	SetTransacting(bool)
	State() State
	SetState(State)
	ResultCode() int
	SetResultCode(int)
}

// BaseResource implements the bookkeeping half of Resource. Embed it in
// payload types; its fields are unexported so they never reach the wire.
type BaseResource struct {
	transacting bool
	state       State
	resultCode  int
}

// NewBaseResource returns a BaseResource with an unset result code.
func NewBaseResource() BaseResource {
	return BaseResource{resultCode: CodeUnset}
}

func (b *BaseResource) Transacting() bool      { return b.transacting }
func (b *BaseResource) SetTransacting(t bool)  { b.transacting = t }
func (b *BaseResource) State() State           { return b.state }
func (b *BaseResource) SetState(s State)       { b.state = s }
func (b *BaseResource) ResultCode() int        { return b.resultCode }
func (b *BaseResource) SetResultCode(code int) { b.resultCode = code }

// RawResource keeps the body undecoded. It is used when a kind is unknown
// or a body does not decode into its kind.
type RawResource struct {
	BaseResource
	Body json.RawMessage
}

func NewRawResource(body []byte) *RawResource {
	return &RawResource{BaseResource: NewBaseResource(), Body: json.RawMessage(body)}
}

// MarshalJSON sends the body as-is. A body that is not JSON is sent as a
// JSON string.
func (r *RawResource) MarshalJSON() ([]byte, error) {
	if len(r.Body) == 0 {
		return []byte("null"), nil
	}
	if !json.Valid(r.Body) {
		return json.Marshal(string(r.Body))
	}
	return r.Body, nil
}

// UnmarshalJSON stores a copy of data.
func (r *RawResource) UnmarshalJSON(data []byte) error {
	r.Body = append(r.Body[:0], data...)
	return nil
}

// RawKind names the fallback kind.
const RawKind = "raw"

// Kind describes a resource type: a name and a constructor for empty values.
type Kind struct {
	Name string
	New  func() Resource
}

// Kinds maps kind names to constructors. Kinds are registered once at
// startup; the transport resolves them when decoding responses.
type Kinds struct {
	mu    sync.RWMutex
	kinds map[string]Kind
}

func NewKinds() *Kinds {
	k := &Kinds{kinds: make(map[string]Kind)}
	k.kinds[RawKind] = Kind{Name: RawKind, New: func() Resource { return NewRawResource(nil) }}
	return k
}

// Register adds a kind. Registering the same name twice is an error.
func (k *Kinds) Register(kind Kind) error {
	if kind.Name == "" || kind.New == nil {
		return fmt.Errorf("model: kind needs a name and a constructor")
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	if _, exists := k.kinds[kind.Name]; exists {
		return fmt.Errorf("model: kind %q already registered", kind.Name)
	}
	k.kinds[kind.Name] = kind
	return nil
}

// Lookup returns the kind registered under name.
func (k *Kinds) Lookup(name string) (Kind, bool) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	kind, ok := k.kinds[name]
	return kind, ok
}

// New builds an empty resource of the named kind, or a RawResource when
// the kind is unknown.
func (k *Kinds) New(name string) Resource {
	if kind, ok := k.Lookup(name); ok {
		return kind.New()
	}
	return NewRawResource(nil)
}

// ResourceAs returns the request's resource as T.
func ResourceAs[T Resource](r *Request) (T, bool) {
	res, ok := r.Resource().(T)
	return res, ok
}
