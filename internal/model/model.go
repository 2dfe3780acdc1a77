package model

// Verb is the HTTP method of a request.
type Verb string

const (
	GET    Verb = "GET"
	POST   Verb = "POST"
	PUT    Verb = "PUT"
	DELETE Verb = "DELETE"
)

// Valid reports whether v is one of the supported methods.
func (v Verb) Valid() bool {
	switch v {
	case GET, POST, PUT, DELETE:
		return true
	}
	return false
}

// Params carries opaque extra parameters attached to a request.
// The transport sends them as query parameters.
type Params map[string]string

// Clone returns an independent copy of p.
func (p Params) Clone() Params {
	if p == nil {
		return nil
	}
	out := make(Params, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// State is the application-level state of a resource representation.
type State int

const (
	StateNone State = iota
	StateOK
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateOK:
		return "ok"
	case StateFailed:
		return "failed"
	default:
		return "none"
	}
}

const (
	// CodeUnset is the result code of a request that never completed.
	CodeUnset = -1
	// CodeTransportFault is reported when no HTTP response was obtained.
	CodeTransportFault = 0
)

// SuccessRange is the inclusive range of result codes treated as success.
type SuccessRange struct {
	Min int
	Max int
}

// DefaultSuccessRange is [200, 210]. It is narrower than the HTTP 2xx class
// and kept configurable until product confirms the intended boundary.
var DefaultSuccessRange = SuccessRange{Min: 200, Max: 210}

// Contains reports whether code is a success code.
func (r SuccessRange) Contains(code int) bool {
	return code >= r.Min && code <= r.Max
}
