package model

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Job is the snapshot of a request handed to the transport. It holds no
// reference to the resident request, so the transport can run it on any
// goroutine or serialize it to an external queue.
type Job struct {
	ID         string          `json:"id"`
	RequestID  string          `json:"request_id"`
	Kind       string          `json:"kind"`
	Verb       Verb            `json:"verb"`
	URI        string          `json:"uri"`
	Params     Params          `json:"params,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
}

// NewJob snapshots r. Non-GET payloads are encoded as JSON.
func NewJob(r *Request) (*Job, error) {
	j := &Job{
		ID:         uuid.NewString(),
		RequestID:  r.ID(),
		Kind:       r.Kind(),
		Verb:       r.Verb(),
		URI:        r.URI(),
		Params:     r.Params().Clone(),
		EnqueuedAt: time.Now(),
	}
	if r.Verb() != GET && r.Resource() != nil {
		payload, err := json.Marshal(r.Resource())
		if err != nil {
			return nil, fmt.Errorf("model: encode payload of %s: %w", r.ID(), err)
		}
		j.Payload = payload
	}
	return j, nil
}

// Session is the transport-side handle of a completed job. The receiver
// releases it once the completion has been processed.
type Session interface {
	Release() error
}

// Completion is the single result the transport reports per job.
type Completion struct {
	ResultCode int
	// Entity is an echo of the request carrying the resulting resource.
	// It is a separate value from the resident request.
	Entity  *Request
	Session Session
}

// Receiver accepts completions from the transport.
type Receiver interface {
	Deliver(Completion)
}

// NopSession is a Session with nothing to release.
type NopSession struct{}

func (NopSession) Release() error { return nil }
