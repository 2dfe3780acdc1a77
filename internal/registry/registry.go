// Package registry holds the requests known to a lifecycle manager, keyed by
// identity. A Registry has a single writer and takes no locks.
package registry

import (
	"errors"
	"fmt"

	"rest-lifecycle/internal/model"
)

// ErrNotFound matches every NotFoundError.
var ErrNotFound = errors.New("registry: request not found")

// NotFoundError reports an identity absent from the registry.
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("registry: request %q not found", e.ID)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// Registry is an insertion-ordered collection of requests.
type Registry struct {
	requests []*model.Request
}

func New() *Registry {
	return &Registry{}
}

// CreateOrGet returns the request registered under id, creating and
// inserting one of the given kind when there is none.
func (r *Registry) CreateOrGet(id, kind string) *model.Request {
	if req := r.find(id); req != nil {
		return req
	}
	req := model.NewRequest(id, kind)
	r.requests = append(r.requests, req)
	return req
}

// Adopt returns the request registered under req's identity, inserting req
// itself when the identity is absent.
func (r *Registry) Adopt(req *model.Request) *model.Request {
	if resident := r.find(req.ID()); resident != nil {
		return resident
	}
	r.requests = append(r.requests, req)
	return req
}

// Get returns the request registered under id or a *NotFoundError.
func (r *Registry) Get(id string) (*model.Request, error) {
	if req := r.find(id); req != nil {
		return req, nil
	}
	return nil, &NotFoundError{ID: id}
}

// Remove drops the request registered under id. Absent ids are ignored.
func (r *Registry) Remove(id string) {
	for i, req := range r.requests {
		if req.ID() == id {
			r.requests = append(r.requests[:i], r.requests[i+1:]...)
			return
		}
	}
}

// Each calls fn for every request in insertion order. Requests for which fn
// returns true are removed after the pass, so fn may add requests safely.
func (r *Registry) Each(fn func(*model.Request) bool) {
	var drop []*model.Request
	for _, req := range r.Snapshot() {
		if fn(req) {
			drop = append(drop, req)
		}
	}
	for _, req := range drop {
		r.removeEntry(req)
	}
}

// Snapshot returns the registered requests in insertion order.
func (r *Registry) Snapshot() []*model.Request {
	out := make([]*model.Request, len(r.requests))
	copy(out, r.requests)
	return out
}

func (r *Registry) Len() int {
	return len(r.requests)
}

func (r *Registry) removeEntry(target *model.Request) {
	for i, req := range r.requests {
		if req == target {
			r.requests = append(r.requests[:i], r.requests[i+1:]...)
			return
		}
	}
}

func (r *Registry) find(id string) *model.Request {
	for _, req := range r.requests {
		if req.ID() == id {
			return req
		}
	}
	return nil
}
