// Package policy provides dispatch policies deciding whether a write request
// is actually sent.
package policy

import (
	"rest-lifecycle/internal/lifecycle"
	"rest-lifecycle/internal/model"
)

// Always sends every request.
type Always struct{}

func (Always) CheckRequest(*model.Request) bool { return true }

// ResourceState refuses to resend a request whose resource already reflects
// a committed write: not transacting and in StateOK.
type ResourceState struct{}

func (ResourceState) CheckRequest(r *model.Request) bool {
	res := r.Resource()
	if res == nil {
		return true
	}
	return res.Transacting() || res.State() != model.StateOK
}

type all []lifecycle.Policy

// All sends a request only when every policy agrees. Committed is forwarded
// to the policies that record commits.
func All(policies ...lifecycle.Policy) lifecycle.Policy {
	return all(policies)
}

func (a all) CheckRequest(r *model.Request) bool {
	for _, p := range a {
		if !p.CheckRequest(r) {
			return false
		}
	}
	return true
}

func (a all) Committed(r *model.Request) {
	for _, p := range a {
		if rec, ok := p.(lifecycle.Recorder); ok {
			rec.Committed(r)
		}
	}
}
