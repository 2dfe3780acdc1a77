package policy

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"rest-lifecycle/internal/model"
)

// Fingerprint refuses to resend a write identical to the last one committed
// for the same identity within ttl. Identity, verb, URI and the encoded
// payload make up the fingerprint.
type Fingerprint struct {
	committed *gocache.Cache
}

// NewFingerprint remembers committed writes for ttl.
func NewFingerprint(ttl time.Duration) *Fingerprint {
	return &Fingerprint{committed: gocache.New(ttl, 2*ttl)}
}

func (f *Fingerprint) CheckRequest(r *model.Request) bool {
	last, found := f.committed.Get(r.ID())
	if !found {
		return true
	}
	sum, ok := fingerprint(r)
	if !ok {
		return true
	}
	return last.(string) != sum
}

// Committed records the fingerprint of a successfully written request.
func (f *Fingerprint) Committed(r *model.Request) {
	if sum, ok := fingerprint(r); ok {
		f.committed.SetDefault(r.ID(), sum)
	}
}

// Forget drops the committed fingerprint of id.
func (f *Fingerprint) Forget(id string) {
	f.committed.Delete(id)
}

func fingerprint(r *model.Request) (string, bool) {
	h := sha256.New()
	h.Write([]byte(r.Verb()))
	h.Write([]byte{0})
	h.Write([]byte(r.URI()))
	h.Write([]byte{0})
	if res := r.Resource(); res != nil {
		payload, err := json.Marshal(res)
		if err != nil {
			return "", false
		}
		h.Write(payload)
	}
	return hex.EncodeToString(h.Sum(nil)), true
}
