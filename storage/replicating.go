package storage

import (
	"fmt"

	"github.com/ipfs/go-cid"

	"pangea.dev/signkit/cidutil"
)

// Backend is a CAS with a name for logs and error messages.
type Backend struct {
	Name string
	CAS  CAS
}

// Replicated writes every artifact to all backends and reads from the first
// backend that has it. A peer uses it to keep mirror copies of what it accepts.
type Replicated struct {
	Backends []Backend
}

var _ CAS = Replicated{}

// Put writes bytes to every backend in order and stops at the first failure.
// All backends must agree on the CID computed locally.
func (r Replicated) Put(bytes []byte) (cid.Cid, error) {
	want, err := cidutil.Of(bytes)
	if err != nil {
		return cid.Undef, err
	}
	if len(r.Backends) == 0 {
		return cid.Undef, ErrNoBackends
	}
	for _, b := range r.Backends {
		if b.CAS == nil {
			return cid.Undef, fmt.Errorf("storage: backend %q has no store", b.Name)
		}
		got, err := b.CAS.Put(bytes)
		if err != nil {
			return cid.Undef, fmt.Errorf("storage: backend %q: %w", b.Name, err)
		}
		if !got.Equals(want) {
			return cid.Undef, fmt.Errorf("storage: backend %q: %w", b.Name, ErrCIDMismatch)
		}
	}
	return want, nil
}

func (r Replicated) Get(id cid.Cid) ([]byte, error) {
	for _, b := range r.Backends {
		if b.CAS == nil {
			continue
		}
		out, err := b.CAS.Get(id)
		if err == nil {
			return out, nil
		}
		if !IsNotFound(err) {
			return nil, fmt.Errorf("storage: backend %q: %w", b.Name, err)
		}
	}
	return nil, ErrNotFound
}

func (r Replicated) Has(id cid.Cid) bool {
	for _, b := range r.Backends {
		if b.CAS != nil && b.CAS.Has(id) {
			return true
		}
	}
	return false
}
