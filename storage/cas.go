// Package storage defines the content-addressed store that receiving peers
// keep signed artifacts in.
package storage

import "github.com/ipfs/go-cid"

// CAS stores immutable blobs keyed by their CIDv1 (raw + sha2-256).
//
// Put is idempotent and derives the CID from the bytes written. Get returns
// ErrNotFound for an absent CID and never returns bytes that do not hash to it.
type CAS interface {
	Put(bytes []byte) (cid.Cid, error)
	Get(id cid.Cid) ([]byte, error)
	Has(id cid.Cid) bool
}
