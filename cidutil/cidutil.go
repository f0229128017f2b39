// Package cidutil derives the content identifiers used for stored and
// distributed signed artifacts: CIDv1, "raw" multicodec, sha2-256.
package cidutil

import (
	"errors"
	"fmt"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
)

var ErrMismatch = errors.New("cidutil: content does not match cid")

// Of returns the CIDv1 (raw + sha2-256) of data.
func Of(data []byte) (cid.Cid, error) {
	sum, err := multihash.Sum(data, multihash.SHA2_256, -1)
	if err != nil {
		return cid.Undef, err
	}
	return cid.NewCidV1(cid.Raw, sum), nil
}

// String is Of rendered in the default base32 form, or "" on failure.
func String(data []byte) string {
	id, err := Of(data)
	if err != nil {
		// multihash.Sum only fails for unknown codes or bad lengths.
		return ""
	}
	return id.String()
}

// Parse decodes s and requires the raw + sha2-256 CIDv1 shape.
func Parse(s string) (cid.Cid, error) {
	id, err := cid.Decode(s)
	if err != nil {
		return cid.Undef, err
	}
	if id.Version() != 1 || id.Type() != cid.Raw {
		return cid.Undef, fmt.Errorf("cidutil: %s is not a raw CIDv1", s)
	}
	if id.Prefix().MhType != multihash.SHA2_256 {
		return cid.Undef, fmt.Errorf("cidutil: %s is not sha2-256", s)
	}
	return id, nil
}

// Verify recomputes the CID of data and compares it with id.
func Verify(id cid.Cid, data []byte) error {
	got, err := Of(data)
	if err != nil {
		return err
	}
	if !got.Equals(id) {
		return fmt.Errorf("%w: want %s, got %s", ErrMismatch, id, got)
	}
	return nil
}
