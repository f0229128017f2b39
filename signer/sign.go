package signer

import (
	"bytes"
	"crypto/ed25519"
	"encoding/hex"
	"fmt"

	"github.com/mr-tron/base58"
	"github.com/multiformats/go-multihash"
)

// Signer produces Ed25519 signatures. keystore.SigningKey implements it.
type Signer interface {
	PublicKey() ed25519.PublicKey
	Sign(msg []byte) ([]byte, error)
}

// Sign signs the multihash bytes.
func Sign(mh multihash.Multihash, s Signer) ([]byte, error) {
	if _, err := multihash.Decode(mh); err != nil {
		return nil, fmt.Errorf("signer: %w", err)
	}
	return s.Sign(mh)
}

// Verify is a plain Ed25519 verification of sig over mh.
func Verify(mh multihash.Multihash, sig []byte, pub ed25519.PublicKey) bool {
	if len(pub) != ed25519.PublicKeySize || len(sig) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(pub, mh, sig)
}

// SignArtifact hashes a and signs it with s. The artifact must name s's public
// key as its used_signing_key.
func SignArtifact(a *BuildArtifact, s Signer) (*SignedArtifact, error) {
	mh, err := Hash(a)
	if err != nil {
		return nil, err
	}
	key, _ := hex.DecodeString(a.UsedSigningKey)
	if !bytes.Equal(key, s.PublicKey()) {
		return nil, fieldError("used_signing_key", "does not match the signing key")
	}
	sig, err := Sign(mh, s)
	if err != nil {
		return nil, err
	}
	return &SignedArtifact{BuildArtifact: *a, Signature: hex.EncodeToString(sig)}, nil
}

// VerifyArtifact re-hashes sa and checks its signature against used_signing_key.
func VerifyArtifact(sa *SignedArtifact) error {
	if sa == nil {
		return fieldError("", "artifact is empty")
	}
	mh, err := Hash(&sa.BuildArtifact)
	if err != nil {
		return err
	}
	sig, err := hex.DecodeString(sa.Signature)
	if err != nil || len(sig) != ed25519.SignatureSize {
		return fieldError("signature", "must be a hex ed25519 signature")
	}
	pub, _ := hex.DecodeString(sa.UsedSigningKey)
	if !Verify(mh, sig, pub) {
		return ErrSignature
	}
	return nil
}

// KeyID is a short printable fingerprint of pub: base58 of its sha2-256
// multihash.
func KeyID(pub ed25519.PublicKey) string {
	mh, err := multihash.Sum(pub, multihash.SHA2_256, -1)
	if err != nil {
		return ""
	}
	return base58.Encode(mh)
}
