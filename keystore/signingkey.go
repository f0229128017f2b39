package keystore

import (
	"context"
	"crypto/ed25519"
	"sync"

	"github.com/awnumar/memguard"
)

// SigningKey is an unlocked signing key. The private key stays sealed in a
// memguard enclave and is only opened for the duration of a signature.
//
// A SigningKey is passed explicitly to whatever signs; there is no process-wide
// current key. Call Destroy when done.
type SigningKey struct {
	name    string
	version string
	pub     ed25519.PublicKey

	mu      sync.Mutex
	enclave *memguard.Enclave
}

// Unlock decrypts rec with password into a SigningKey.
func (s *Store) Unlock(ctx context.Context, rec *Record, password string) (*SigningKey, error) {
	priv, err := s.open(ctx, rec, password)
	if err != nil {
		return nil, err
	}
	pub := priv.Public().(ed25519.PublicKey)
	// NewEnclave wipes priv.
	enclave := memguard.NewEnclave(priv)
	return &SigningKey{name: rec.Name, version: rec.Version, pub: pub, enclave: enclave}, nil
}

func (k *SigningKey) Name() string    { return k.name }
func (k *SigningKey) Version() string { return k.version }

func (k *SigningKey) PublicKey() ed25519.PublicKey {
	out := make(ed25519.PublicKey, len(k.pub))
	copy(out, k.pub)
	return out
}

// Sign signs msg with the enclosed private key.
func (k *SigningKey) Sign(msg []byte) ([]byte, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.enclave == nil {
		return nil, ErrKeyDestroyed
	}
	buf, err := k.enclave.Open()
	if err != nil {
		return nil, newError(KindInternal, "", "open key enclave: "+err.Error(), err)
	}
	defer buf.Destroy()
	return ed25519.Sign(ed25519.PrivateKey(buf.Bytes()), msg), nil
}

// Destroy drops the enclave; later Sign calls fail with ErrKeyDestroyed.
func (k *SigningKey) Destroy() {
	k.mu.Lock()
	k.enclave = nil
	k.mu.Unlock()
}
